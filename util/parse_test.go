package util

import (
	"testing"
	"time"
)

func TestParseKeyValueLines(t *testing.T) {
	m := ParseKeyValueLines([]string{
		"rpm: 1500",
		"oil_pressure=3.2",
		"voltage 27.5 V",
		"# comment",
		"",
		"fuel_leak",
	})
	tests := []struct {
		key, want string
	}{
		{"rpm", "1500"},
		{"oil_pressure", "3.2"},
		{"voltage", "27.5 V"},
		{"fuel_leak", ""},
	}
	for _, tt := range tests {
		if got, ok := m[tt.key]; !ok || got != tt.want {
			t.Errorf("m[%q] = %q (present %v), want %q", tt.key, got, ok, tt.want)
		}
	}
	if _, ok := m["# comment"]; ok {
		t.Error("comment line parsed as key")
	}
	if len(m) != 4 {
		t.Errorf("len = %d, want 4", len(m))
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1500", 1500, true},
		{" 3.2 bar", 3.2, true},
		{"-4", -4, true},
		{"true", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseNumber(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "YES": true, "off": false, "False": false} {
		got, ok := ParseBool(in)
		if !ok || got != want {
			t.Errorf("ParseBool(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseBool("1.5"); ok {
		t.Error("ParseBool accepted a number")
	}
}

func TestRates(t *testing.T) {
	if got := Rate(10, 30, 2*time.Second); got != 10 {
		t.Errorf("Rate = %v, want 10", got)
	}
	if got := Rate(30, 10, time.Second); got != 0 {
		t.Errorf("Rate on wrap = %v, want 0", got)
	}
	if got := PerHour(50, 48, 30*time.Minute); got != -4 {
		t.Errorf("PerHour = %v, want -4", got)
	}
}
