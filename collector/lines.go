package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ftahirops/gentop/model"
	"github.com/ftahirops/gentop/util"
)

// LineSource reads frames from "key: value" dumps. Frames are separated by
// a blank line or a "---" line; an "asset" key names the asset.
//
//	rpm: 1500
//	coolant_temp: 85.5 °C
//	fuel_leak: no
//	---
type LineSource struct {
	asset string
	now   func() time.Time

	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer
	closed  bool
}

// NewLineSource reads frames from r. Frames without an asset key belong to
// asset. If r is an io.Closer it is closed with the source.
func NewLineSource(r io.Reader, asset string) *LineSource {
	ls := &LineSource{asset: asset, now: time.Now, scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		ls.closer = c
	}
	return ls
}

// Next implements engine.SampleSource. It returns io.EOF after the last
// frame.
func (ls *LineSource) Next(ctx context.Context) (model.Sample, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return model.Sample{}, ErrSourceClosed
	}

	var block []string
	for ls.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return model.Sample{}, err
		}
		line := strings.TrimSpace(ls.scanner.Text())
		if line == "" || line == "---" {
			if len(block) > 0 {
				break
			}
			continue
		}
		block = append(block, line)
	}
	if err := ls.scanner.Err(); err != nil {
		return model.Sample{}, fmt.Errorf("read lines: %w", err)
	}
	if len(block) == 0 {
		return model.Sample{}, io.EOF
	}

	s := ParseLines(block)
	if s.Asset == "" {
		s.Asset = ls.asset
	}
	s.Time = ls.now()
	return s, nil
}

// Close implements engine.SampleSource.
func (ls *LineSource) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil
	}
	ls.closed = true
	if ls.closer != nil {
		return ls.closer.Close()
	}
	return nil
}

// ParseLines converts one "key: value" block into a sample. Keys go through
// the flat mapping; unknown keys are kept as-is with sorted order after the
// known ones.
func ParseLines(lines []string) model.Sample {
	kv := util.ParseKeyValueLines(lines)
	var s model.Sample
	if a, ok := kv["asset"]; ok {
		s.Asset = a
		delete(kv, "asset")
	}

	flat := make(map[string]any, len(kv))
	var unknown []string
	for k, v := range kv {
		if _, ok := Lookup(k); ok {
			flat[k] = parseScalar(v)
			continue
		}
		unknown = append(unknown, k)
	}
	s.Readings = MapFlat(flat)

	sort.Strings(unknown)
	for _, k := range unknown {
		s.Readings = append(s.Readings, model.Reading{ID: k, Value: model.ValueOf(parseScalar(kv[k]))})
	}
	return s
}

func parseScalar(s string) any {
	if v, ok := util.ParseNumber(s); ok {
		return v
	}
	if b, ok := util.ParseBool(s); ok {
		return b
	}
	if s == "" {
		return nil
	}
	return s
}
