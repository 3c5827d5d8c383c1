package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
	"github.com/ftahirops/gentop/util"
)

const (
	maxEventRows = 8
	// leakTrendPerHour highlights fuel trends steeper than a running genset
	// normally burns.
	leakTrendPerHour = 20.0
)

func (m Model) View() string {
	if m.showHelp {
		return renderHelp(m.interval)
	}
	if m.res == nil {
		switch {
		case m.err != nil:
			return critStyle.Render("source error: "+m.err.Error()) + "\n"
		case m.ended:
			return dimStyle.Render("source produced no frames") + "\n"
		}
		return "Waiting for first frame..."
	}

	width := m.width
	if width == 0 {
		width = 100
	}

	var content string
	switch m.page {
	case PageEvents:
		active, completed := m.events.AllEvents()
		content = renderEventsPage(active, completed, m.evtSel, width)
	default:
		content = m.renderOverview(width)
	}

	lines := strings.Split(content, "\n")
	if maxLines := m.height - 2; maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n") + "\n" + m.renderStatusBar()
}

func (m Model) renderOverview(width int) string {
	res := m.res
	f := res.Frame
	innerW := pageInnerW(width)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("gentop  %s", f.Asset)))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  seq %d  %s", f.Sequence, f.Timestamp.Format("15:04:05"))))
	sb.WriteString("\n\n")
	sb.WriteString(renderBanner(res))
	sb.WriteString("\n\n")

	// Readings table
	counts := f.Counts()
	title := fmt.Sprintf("SENSORS  %d normal  %d warning  %d critical",
		counts[model.SeverityNormal], counts[model.SeverityWarning], counts[model.SeverityCritical])
	rows := []string{dimStyle.Render(
		padRight("SENSOR", colSensor) + " " + padLeft("VALUE", colValue) + "  " +
			padRight("SEVERITY", colSev) + " " + padLeft("RISK", colProb) + " ")}
	for i, r := range f.Readings {
		row := renderReadingRow(r)
		if i == m.selected {
			row = selectedStyle.Render(styledPad(row, innerW))
		}
		rows = append(rows, row)
	}
	sb.WriteString(boxSection(title, rows, innerW))

	sb.WriteString(boxSection("DERIVED", renderDerived(res, m.history), innerW))

	if sel, ok := m.selectedReading(); ok {
		var trend string
		if m.history != nil {
			data := m.history.Series(sel.ID)
			lo, hi := seriesRange(data, sel.Min, sel.Max)
			w := innerW - 16
			if w > 60 {
				w = 60
			}
			trend = sparkline(data, w, lo, hi)
		} else {
			trend = dimStyle.Render("no history")
		}
		sb.WriteString(boxSection("TREND  "+sel.ID, []string{trend}, innerW))
	}

	if recent := m.recentEvents(3); len(recent) > 0 {
		sb.WriteString(boxSection("RECENT EPISODES", recent, innerW))
	}
	return sb.String()
}

func renderBanner(res *engine.Result) string {
	st := res.State
	switch {
	case st.EmergencyActive && res.Transition == engine.TransitionLatched:
		return bannerCritStyle.Render("EMERGENCY STOP LATCHED: " + strings.Join(res.Derived.Triggers, ", "))
	case st.EmergencyActive && st.EmergencyClearStreak > 0:
		return bannerWarnStyle.Render(fmt.Sprintf("EMERGENCY STOP ACTIVE  clearing %d/2", st.EmergencyClearStreak))
	case st.EmergencyActive:
		msg := "EMERGENCY STOP ACTIVE"
		if len(res.Derived.Triggers) > 0 {
			msg += ": " + strings.Join(res.Derived.Triggers, ", ")
		}
		return bannerCritStyle.Render(msg)
	case res.Transition == engine.TransitionCleared:
		return bannerOKStyle.Render("EMERGENCY STOP CLEARED")
	}
	return bannerOKStyle.Render("RUNNING")
}

func renderReadingRow(r model.ScoredReading) string {
	val := r.Value.String()
	if v, ok := r.Value.Float(); ok {
		val = humanize.FtoaWithDigits(v, 2)
	}
	if r.Unit != "" {
		val += " " + r.Unit
	}
	sev := severityColor(r.Severity)
	return padRight(r.ID, colSensor) + " " +
		valueStyle.Render(padLeft(val, colValue)) + "  " +
		sev.Render(padRight(string(r.Severity), colSev)) + " " +
		probColor(r.RiskProbability).Render(padLeft(fmt.Sprintf("%.2f", r.RiskProbability), colProb)) + " " +
		probBar(r.RiskProbability, colBar)
}

func renderDerived(res *engine.Result, history *engine.History) []string {
	d := res.Derived
	yesNo := func(b bool) string {
		if b {
			return critStyle.Render("yes")
		}
		return okStyle.Render("no")
	}
	leak := okStyle.Render("none")
	switch d.FuelLeak {
	case engine.FuelLeakWarning:
		leak = warnStyle.Render("warning")
	case engine.FuelLeakCritical:
		leak = critStyle.Render("critical")
	}
	if d.FuelLeakCarried {
		leak += dimStyle.Render(" (carried)")
	}
	triggers := dimStyle.Render("none")
	if len(d.Triggers) > 0 {
		triggers = critStyle.Render(strings.Join(d.Triggers, ", "))
	}
	trend := dimStyle.Render("n/a")
	if rate, ok := fuelTrend(history); ok {
		trend = valueStyle.Render(fmt.Sprintf("%+.1f %%/h", rate))
		if rate < -leakTrendPerHour {
			trend = warnStyle.Render(fmt.Sprintf("%+.1f %%/h", rate))
		}
	}
	return []string{
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("ECU errors:"), 16), severityColor(d.ECUSeverity).Render(fmt.Sprintf("%d", d.ECUErrors))),
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("Fuel leak:"), 16), leak),
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("Fuel trend:"), 16), trend),
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("Overheat:"), 16), yesNo(d.Overheat)),
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("Candidate:"), 16), yesNo(d.EmergencyCandidate)),
		fmt.Sprintf("%s %s", styledPad(dimStyle.Render("Triggers:"), 16), triggers),
	}
}

// fuelTrend returns the fuel level slope over the history window in
// percent per hour.
func fuelTrend(h *engine.History) (float64, bool) {
	if h == nil || h.Len() < 2 {
		return 0, false
	}
	first, last := h.Get(0), h.Latest()
	if first == nil || last == nil {
		return 0, false
	}
	a, okA := first.Get(model.SensorFuelLevel)
	b, okB := last.Get(model.SensorFuelLevel)
	if !okA || !okB {
		return 0, false
	}
	va, okA := a.Value.Float()
	vb, okB := b.Value.Float()
	dt := last.Timestamp.Sub(first.Timestamp)
	if !okA || !okB || dt <= 0 {
		return 0, false
	}
	return util.PerHour(va, vb, dt), true
}

// recentEvents renders up to n episodes for the current asset, open first.
func (m Model) recentEvents(n int) []string {
	if m.events == nil || m.res == nil {
		return nil
	}
	var out []string
	if ev := m.events.ActiveEvent(m.res.Asset); ev != nil {
		out = append(out, critStyle.Render("ACTIVE")+"  "+eventSummary(*ev))
	}
	for _, ev := range m.events.Events() {
		if len(out) >= n {
			break
		}
		if ev.Asset == m.res.Asset {
			out = append(out, okStyle.Render("closed")+"  "+eventSummary(ev))
		}
	}
	return out
}

func eventSummary(ev model.EmergencyEvent) string {
	return fmt.Sprintf("%s  %s  %s",
		humanize.Time(ev.StartTime),
		strings.Join(ev.Triggers, ", "),
		dimStyle.Render(fmt.Sprintf("%d frames", ev.Frames)))
}

func renderEventsPage(active, completed []model.EmergencyEvent, selected, width int) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("EMERGENCY EPISODES  (%d active, %d closed)", len(active), len(completed))))
	sb.WriteString("\n\n")

	for _, ev := range active {
		sb.WriteString(critStyle.Render("  ACTIVE  "))
		sb.WriteString(fmt.Sprintf("%s  since %s  triggers: %s  peak critical: %d\n",
			valueStyle.Render(ev.Asset), humanize.Time(ev.StartTime),
			warnStyle.Render(strings.Join(ev.Triggers, ", ")), ev.PeakCritical))
	}
	if len(active) > 0 {
		sb.WriteString("\n")
	}

	if len(completed) == 0 {
		if len(active) == 0 {
			sb.WriteString(okStyle.Render("  No emergency stops recorded"))
			sb.WriteString("\n")
		}
		return sb.String()
	}

	hdr := fmt.Sprintf("  %-14s %-12s %9s  %-8s %s", "ASSET", "STARTED", "DURATION", "FRAMES", "TRIGGERS")
	sb.WriteString(headerStyle.Render(hdr))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("  " + strings.Repeat("─", max(width-4, 10))))
	sb.WriteString("\n")

	if selected >= len(completed) {
		selected = len(completed) - 1
	}
	for i, ev := range completed {
		if i >= maxEventRows && i > selected {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more\n", len(completed)-i)))
			break
		}
		line := fmt.Sprintf("  %-14s %-12s %9s  %-8d %s",
			truncate(ev.Asset, 14), humanize.Time(ev.StartTime), fmtDuration(ev.Duration), ev.Frames,
			strings.Join(ev.Triggers, ", "))
		if i == selected {
			sb.WriteString(selectedStyle.Render(line))
			sb.WriteString("\n")
			for _, te := range ev.Timeline {
				sb.WriteString(fmt.Sprintf("    %s %s %s\n", dimStyle.Render("->"),
					dimStyle.Render(te.Time.Format("15:04:05")), te.Message))
			}
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderStatusBar() string {
	var parts []string
	for i, name := range pageNames {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Page(i) == m.page {
			parts = append(parts, titleStyle.Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
	}
	status := fmt.Sprintf("%d frames  %.1f/s", m.frames, m.fps)
	switch {
	case m.ended:
		status += "  " + warnStyle.Render("source ended")
	case m.paused:
		status += "  " + warnStyle.Render("PAUSED")
	}
	if m.err != nil {
		status += "  " + critStyle.Render(truncate(m.err.Error(), 40))
	}
	return strings.Join(parts, " ") + "  " + dimStyle.Render(status) + "  " + helpStyle.Render("?:help q:quit")
}

func renderHelp(interval time.Duration) string {
	keys := [][2]string{
		{"q, ctrl+c", "quit"},
		{"tab, 1, 2", "switch page"},
		{"j/k, up/down", "select sensor or episode"},
		{"space, p", "pause"},
		{"n", "step one frame while paused"},
		{"?", "this help"},
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("gentop keys"))
	sb.WriteString("\n\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s %s\n", styledPad(valueStyle.Render(k[0]), 16), helpStyle.Render(k[1])))
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  any key to return  (refresh %s)", interval)))
	return sb.String()
}
