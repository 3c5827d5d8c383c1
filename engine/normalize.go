package engine

// normalize returns a smooth 0..1 score for a metric value.
// Returns 0 below warn, linear ramp to 1 at crit, capped at 1.
func normalize(value, warn, crit float64) float64 {
	if crit <= warn {
		// Degenerate: treat as binary threshold at warn
		if value >= warn {
			return 1
		}
		return 0
	}
	if value <= warn {
		return 0
	}
	if value >= crit {
		return 1
	}
	return (value - warn) / (crit - warn)
}

// edgeProximity scores how close v sits to the nearer of lo and hi: 1 on a
// bound, falling linearly to 0 at half the span away from it. Distance is
// absolute, so values outside the bounds are treated the same way.
func edgeProximity(v, lo, hi float64) float64 {
	span := hi - lo
	if span < 1e-6 {
		span = 1e-6
	}
	dLo := v - lo
	if dLo < 0 {
		dLo = -dLo
	}
	dHi := hi - v
	if dHi < 0 {
		dHi = -dHi
	}
	dist := dLo
	if dHi < dist {
		dist = dHi
	}
	return 1 - normalize(dist/span, 0, 0.5)
}
