package engine

import "github.com/ftahirops/gentop/model"

// clearStreakRequired is the number of consecutive stable frames needed to
// release a latched emergency stop.
const clearStreakRequired = 2

// Transition reports what a latch step did.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionLatched
	TransitionCleared
)

func (t Transition) String() string {
	switch t {
	case TransitionLatched:
		return "latched"
	case TransitionCleared:
		return "cleared"
	default:
		return "none"
	}
}

// EmergencyLatch is the emergency-stop state machine.
// A candidate frame latches it instantly. Releasing it requires
// clearStreakRequired consecutive frames with no candidate and every
// stabilization sensor normal; any other frame resets the streak.
type EmergencyLatch struct {
	Active      bool
	ClearStreak int
}

// LatchFromState extracts the latch fields of an analyzer state.
func LatchFromState(st model.AnalyzerState) EmergencyLatch {
	return EmergencyLatch{Active: st.EmergencyActive, ClearStreak: st.EmergencyClearStreak}
}

// Step returns the latch after one frame. The receiver is not modified.
func (l EmergencyLatch) Step(candidate, stable bool) (EmergencyLatch, Transition) {
	// Instant override: a trigger latches regardless of streak
	if candidate {
		next := EmergencyLatch{Active: true}
		if !l.Active {
			return next, TransitionLatched
		}
		return next, TransitionNone
	}

	if !stable {
		return EmergencyLatch{Active: l.Active}, TransitionNone
	}

	streak := l.ClearStreak + 1
	if streak < clearStreakRequired {
		return EmergencyLatch{Active: l.Active, ClearStreak: streak}, TransitionNone
	}
	if l.Active {
		return EmergencyLatch{}, TransitionCleared
	}
	return EmergencyLatch{}, TransitionNone
}
