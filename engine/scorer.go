package engine

import (
	"errors"
	"fmt"

	"github.com/ftahirops/gentop/model"
)

var (
	// ErrUnsupportedValue is returned when a sensor receives a value type its
	// rule cannot classify, e.g. a string for oil pressure.
	ErrUnsupportedValue = errors.New("unsupported value type")
	// ErrNonFinite is returned for NaN or infinite readings.
	ErrNonFinite = errors.New("non-finite value")
	// ErrScorerUnavailable is returned by a scorer that is not ready to serve,
	// such as a model-backed scorer before its model is loaded.
	ErrScorerUnavailable = errors.New("scorer unavailable")
)

// Fallback outcomes for readings the rule table does not know.
const (
	fallbackMin         = 0.0
	fallbackMax         = 1.0
	fallbackCritical    = 0.85
	fallbackWarning     = 0.60
	faultProbability    = 0.1
	unknownFlagCritical = 0.95
	unknownFlagNormal   = 0.05
)

// Scorer classifies one reading. Implementations may consult the analyzer
// state but must not modify it. A rule table backs the default
// implementation; a model-backed scorer can satisfy the same contract.
type Scorer interface {
	Score(r model.Reading, st model.AnalyzerState) (model.ScoredReading, error)
}

// RuleScorer scores readings with the built-in band tables.
type RuleScorer struct{}

// Score implements Scorer.
func (RuleScorer) Score(r model.Reading, st model.AnalyzerState) (model.ScoredReading, error) {
	kind := KindOf(r.ID)
	if kind == KindUnknown {
		return scoreUnknown(r)
	}
	rule, ok := RuleFor(kind, st)
	if !ok {
		return scoreUnknown(r)
	}
	b, err := rule.Classify(r.Value)
	if err != nil {
		return model.ScoredReading{}, fmt.Errorf("score %s=%s: %w", r.ID, r.Value, err)
	}
	return model.Score(r, b.Severity, b.Probability), nil
}

// scoreUnknown applies the generic rule for unrecognized sensor ids: numeric
// values are scored by how close they sit to the nearer declared bound.
func scoreUnknown(r model.Reading) (model.ScoredReading, error) {
	if b, ok := r.Value.Boolean(); ok {
		if b {
			return model.Score(r, model.SeverityCritical, unknownFlagCritical), nil
		}
		return model.Score(r, model.SeverityNormal, unknownFlagNormal), nil
	}
	v, ok := r.Value.Float()
	if !ok {
		return model.Score(r, model.SeverityNormal, faultProbability), nil
	}
	if err := r.Malformed(); err != nil {
		return model.ScoredReading{}, fmt.Errorf("score %s: %w", r.ID, err)
	}
	// zero or missing bounds take the defaults
	lo, hi := fallbackMin, fallbackMax
	if r.Min != nil && *r.Min != 0 {
		lo = *r.Min
	}
	if r.Max != nil && *r.Max != 0 {
		hi = *r.Max
	}
	p := edgeProximity(v, lo, hi)
	sev := model.SeverityNormal
	switch {
	case p > fallbackCritical:
		sev = model.SeverityCritical
	case p > fallbackWarning:
		sev = model.SeverityWarning
	}
	return model.Score(r, sev, p), nil
}

// SafeDefault is the neutral outcome substituted for a reading whose scoring
// failed.
func SafeDefault(r model.Reading) model.ScoredReading {
	return model.Score(r, model.SeverityNormal, faultProbability)
}

// ScoreOrDefault runs s and never fails outward: an error or a panic inside
// the scorer yields SafeDefault for this one reading. The error, if any, is
// returned alongside for diagnostics.
func ScoreOrDefault(s Scorer, r model.Reading, st model.AnalyzerState) (out model.ScoredReading, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = SafeDefault(r)
			err = fmt.Errorf("score %s: scorer panic: %v", r.ID, p)
		}
	}()
	scored, err := s.Score(r, st)
	if err != nil {
		return SafeDefault(r), err
	}
	switch scored.Severity {
	case model.SeverityNormal, model.SeverityWarning, model.SeverityCritical:
	default:
		return SafeDefault(r), fmt.Errorf("score %s: invalid severity %q", r.ID, scored.Severity)
	}
	// The scorer owns severity and probability, never the reading itself.
	return model.Score(r, scored.Severity, scored.RiskProbability), nil
}

// FallbackScorer asks Primary first and falls back to Secondary when the
// primary errors, for instance while a model-backed scorer is unavailable.
type FallbackScorer struct {
	Primary   Scorer
	Secondary Scorer
}

// Score implements Scorer.
func (f FallbackScorer) Score(r model.Reading, st model.AnalyzerState) (model.ScoredReading, error) {
	if f.Primary != nil {
		if s, err := f.Primary.Score(r, st); err == nil {
			return s, nil
		}
	}
	if f.Secondary == nil {
		return model.ScoredReading{}, ErrScorerUnavailable
	}
	return f.Secondary.Score(r, st)
}
