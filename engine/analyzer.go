package engine

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/gentop/model"
)

// Derived reading probabilities.
const (
	ecuProbNormal       = 0.05
	ecuProbWarning      = 0.6
	ecuProbCritical     = 0.9
	leakProbNormal      = 0.03
	leakProbWarning     = 0.6
	leakProbCritical    = 0.97
	overheatProbNormal  = 0.05
	overheatProbWarning = 0.6
	overheatProbCrit    = 0.9
	estopProbActive     = 0.99
	estopProbInactive   = 0.02
)

// Fault records a reading whose scoring failed and was replaced by the safe
// default.
type Fault struct {
	Sensor string
	Err    error
}

// Result is everything one analysis pass produced.
type Result struct {
	Asset      string
	Input      model.Frame
	Frame      model.EnrichedFrame
	State      model.AnalyzerState
	Derived    Derived
	Transition Transition
	Faults     []Fault
}

// Analyzer runs the score, derive and latch sequence over one frame.
// It holds no per-asset state and is safe for concurrent use.
type Analyzer struct {
	Scorer Scorer
}

// NewAnalyzer returns an analyzer using s, or the rule scorer if s is nil.
func NewAnalyzer(s Scorer) *Analyzer {
	if s == nil {
		s = RuleScorer{}
	}
	return &Analyzer{Scorer: s}
}

// Process scores and enriches one frame against the previous state and
// returns the enriched frame with the state to carry into the next call.
// Neither the frame nor st is modified.
func (a *Analyzer) Process(f model.Frame, st model.AnalyzerState) (model.EnrichedFrame, model.AnalyzerState) {
	res := a.Evaluate(f, st)
	return res.Frame, res.State
}

// Evaluate is Process with the intermediate signals and faults exposed.
func (a *Analyzer) Evaluate(f model.Frame, st model.AnalyzerState) Result {
	scorer := a.Scorer
	if scorer == nil {
		scorer = RuleScorer{}
	}

	var faults []Fault
	readings := f.Readings()
	scored := make(map[string]model.ScoredReading, len(readings))
	out := make([]model.ScoredReading, 0, len(readings)+len(model.DerivedSensors))
	for _, r := range readings {
		s, err := ScoreOrDefault(scorer, r, st)
		if err != nil {
			faults = append(faults, Fault{Sensor: r.ID, Err: err})
		}
		scored[r.ID] = s
		out = append(out, s)
	}

	d := ComputeDerived(f, scored, st)
	latch, tr := LatchFromState(st).Step(d.EmergencyCandidate, stabilized(scored, d))

	for _, dr := range derivedReadings(d, latch.Active) {
		out = mergeDerived(out, f, dr)
	}

	next := model.AnalyzerState{
		LastRPM:               finite(f, model.SensorRPM),
		LastFuelLevel:         finite(f, model.SensorFuelLevel),
		LastFuelLeakConfirmed: d.FuelLeakConfirmed(),
		EmergencyActive:       latch.Active,
		EmergencyClearStreak:  latch.ClearStreak,
	}

	return Result{
		Input: f,
		Frame: model.EnrichedFrame{
			Readings:        out,
			EmergencyActive: latch.Active,
		},
		State:      next,
		Derived:    d,
		Transition: tr,
		Faults:     faults,
	}
}

// derivedReadings renders the derived signals as scored readings, in
// model.DerivedSensors order.
func derivedReadings(d Derived, estop bool) []model.ScoredReading {
	ecuP := ecuProbNormal
	switch d.ECUSeverity {
	case model.SeverityWarning:
		ecuP = ecuProbWarning
	case model.SeverityCritical:
		ecuP = ecuProbCritical
	}

	leakSev, leakP := model.SeverityNormal, leakProbNormal
	switch d.FuelLeak {
	case FuelLeakWarning:
		leakSev, leakP = model.SeverityWarning, leakProbWarning
	case FuelLeakCritical:
		leakSev, leakP = model.SeverityCritical, leakProbCritical
	}

	heatP := overheatProbNormal
	switch d.OverheatSeverity {
	case model.SeverityWarning:
		heatP = overheatProbWarning
	case model.SeverityCritical:
		heatP = overheatProbCrit
	}

	stopSev, stopP := model.SeverityNormal, estopProbInactive
	if estop {
		stopSev, stopP = model.SeverityCritical, estopProbActive
	}

	return []model.ScoredReading{
		model.Score(derivedReading(model.SensorECUErrors, model.Num(float64(d.ECUErrors))), d.ECUSeverity, ecuP),
		model.Score(derivedReading(model.SensorFuelLeak, model.Bool(d.FuelLeakConfirmed())), leakSev, leakP),
		model.Score(derivedReading(model.SensorOverheat, model.Bool(d.Overheat)), d.OverheatSeverity, heatP),
		model.Score(derivedReading(model.SensorEmergencyStop, model.Bool(estop)), stopSev, stopP),
	}
}

func derivedReading(id string, v model.Value) model.Reading {
	return model.Reading{ID: id, Type: id, Value: v}
}

// mergeDerived overwrites the entry for dr's id in place, keeping the
// source's display fields, or appends dr when the frame had no such entry.
func mergeDerived(out []model.ScoredReading, f model.Frame, dr model.ScoredReading) []model.ScoredReading {
	orig, ok := f.Get(dr.ID)
	if !ok {
		return append(out, dr)
	}
	for i := range out {
		if out[i].ID != dr.ID {
			continue
		}
		r := orig
		r.Value = dr.Value
		out[i] = model.Score(r, dr.Severity, dr.RiskProbability)
		break
	}
	return out
}

// finite returns the numeric value of id when present and finite.
func finite(f model.Frame, id string) *float64 {
	v, ok := f.Num(id)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Observer receives every result an asset produces, in order. Observers run
// under the asset lock and must not call back into the same asset.
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

// Observe implements Observer.
func (fn ObserverFunc) Observe(r Result) { fn(r) }

// Asset is one monitored asset. It owns its analyzer state and serializes
// frame submissions so each frame sees the fully committed state of the
// frame before it.
type Asset struct {
	id        string
	analyzer  *Analyzer
	logger    *slog.Logger
	now       func() time.Time
	observers []Observer

	mu    sync.Mutex
	state model.AnalyzerState
	seq   uint64
	last  *model.EnrichedFrame
}

// NewAsset creates an asset in the cold-start state.
func NewAsset(id string, a *Analyzer, logger *slog.Logger, observers ...Observer) *Asset {
	if a == nil {
		a = NewAnalyzer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Asset{
		id:        id,
		analyzer:  a,
		logger:    logger.With("asset", id),
		now:       time.Now,
		observers: observers,
	}
}

func (as *Asset) addObserver(o Observer) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.observers = append(as.observers, o)
}

// ID returns the asset id.
func (as *Asset) ID() string { return as.id }

// Analyze processes f stamped with the current time.
func (as *Asset) Analyze(f model.Frame) Result {
	return as.AnalyzeAt(f, as.now())
}

// AnalyzeAt processes f stamped with ts. State is committed atomically
// before observers run.
func (as *Asset) AnalyzeAt(f model.Frame, ts time.Time) Result {
	as.mu.Lock()
	defer as.mu.Unlock()

	res := as.analyzer.Evaluate(f, as.state)
	as.seq++
	res.Asset = as.id
	res.Frame.Asset = as.id
	res.Frame.Sequence = as.seq
	res.Frame.Timestamp = ts
	as.state = res.State
	last := res.Frame
	as.last = &last

	for _, ft := range res.Faults {
		as.logger.Debug("scoring fault, safe default used", "sensor", ft.Sensor, "err", ft.Err)
	}
	switch res.Transition {
	case TransitionLatched:
		as.logger.Warn("emergency stop latched", "seq", as.seq, "triggers", res.Derived.Triggers)
	case TransitionCleared:
		as.logger.Info("emergency stop cleared", "seq", as.seq)
	}

	for _, o := range as.observers {
		o.Observe(res)
	}
	return res
}

// EmergencyActive reports whether the emergency stop is latched.
func (as *Asset) EmergencyActive() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.state.EmergencyActive
}

// State returns a copy of the committed analyzer state.
func (as *Asset) State() model.AnalyzerState {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.state
}

// Latest returns a copy of the most recent enriched frame, or nil.
func (as *Asset) Latest() *model.EnrichedFrame {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.last == nil {
		return nil
	}
	cp := *as.last
	cp.Readings = append([]model.ScoredReading(nil), as.last.Readings...)
	return &cp
}

// Fleet is a registry of independently analyzed assets, created on first
// use. Assets never share state.
type Fleet struct {
	analyzer  *Analyzer
	logger    *slog.Logger
	observers []Observer

	mu     sync.RWMutex
	assets map[string]*Asset
}

// NewFleet creates an empty fleet. Every asset it creates uses a and
// reports to observers.
func NewFleet(a *Analyzer, logger *slog.Logger, observers ...Observer) *Fleet {
	if a == nil {
		a = NewAnalyzer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fleet{
		analyzer:  a,
		logger:    logger,
		observers: observers,
		assets:    make(map[string]*Asset),
	}
}

// Asset returns the asset for id, creating it if needed.
func (fl *Fleet) Asset(id string) *Asset {
	fl.mu.RLock()
	as, ok := fl.assets[id]
	fl.mu.RUnlock()
	if ok {
		return as
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if as, ok := fl.assets[id]; ok {
		return as
	}
	observers := append([]Observer(nil), fl.observers...)
	as = NewAsset(id, fl.analyzer, fl.logger, observers...)
	fl.assets[id] = as
	fl.logger.Info("asset registered", "asset", id)
	return as
}

// AddObserver attaches o to every current and future asset.
func (fl *Fleet) AddObserver(o Observer) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.observers = append(fl.observers, o)
	for _, as := range fl.assets {
		as.addObserver(o)
	}
}

// Lookup returns the asset for id without creating it.
func (fl *Fleet) Lookup(id string) (*Asset, bool) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	as, ok := fl.assets[id]
	return as, ok
}

// Submit analyzes f for the asset id.
func (fl *Fleet) Submit(id string, f model.Frame) Result {
	return fl.Asset(id).Analyze(f)
}

// IDs returns the registered asset ids, sorted.
func (fl *Fleet) IDs() []string {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	ids := make([]string, 0, len(fl.assets))
	for id := range fl.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
