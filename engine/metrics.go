package engine

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/gentop/model"
)

// MetricsStore holds the latest enriched frame per asset for exporters.
type MetricsStore struct {
	mu       sync.RWMutex
	latest   map[string]model.EnrichedFrame
	frames   map[string]uint64
	latches  map[string]uint64
	faults   map[string]uint64
	updated  time.Time
	firstRun time.Time
}

// NewMetricsStore creates a new store.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{
		latest:   make(map[string]model.EnrichedFrame),
		frames:   make(map[string]uint64),
		latches:  make(map[string]uint64),
		faults:   make(map[string]uint64),
		firstRun: time.Now(),
	}
}

// Observe implements Observer.
func (s *MetricsStore) Observe(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[res.Asset] = res.Frame
	s.frames[res.Asset]++
	s.faults[res.Asset] += uint64(len(res.Faults))
	if res.Transition == TransitionLatched {
		s.latches[res.Asset]++
	}
	s.updated = time.Now()
}

// Latest returns the latest frame for asset.
func (s *MetricsStore) Latest(asset string) (model.EnrichedFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.latest[asset]
	return f, ok
}

// Handler exposes Prometheus metrics for the latest frames.
func (s *MetricsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if len(s.latest) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("# no data yet\n"))
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.writePrometheus(w)
	})
}

func (s *MetricsStore) writePrometheus(w io.Writer) {
	write := func(format string, args ...interface{}) {
		_, _ = fmt.Fprintf(w, format, args...)
	}

	assets := make([]string, 0, len(s.latest))
	for id := range s.latest {
		assets = append(assets, id)
	}
	sort.Strings(assets)

	write("# TYPE gentop_up gauge\n")
	write("gentop_up 1\n")
	write("# TYPE gentop_last_update_seconds gauge\n")
	write("gentop_last_update_seconds %d\n", s.updated.Unix())

	write("# TYPE gentop_frames_total counter\n")
	for _, a := range assets {
		write("gentop_frames_total{asset=%q} %d\n", a, s.frames[a])
	}
	write("# TYPE gentop_scoring_faults_total counter\n")
	for _, a := range assets {
		write("gentop_scoring_faults_total{asset=%q} %d\n", a, s.faults[a])
	}
	write("# TYPE gentop_emergency_latches_total counter\n")
	for _, a := range assets {
		write("gentop_emergency_latches_total{asset=%q} %d\n", a, s.latches[a])
	}
	write("# TYPE gentop_emergency_active gauge\n")
	for _, a := range assets {
		write("gentop_emergency_active{asset=%q} %d\n", a, boolGauge(s.latest[a].EmergencyActive))
	}

	write("# TYPE gentop_sensor_value gauge\n")
	write("# TYPE gentop_sensor_risk_probability gauge\n")
	write("# TYPE gentop_sensor_severity gauge\n")
	for _, a := range assets {
		f := s.latest[a]
		for _, r := range f.Readings {
			if v, ok := r.Value.Float(); ok {
				write("gentop_sensor_value{asset=%q,sensor=%q} %f\n", a, r.ID, v)
			} else if b, ok := r.Value.Boolean(); ok {
				write("gentop_sensor_value{asset=%q,sensor=%q} %d\n", a, r.ID, boolGauge(b))
			}
			write("gentop_sensor_risk_probability{asset=%q,sensor=%q} %f\n", a, r.ID, r.RiskProbability)
			write("gentop_sensor_severity{asset=%q,sensor=%q} %d\n", a, r.ID, r.Severity.Rank())
		}
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
