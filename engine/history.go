package engine

import (
	"sync"

	"github.com/ftahirops/gentop/model"
)

// History is a ring buffer of enriched frames for one asset, used for
// trend display. The analyzer itself never looks further back than one
// frame.
type History struct {
	asset string
	buf   []model.EnrichedFrame
	head  int
	size  int
	cap   int
	mu    sync.RWMutex
}

// NewHistory creates a ring buffer for asset with the given capacity.
func NewHistory(asset string, capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		asset: asset,
		buf:   make([]model.EnrichedFrame, capacity),
		cap:   capacity,
	}
}

// Observe implements Observer; frames of other assets are ignored.
func (h *History) Observe(res Result) {
	if res.Asset != h.asset {
		return
	}
	h.Push(res.Frame)
}

// Push adds a frame to the ring buffer.
func (h *History) Push(f model.EnrichedFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.head] = f
	h.head = (h.head + 1) % h.cap
	if h.size < h.cap {
		h.size++
	}
}

// Len returns the number of frames stored.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Latest returns a copy of the most recent frame.
func (h *History) Latest() *model.EnrichedFrame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return nil
	}
	idx := (h.head - 1 + h.cap) % h.cap
	f := h.buf[idx] // copy
	return &f
}

// Get returns a copy of the frame at position i (0 = oldest in buffer).
func (h *History) Get(i int) *model.EnrichedFrame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i < 0 || i >= h.size {
		return nil
	}
	idx := (h.head - h.size + i + h.cap) % h.cap
	f := h.buf[idx] // copy
	return &f
}

// Series returns the numeric values of sensor id, oldest first. Frames
// without a numeric value for id are skipped.
func (h *History) Series(id string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]float64, 0, h.size)
	for i := 0; i < h.size; i++ {
		f := h.buf[(h.head-h.size+i+h.cap)%h.cap]
		for _, r := range f.Readings {
			if r.ID != id {
				continue
			}
			if v, ok := r.Value.Float(); ok {
				out = append(out, v)
			}
			break
		}
	}
	return out
}
