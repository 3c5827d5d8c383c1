package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ftahirops/gentop/model"
)

// recordFrame is one analyzed frame written to disk: the raw input, so a
// replay can re-run it, and the output as produced at the time.
type recordFrame struct {
	Asset   string               `json:"asset"`
	Time    time.Time            `json:"ts"`
	Sensors []model.Reading      `json:"sensors"`
	Result  *model.EnrichedFrame `json:"result,omitempty"`
}

// Recorder is an Observer that appends every result to w as JSON lines.
type Recorder struct {
	writer *json.Encoder
	logger *slog.Logger
	mu     sync.Mutex
	count  int
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(w io.Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		writer: json.NewEncoder(w),
		logger: logger,
	}
}

// Observe records a result.
func (r *Recorder) Observe(res Result) {
	out := res.Frame
	frame := recordFrame{
		Asset:   res.Asset,
		Time:    res.Frame.Timestamp,
		Sensors: res.Input.Readings(),
		Result:  &out,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Encode(frame); err != nil {
		// a failed write never stalls analysis
		r.logger.Warn("record frame", "asset", res.Asset, "err", err)
		return
	}
	r.count++
}

// Count returns the number of frames written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Player replays recorded frames as a source of samples.
type Player struct {
	frames  []recordFrame
	idx     int
	mu      sync.Mutex
	skipped int
}

// NewPlayer reads a recording (JSON lines). Malformed lines are skipped.
func NewPlayer(r io.Reader) (*Player, error) {
	p := &Player{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line limit
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var frame recordFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			p.skipped++
			continue
		}
		p.frames = append(p.frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return p, nil
}

// Next returns the next recorded sample, or io.EOF when the recording is
// exhausted.
func (p *Player) Next(ctx context.Context) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.frames) {
		return model.Sample{}, io.EOF
	}
	f := p.frames[p.idx]
	p.idx++
	return model.Sample{Asset: f.Asset, Time: f.Time, Readings: f.Sensors}, nil
}

// Recorded returns the output stored with frame i, if any.
func (p *Player) Recorded(i int) *model.EnrichedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.frames) {
		return nil
	}
	return p.frames[i].Result
}

// Close implements the source contract; a player holds no resources.
func (p *Player) Close() error { return nil }

// Len returns the number of frames available.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Index returns the next frame index.
func (p *Player) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}

// Skipped returns the number of lines that could not be decoded.
func (p *Player) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

// Seek moves the read position to frame i, clamped to the recording.
func (p *Player) Seek(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(p.frames) {
		i = len(p.frames)
	}
	p.idx = i
}

// Replay feeds every remaining frame through fleet, stamped with its
// recorded time, and hands each result to fn. It returns the number of
// frames replayed.
func (p *Player) Replay(ctx context.Context, fleet *Fleet, fn func(Result)) (int, error) {
	n := 0
	for {
		s, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		res := fleet.Asset(s.Asset).AnalyzeAt(s.Frame(), s.Time)
		n++
		if fn != nil {
			fn(res)
		}
	}
}
