package collector

import (
	"errors"
	"fmt"
	"os"

	"github.com/ftahirops/gentop/engine"
)

// Source is a pull-based producer of raw samples.
type Source = engine.SampleSource

var (
	ErrSourceClosed   = engine.ErrSourceClosed
	ErrUnknownProfile = errors.New("unknown simulator profile")
	ErrUnknownSource  = errors.New("unknown source kind")
)

// Source kinds.
const (
	KindSimulator = "simulator"
	KindLines     = "lines"
	KindReplay    = "replay"
	KindMQTT      = "mqtt"
	KindHTTP      = "http"
)

// Options selects and configures a source.
type Options struct {
	Kind        string
	Asset       string
	Profile     Profile // a zero Profile falls back to ProfileName
	ProfileName string
	Seed        uint64
	Path        string // "-" reads stdin for the lines kind
}

// Open creates the pull source for opts. Push kinds (mqtt, http) have no
// pull source and return nil.
func Open(opts Options) (Source, error) {
	switch opts.Kind {
	case "", KindSimulator:
		p := opts.Profile
		if p.Normal+p.Warning+p.Critical == 0 {
			var err error
			if p, err = ProfileByName(opts.ProfileName); err != nil {
				return nil, err
			}
		}
		return NewSimulator(opts.Asset, p, opts.Seed), nil
	case KindLines:
		if opts.Path == "" || opts.Path == "-" {
			return NewLineSource(os.Stdin, opts.Asset), nil
		}
		f, err := os.Open(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("open line source: %w", err)
		}
		return NewLineSource(f, opts.Asset), nil
	case KindReplay:
		f, err := os.Open(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("open recording: %w", err)
		}
		defer f.Close()
		p, err := engine.NewPlayer(f)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindMQTT, KindHTTP:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, opts.Kind)
}
