package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

func newReplayCmd(g *globalFlags) *cobra.Command {
	var (
		verify bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Re-run a recording through a fresh analyzer",
		Long: `Replay feeds every recorded frame through a new analyzer, in order and
stamped with its recorded time, and prints the enriched frames as JSON lines.
With --verify each result is compared against the output stored in the
recording and the command fails if any frame differs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}
			defer f.Close()
			player, err := engine.NewPlayer(f)
			if err != nil {
				return err
			}
			if n := player.Skipped(); n > 0 {
				logger.Warn("skipped malformed lines", "count", n)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			fleet := engine.NewFleet(nil, logger)
			var diffs, i int
			n, err := player.Replay(cmd.Context(), fleet, func(res engine.Result) {
				if verify {
					if want := player.Recorded(i); want != nil && !sameFrame(*want, res.Frame) {
						diffs++
						logger.Warn("frame differs from recording", "index", i, "asset", res.Asset, "seq", res.Frame.Sequence)
					}
				}
				i++
				if !quiet {
					_ = enc.Encode(res.Frame)
				}
			})
			if err != nil {
				return err
			}
			logger.Info("replay finished", "frames", n, "assets", len(fleet.IDs()))
			if diffs > 0 {
				return fmt.Errorf("%d of %d frames differ from the recording", diffs, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "compare results against the recorded output")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print frames")
	return cmd
}

// sameFrame compares frames by their wire form, which is what was recorded.
func sameFrame(a, b model.EnrichedFrame) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
