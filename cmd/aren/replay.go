package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aren-assistant/aren/internal/aren/app"
	"github.com/aren-assistant/aren/internal/aren/config"
	"github.com/aren-assistant/aren/internal/aren/replay"
)

func newReplayCmd(opts *options) *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>...",
		Short: "Run scripted conversations and check every turn",
		Long: `Each script is a YAML conversation (see internal/aren/replay).
Scripts run concurrently against one in-memory assistant, each in its own
session; nothing is persisted. The command fails if any check fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			offline(&cfg)

			scripts := make([]replay.Script, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				s, err := replay.Load(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				scripts = append(scripts, s)
			}

			a, err := app.New(cfg, app.WithLogger(opts.quietLogger(cmd.ErrOrStderr(), cfg)))
			if err != nil {
				return err
			}
			defer a.Close()

			results := replay.RunAll(cmd.Context(), a.Dispatcher(), scripts, parallel)
			return report(cmd, results)
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Scripts to run at once")
	return cmd
}

func report(cmd *cobra.Command, results []replay.Result) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.Passed() {
			fmt.Fprintf(out, "%s %s (%d turns)\n", passStyle.Render("PASS"), r.Name, len(r.Turns))
			continue
		}
		failed++
		fmt.Fprintf(out, "%s %s\n", failStyle.Render("FAIL"), r.Name)
		if r.Err != nil {
			fmt.Fprintf(out, "     %v\n", r.Err)
		}
		for _, t := range r.Turns {
			for _, f := range t.Failures {
				fmt.Fprintf(out, "     %q: %s\n", t.Say, f)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed", failed, len(results))
	}
	return nil
}

// offline strips every external surface from cfg so the command runs
// entirely in memory.
func offline(cfg *config.Config) {
	cfg.Persistence.Backend = config.BackendNone
	cfg.Redis.Addr = ""
	cfg.HTTP.Addr = ""
	cfg.Matrix.Homeserver = ""
}
