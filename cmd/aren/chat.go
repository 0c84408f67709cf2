package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aren-assistant/aren/internal/aren/app"
	"github.com/aren-assistant/aren/internal/aren/builtin"
	"github.com/aren-assistant/aren/internal/aren/dispatch"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		user      string
		showTrace bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to AREN in the terminal",
		Long: `Reads one utterance per line and prints the reply. Type "exit" or
press Ctrl+D to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cfg.HTTP.Addr = ""
			cfg.Matrix.Homeserver = ""

			a, err := app.New(cfg,
				app.WithLogger(opts.quietLogger(cmd.ErrOrStderr(), cfg)),
				app.WithLauncher(builtin.NewExecLauncher()),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			return chat(cmd, a.Dispatcher(), memory.SessionKey("cli", user), showTrace)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the session and preferences belong to")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "Show skill, confidence and state path after each reply")
	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func chat(cmd *cobra.Command, d *dispatch.Dispatcher, sessionID string, showTrace bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("AREN")+" "+metaStyle.Render("(English, हिंदी, Hinglish; type exit to leave)"))

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, userStyle.Render("you› "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := in.Text()
		if isExit(line) {
			return nil
		}

		turn, err := d.Run(cmd.Context(), sessionID, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, arenStyle.Render("aren› ")+turn.Record.Reply)
		if showTrace {
			printTrace(out, turn)
		}
	}
}

func isExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}

func printTrace(w io.Writer, turn dispatch.Turn) {
	rec := turn.Record
	path := make([]string, len(turn.Path))
	for i, s := range turn.Path {
		path[i] = s.String()
	}
	line := fmt.Sprintf("  %s %s conf=%.3f lang=%s slots=%v path=%s",
		rec.Outcome, rec.Skill, rec.Confidence, rec.Lang, rec.Slots, strings.Join(path, "→"))
	if turn.Err != nil {
		line += " err=" + turn.Err.Error()
	}
	fmt.Fprintln(w, metaStyle.Render(line))
}
