package main

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aren-assistant/aren/common/version"
	"github.com/aren-assistant/aren/internal/aren/app"
	"github.com/aren-assistant/aren/internal/aren/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	arenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("135")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "aren",
		Short: "Bilingual English/Hindi voice-assistant core",
		Long: `AREN understands English, Hindi and Hinglish requests, keeps
per-session conversational context, and answers with built-in skills
(time, date, weather, calculator, translation, search, app launching,
small talk).

Quick Start:
  aren chat                         # talk to AREN in the terminal
  aren serve                        # run the HTTP API and Matrix bot
  aren classify "kal ka mausam"     # show how an utterance is scored
  aren replay scripts/*.yaml        # check scripted conversations`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ./aren.yaml or /etc/aren/aren.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newClassifyCmd(opts),
		newReplayCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies the shared flags.
func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// quietLogger keeps interactive commands free of log noise unless verbose.
func (o *options) quietLogger(w io.Writer, cfg config.Config) *slog.Logger {
	if o.verbose {
		return app.NewLogger(w, cfg.Log)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.Info())
		},
	}
}
