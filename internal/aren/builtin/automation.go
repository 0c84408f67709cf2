package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/armon/go-radix"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

var (
	// ErrUnknownApp is returned when no alias matches the requested name.
	ErrUnknownApp = errors.New("unknown application")
	// ErrUnsupportedOS is returned on platforms without a launch command.
	ErrUnsupportedOS = errors.New("unsupported operating system")
)

// App is a launchable program with its per-OS command.
type App struct {
	ID      string
	Display string
	Aliases []string
	Windows string
	Linux   string
	Darwin  string
}

// Apps are the programs the automation skill knows how to start.
var Apps = []App{
	{
		ID: "notepad", Display: "Notepad",
		Aliases: []string{"notepad", "note pad", "text editor", "नोटपैड"},
		Windows: "notepad.exe", Linux: "gedit", Darwin: "TextEdit",
	},
	{
		ID: "calculator", Display: "Calculator",
		Aliases: []string{"calculator", "calc", "कैलकुलेटर"},
		Windows: "calc.exe", Linux: "gnome-calculator", Darwin: "Calculator",
	},
	{
		ID: "chrome", Display: "Chrome",
		Aliases: []string{"chrome", "google chrome", "क्रोम"},
		Windows: "chrome.exe", Linux: "google-chrome", Darwin: "Google Chrome",
	},
	{
		ID: "firefox", Display: "Firefox",
		Aliases: []string{"firefox", "mozilla", "फायरफॉक्स"},
		Windows: "firefox.exe", Linux: "firefox", Darwin: "Firefox",
	},
	{
		ID: "terminal", Display: "Terminal",
		Aliases: []string{"terminal", "command prompt", "cmd", "टर्मिनल"},
		Windows: "cmd.exe", Linux: "x-terminal-emulator", Darwin: "Terminal",
	},
	{
		ID: "vscode", Display: "VS Code",
		Aliases: []string{"vscode", "vs code", "visual studio code"},
		Windows: "code", Linux: "code", Darwin: "Visual Studio Code",
	},
}

// Launcher starts a program.
type Launcher interface {
	Launch(ctx context.Context, app App) error
}

// Automation is the automation skill.
type Automation struct {
	aliases  *radix.Tree
	launcher Launcher
	logger   *slog.Logger
}

// NewAutomation indexes Apps by alias.
func NewAutomation(launcher Launcher, logger *slog.Logger) *Automation {
	tree := radix.New()
	for _, app := range Apps {
		for _, alias := range app.Aliases {
			tree.Insert(alias, app)
		}
	}
	return &Automation{aliases: tree, launcher: launcher, logger: logger}
}

// Lookup resolves a spoken application name: an exact alias, an alias
// followed by extra words ("chrome browser"), or an unambiguous alias
// prefix ("fire").
func (a *Automation) Lookup(name string) (App, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return App{}, false
	}
	if v, ok := a.aliases.Get(name); ok {
		return v.(App), true
	}
	if prefix, v, ok := a.aliases.LongestPrefix(name); ok && name[len(prefix)] == ' ' {
		return v.(App), true
	}

	var (
		found App
		n     int
	)
	a.aliases.WalkPrefix(name, func(_ string, v interface{}) bool {
		app := v.(App)
		if n == 0 || app.ID != found.ID {
			found = app
			n++
		}
		return n > 1
	})
	return found, n == 1
}

// Invoke implements skills.Invoker.
func (a *Automation) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	name := req.Slots["application"]
	app, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, name)
	}
	if err := a.launcher.Launch(ctx, app); err != nil {
		return nil, fmt.Errorf("launch %s: %w", app.ID, err)
	}
	a.logger.Info("automation: launched", "app", app.ID)
	return fields("application", app.Display, "app", app.ID), nil
}

// ExecLauncher starts programs with the host's native launcher.
type ExecLauncher struct {
	goos string
}

// NewExecLauncher returns a launcher for the running OS.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{goos: runtime.GOOS}
}

// Command returns the command that starts app on the launcher's OS.
func (l *ExecLauncher) Command(app App) (*exec.Cmd, error) {
	switch l.goos {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", app.Windows), nil
	case "darwin":
		return exec.Command("open", "-a", app.Darwin), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command(app.Linux), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, l.goos)
}

// Launch starts app without waiting for it. The program outlives the turn,
// so it is not tied to ctx.
func (l *ExecLauncher) Launch(_ context.Context, app App) error {
	cmd, err := l.Command(app)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
