package builtin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

type recordingLauncher struct {
	launched []string
	err      error
}

func (r *recordingLauncher) Launch(_ context.Context, app App) error {
	if r.err != nil {
		return r.err
	}
	r.launched = append(r.launched, app.ID)
	return nil
}

func TestAutomation_Lookup(t *testing.T) {
	a := NewAutomation(&recordingLauncher{}, discardLogger())
	tests := []struct {
		name   string
		wantID string
		found  bool
	}{
		{"chrome", "chrome", true},
		{"Google Chrome", "chrome", true},
		{"क्रोम", "chrome", true},
		{"chrome browser", "chrome", true},
		{"fire", "firefox", true},
		{"mozilla", "firefox", true},
		{"calc", "calculator", true},
		{"vs code", "vscode", true},
		{"c", "", false},
		{"chromebook", "", false},
		{"photoshop", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, ok := a.Lookup(tt.name)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.wantID, app.ID)
			}
		})
	}
}

func TestAutomation_Invoke(t *testing.T) {
	l := &recordingLauncher{}
	a := NewAutomation(l, discardLogger())

	res, err := a.Invoke(context.Background(), skills.Request{Slots: map[string]string{"application": "chrome"}})
	require.NoError(t, err)
	assert.Equal(t, "Chrome", res.Fields["application"])
	assert.Equal(t, []string{"chrome"}, l.launched)

	_, err = a.Invoke(context.Background(), skills.Request{Slots: map[string]string{"application": "photoshop"}})
	assert.ErrorIs(t, err, ErrUnknownApp)

	boom := errors.New("exec: not found")
	a = NewAutomation(&recordingLauncher{err: boom}, discardLogger())
	_, err = a.Invoke(context.Background(), skills.Request{Slots: map[string]string{"application": "notepad"}})
	assert.ErrorIs(t, err, boom)
}

func TestExecLauncher_Command(t *testing.T) {
	chrome, _ := NewAutomation(&recordingLauncher{}, discardLogger()).Lookup("chrome")

	cmd, err := (&ExecLauncher{goos: "darwin"}).Command(chrome)
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "-a", "Google Chrome"}, cmd.Args)

	cmd, err = (&ExecLauncher{goos: "linux"}).Command(chrome)
	require.NoError(t, err)
	assert.Equal(t, []string{"google-chrome"}, cmd.Args)

	cmd, err = (&ExecLauncher{goos: "windows"}).Command(chrome)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", "/c", "start", "", "chrome.exe"}, cmd.Args)

	_, err = (&ExecLauncher{goos: "plan9"}).Command(chrome)
	assert.ErrorIs(t, err, ErrUnsupportedOS)
}
