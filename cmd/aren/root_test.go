package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AREN_PERSISTENCE_BACKEND", "none")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "aren "), out)
}

func TestClassifyCommand(t *testing.T) {
	out, err := execute(t, "", "classify", "15% of 850 kitna hota hai", "blorp fizzle wumpus")
	require.NoError(t, err)
	assert.Contains(t, out, "lang=mixed")
	assert.Contains(t, out, "calculator")
	assert.Contains(t, out, "no intent")
}

func TestChatCommand(t *testing.T) {
	out, err := execute(t, "15% of 850 kitna hota hai\nexit\nnever read\n", "chat", "--user", "tester", "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "Jawab hai 127.5.")
	assert.Contains(t, out, "ok calculator")
	assert.NotContains(t, out, "never read")
}

func TestChatCommand_EOF(t *testing.T) {
	_, err := execute(t, "", "chat")
	require.NoError(t, err)
}

const passingScript = `
name: calc
turns:
  - say: "15% of 850 kitna hota hai"
    expect:
      skill: calculator
      outcome: ok
      reply: "Jawab hai 127.5."
`

const failingScript = `
name: wrong
turns:
  - say: "15% of 850 kitna hota hai"
    expect:
      skill: weather
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReplayCommand(t *testing.T) {
	ok := writeScript(t, "calc.yaml", passingScript)

	out, err := execute(t, "", "replay", ok)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "calc (1 turns)")

	bad := writeScript(t, "wrong.yaml", failingScript)
	out, err = execute(t, "", "replay", ok, bad)
	require.Error(t, err)
	assert.Equal(t, "1 of 2 scripts failed", err.Error())
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "skill: got calculator, want weather")
}

func TestReplayCommand_InvalidScript(t *testing.T) {
	bad := writeScript(t, "empty.yaml", "name: empty\n")
	_, err := execute(t, "", "replay", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty.yaml")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "classify", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
