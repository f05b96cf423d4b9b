package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"syncloop/internal/enginetest"
)

// cliResult holds what a command run wrote and returned.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes a fresh root command with HOME isolated so no real config
// is loaded. stdin is empty.
func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	return runCLIWithInput(t, "", args...)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// isolateEnv points HOME at a temp dir and clears the variables the CLI reads.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range []string{
		"SYNCLOOP_HOST", "SYNCLOOP_TOKEN", "SYNCLOOP_OUTPUT", "SYNCLOOP_PASSWORD", "LOG_LEVEL",
		"SYNCLOOP_LIST_INTERVAL", "SYNCLOOP_DETAIL_INTERVAL", "SYNCLOOP_CONFIRM_INTERVAL",
		"SYNCLOOP_CONFIRM_ATTEMPTS", "SYNCLOOP_PENDING_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
	// Keep polling fast in command tests.
	t.Setenv("SYNCLOOP_LIST_INTERVAL", "20ms")
	t.Setenv("SYNCLOOP_DETAIL_INTERVAL", "10ms")
	t.Setenv("SYNCLOOP_CONFIRM_INTERVAL", "5ms")
	t.Setenv("SYNCLOOP_PENDING_TIMEOUT", "5s")
	return dir
}

// setupEngine starts a fake engine and returns it with the base flags that
// point the CLI at it with a valid session.
func setupEngine(t *testing.T) (*enginetest.Engine, []string) {
	t.Helper()
	isolateEnv(t)
	eng := enginetest.New()
	srv := eng.Server(t)
	return eng, []string{"--host", srv.URL, "--token", eng.IssueToken("u1", "w1", time.Hour)}
}

func withArgs(base []string, args ...string) []string {
	return append(append([]string{}, base...), args...)
}
