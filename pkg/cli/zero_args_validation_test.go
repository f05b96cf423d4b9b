package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroArgCommandsRejectUnexpectedPositionalArgs(t *testing.T) {
	isolateEnv(t)

	bootstrap := newRootCmd()
	bootstrap.SetArgs([]string{"config", "set-profile", "--name", "default", "--host", "http://127.0.0.1:65535"})
	require.NoError(t, bootstrap.Execute())

	tests := []struct {
		name string
		args []string
	}{
		{name: "version", args: []string{"version", "extra"}},
		{name: "health", args: []string{"health", "extra"}},
		{name: "config show", args: []string{"config", "show", "extra"}},
		{name: "jobs list", args: []string{"jobs", "list", "extra"}},
		{name: "jobs terminate-all", args: []string{"jobs", "terminate-all", "--yes", "extra"}},
		{name: "auth whoami json", args: []string{"auth", "whoami", "--output", "json", "extra"}},
		{name: "config set-profile", args: []string{"config", "set-profile", "--name", "p", "--host", "http://127.0.0.1:65535", "extra"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, tc.args...)
			require.Error(t, res.err)
			require.Contains(t, res.err.Error(), "unknown command \"extra\"")
		})
	}
}

func TestExactArgCommandsRequireTheirArgument(t *testing.T) {
	isolateEnv(t)

	for _, args := range [][]string{
		{"jobs", "show"},
		{"jobs", "run"},
		{"jobs", "cancel"},
		{"jobs", "retry"},
		{"schedule", "create"},
		{"schedule", "pause"},
		{"schedule", "resume"},
	} {
		t.Run(args[0]+" "+args[1], func(t *testing.T) {
			res := runCLI(t, args...)
			require.Error(t, res.err)
			require.Contains(t, res.err.Error(), "accepts 1 arg(s)")
		})
	}
}
