package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "locmap", cmd.Use)
	assert.Contains(t, cmd.Long, "ZRTCLLOCATIONMO")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "inspect", "init"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "info", levelFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		shorthand string
		def       string
	}{
		{"config", "c", ""},
		{"source", "s", ""},
		{"table", "", "ZRTCLLOCATIONMO"},
		{"ts-col", "", "ZTIMESTAMP"},
		{"lat-col", "", "ZLATITUDE"},
		{"lon-col", "", "ZLONGITUDE"},
		{"speed-col", "", "ZSPEED"},
		{"out", "o", "location_data.xlsx"},
		{"map", "", ""},
		{"day", "", ""},
		{"epoch", "", "apple"},
		{"epoch-offset", "", "0"},
		{"speed-precision", "", "2"},
		{"parallelism", "", "2"},
		{"path", "", "false"},
		{"metrics-file", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := runCmd.Flags().Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, tt.def, flag.DefValue)
		})
	}
}

func TestInitCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	initCmd, _, err := cmd.Find([]string{"init"})
	require.NoError(t, err)

	forceFlag := initCmd.Flags().Lookup("force")
	require.NotNil(t, forceFlag)
	assert.Equal(t, "f", forceFlag.Shorthand)
	assert.Equal(t, "false", forceFlag.DefValue)
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "yaml", "init", filepath.Join(t.TempDir(), "job.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootRejectsInvalidLogLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--log-level", "loud", "init", filepath.Join(t.TempDir(), "job.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
