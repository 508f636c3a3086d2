package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("positional roots and defaults", func(t *testing.T) {
		cfg, exit, err := Parse([]string{"/data/in", "/data/out"}, &bytes.Buffer{})
		require.NoError(t, err)
		require.False(t, exit)

		assert.Equal(t, "/data/in", cfg.InputRoot)
		assert.Equal(t, "/data/out", cfg.OutputRoot)
		assert.Equal(t, "fmriprep", cfg.Template)
		assert.Equal(t, int64(0), cfg.ChunkBytes)
		assert.Equal(t, int64(32_000_000_000), cfg.MaxMemoryBytes)
		assert.Equal(t, 2.0, cfg.MemoryFactor)
		assert.Equal(t, 1, cfg.Repeat)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("all flags", func(t *testing.T) {
		cfg, exit, err := Parse([]string{
			"-template", "echo",
			"-templates-path", "/etc/gridfan",
			"-image", "my/fork:dev",
			"-level", "group",
			"-chunk", "1GiB",
			"-transfer",
			"-license", "/opt/license.txt",
			"-repeat", "3",
			"-memory", "4GB",
			"-max-memory", "16GB",
			"-mem-factor", "4",
			"-session", "/tmp/run.db",
			"-gateway", "wss://sched.example.com/socket.io",
			"-runtime", "docker",
			"-rm-staged",
			"-log-format", "json",
			"-log-level", "debug",
			"/in", "/out",
		}, &bytes.Buffer{})
		require.NoError(t, err)
		require.False(t, exit)

		assert.Equal(t, "echo", cfg.Template)
		assert.Equal(t, "/etc/gridfan", cfg.TemplatesPath)
		assert.Equal(t, "my/fork:dev", cfg.Image)
		assert.Equal(t, "group", cfg.Level)
		assert.Equal(t, int64(1<<30), cfg.ChunkBytes)
		assert.True(t, cfg.Transfer)
		assert.Equal(t, "/opt/license.txt", cfg.License)
		assert.Equal(t, 3, cfg.Repeat)
		assert.Equal(t, int64(4_000_000_000), cfg.MemoryBytes)
		assert.Equal(t, int64(16_000_000_000), cfg.MaxMemoryBytes)
		assert.Equal(t, 4.0, cfg.MemoryFactor)
		assert.Equal(t, "/tmp/run.db", cfg.SessionPath)
		assert.Equal(t, "wss://sched.example.com/socket.io", cfg.GatewayURL)
		assert.Equal(t, "docker", cfg.Runtime)
		assert.True(t, cfg.RemoveStaged)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("no arguments prints usage and exits cleanly", func(t *testing.T) {
		var out bytes.Buffer
		cfg, exit, err := Parse(nil, &out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("help exits cleanly", func(t *testing.T) {
		_, exit, err := Parse([]string{"-h"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.True(t, exit)
	})
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"missing output root", []string{"/in"}},
		{"too many positionals", []string{"/in", "/out", "/extra"}},
		{"invalid log format", []string{"-log-format", "xml", "/in", "/out"}},
		{"invalid log level", []string{"-log-level", "loud", "/in", "/out"}},
		{"invalid runtime", []string{"-runtime", "podman", "/in", "/out"}},
		{"unparseable chunk size", []string{"-chunk", "lots", "/in", "/out"}},
		{"unparseable memory", []string{"-memory", "much", "/in", "/out"}},
		{"unknown flag", []string{"-bogus", "/in", "/out"}},
		{"chunk and collective together", []string{"-chunk", "1GiB", "-collective", "/in", "/out"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}
