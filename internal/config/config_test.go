package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[log]
verbosity = 2
file = "nx.log"

[lexer]
strict = true

[run]
timeout = "1m30s"
max-frames = 64

[cache]
enabled = true
driver = "postgres"
dsn = "postgres://localhost/nx?sslmode=disable"
`)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Log.Verbosity)
	assert.Equal(t, "nx.log", c.Log.File)
	assert.True(t, c.Lexer.Strict)
	assert.Equal(t, 90*time.Second, c.Run.Timeout.Duration)
	assert.Equal(t, 64, c.Run.MaxFrames)
	assert.True(t, c.Cache.Enabled)
	assert.Equal(t, "postgres", c.Cache.Driver)
	assert.Equal(t, "postgres://localhost/nx?sslmode=disable", c.CachePath())

	abs, _ := filepath.Abs(dir)
	assert.Equal(t, abs, c.Dir)
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[lexer]\nstrict = false\n")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 10000, c.Run.MaxFrames)
	assert.Zero(t, c.Run.Timeout.Duration)
	assert.False(t, c.Cache.Enabled)
	assert.Equal(t, "sqlite", c.Cache.Driver)
	assert.Equal(t, filepath.Join(c.Dir, ".nx", "cache.db"), c.CachePath())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{"syntax", "[run\n", "parse error"},
		{"bad duration", "[run]\ntimeout = \"soon\"\n", "parse error"},
		{"negative frames", "[run]\nmax-frames = -1\n", "max-frames must not be negative"},
		{"driver", "[cache]\ndriver = \"mysql\"\n", `unsupported cache driver "mysql"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[run]\nmax-frames = 7\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Run.MaxFrames)
	abs, _ := filepath.Abs(root)
	assert.Equal(t, abs, c.Dir)
}

func TestFindAndLoadWithoutFile(t *testing.T) {
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	require.NoError(t, err)
	// a stray nx.toml above the temp dir would change this
	if c.Dir == dir {
		assert.Equal(t, Default().Run, c.Run)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[lexer]\nstrict = true\n"), 0644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, c.Lexer.Strict)
	assert.Equal(t, filepath.Dir(path), c.Dir)
}
