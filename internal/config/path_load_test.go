package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
}

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "hark", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "hark", "config.jsonc"), resolved)
}

func TestStateDirFallback(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	dir, err := StateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(state, "hark"), dir)

	t.Setenv("XDG_STATE_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = StateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "state", "hark"), dir)
	require.Equal(t, filepath.Join(dir, "debug"), Default().Debug.RecordDir)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  // local recognizer
  "recognizer": {
    "endpoint": "10.0.0.5:50061",
    "result_kind": "nli",
    "nli_hint": {"slot": "weather"},
  },
  "vad": { "auto_stop": false },
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "10.0.0.5:50061", loaded.Config.Recognizer.Endpoint)
	require.Equal(t, "nli", loaded.Config.Recognizer.ResultKind)
	require.Equal(t, map[string]any{"slot": "weather"}, loaded.Config.Recognizer.NLIHint)
	require.False(t, loaded.Config.VAD.AutoStop)
	require.Empty(t, loaded.Warnings)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"recognizer": {"compression": "speex"}}`), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "recognizer.compression")
}
