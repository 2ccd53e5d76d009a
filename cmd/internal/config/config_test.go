package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
model: llama3.1
max_turns: 7
native_tools: true
call_timeout: 5s
store: sqlite
interpreter: [python3, -u]
`), 0o644))
	t.Setenv(EnvModel, "")
	t.Setenv(EnvEndpoint, "http://gpu-box:11434")

	cfg, err := Load(path, Default())
	require.NoError(t, err)
	cfg.Workspace = dir
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, "llama3.1", cfg.Model)
	assert.Equal(t, "http://gpu-box:11434", cfg.Endpoint)
	assert.Equal(t, 7, cfg.MaxTurns)
	assert.True(t, cfg.NativeTools)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, []string{"python3", "-u"}, cfg.Interpreter)
	assert.Equal(t, filepath.Join(dir, ".toolrelay", "messages.db"), cfg.StorePath)
	assert.Equal(t, 20, cfg.HistoryWindow)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvModel, "mistral")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), Default())
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.Model)
	assert.Equal(t, 15, cfg.MaxTurns)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("max_turns: [oops"), 0o644))
	_, err := Load(path, Default())
	assert.ErrorContains(t, err, "parse config")
}

func TestNormalizeRejectsUnknownValues(t *testing.T) {
	cfg := Default()
	cfg.Store = "redis"
	assert.ErrorContains(t, cfg.Normalize(), "unknown store")

	cfg = Default()
	cfg.LogFormat = "xml"
	assert.ErrorContains(t, cfg.Normalize(), "unknown log format")

	cfg = Default()
	cfg.Workspace = ""
	assert.Error(t, cfg.Normalize())
}

func TestDottedValueHelpers(t *testing.T) {
	data := map[string]interface{}{
		"tools": map[string]interface{}{"interpreter": "python3"},
	}
	value, ok := GetValue(data, "tools.interpreter")
	require.True(t, ok)
	require.Equal(t, "python3", value)

	require.NoError(t, SetValue(data, "tools.interpreter", "pypy3"))
	value, ok = GetValue(data, "tools.interpreter")
	require.True(t, ok)
	require.Equal(t, "pypy3", value)

	require.NoError(t, SetValue(data, "limits.max_turns", ParseValue("10")))
	value, ok = GetValue(data, "limits.max_turns")
	require.True(t, ok)
	require.Equal(t, int64(10), value)

	_, ok = GetValue(data, "tools.interpreter.name")
	assert.False(t, ok)
	assert.Error(t, SetValue(data, "", 1))
}

func TestReadWriteMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	data, err := ReadMap(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, SetValue(data, "model", ParseValue("llama3.1")))
	require.NoError(t, SetValue(data, "native_tools", ParseValue("true")))
	require.NoError(t, WriteMap(path, data))

	cfg, err := Load(path, Default())
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", cfg.Model)
	assert.True(t, cfg.NativeTools)
	assert.Equal(t, "[a, 1]", PrettyValue([]interface{}{"a", 1}))
}
