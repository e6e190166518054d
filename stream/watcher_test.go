package stream

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	reloaded := make(chan *Config, 4)
	w, err := NewConfigWatcher(path, func(cfg *Config) { reloaded <- cfg }, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// an invalid edit is ignored
	require.NoError(t, os.WriteFile(path, []byte("stabilizer:\n  smoothing_radius: 0\n"), 0644))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("stabilizer:\n  smoothing_radius: 12\n"), 0644))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 12, cfg.Stabilizer.SmoothingRadius)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not picked up")
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	reloaded := make(chan *Config, 1)
	w, err := NewConfigWatcher(path, func(cfg *Config) { reloaded <- cfg }, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(path+".bak", []byte("junk"), 0644))
	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(600 * time.Millisecond):
	}

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "Stop is idempotent")
}
