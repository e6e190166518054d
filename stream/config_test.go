package stream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kwv/steadyframe/stabilizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: steadyframe
  clientId: steadyframe-test
http:
  listen: 127.0.0.1:9090
stabilizer:
  smoothing_radius: 45
  border: pad
streams:
  - id: cam-a
  - id: cam-b
    preset: gaming
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Listen)
	assert.Equal(t, DefaultTrajectoryLength, cfg.TrajectoryLength)

	want := []StreamConfig{{ID: "cam-a"}, {ID: "cam-b", Preset: "gaming"}}
	if diff := cmp.Diff(want, cfg.Streams); diff != "" {
		t.Errorf("Streams mismatch (-want +got):\n%s", diff)
	}

	// only the named fields change; everything else keeps its default
	expected := stabilizer.DefaultConfig()
	expected.SmoothingRadius = 45
	expected.Border = stabilizer.BorderPad
	if diff := cmp.Diff(expected, cfg.Stabilizer); diff != "" {
		t.Errorf("Stabilizer mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceConfig(), cfg)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed yaml", "stabilizer: [", "parsing config YAML"},
		{"bad stabilizer", "stabilizer:\n  smoothing_radius: 0\n", "stabilizer"},
		{"missing stream id", "streams:\n  - preset: gaming\n", "stream id is required"},
		{"duplicate stream", "streams:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"reserved character", "streams:\n  - id: a/b\n", "reserved character"},
		{"negative trajectory", "trajectoryLength: -1\n", "trajectoryLength"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_BadStabilizerWrapsSentinel(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "stabilizer:\n  max_features: -3\n"))
	assert.ErrorIs(t, err, stabilizer.ErrInvalidConfig)
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MQTT.Broker = "tcp://broker:1883"
	cfg.Streams = []StreamConfig{{ID: "front", Preset: "recording"}}
	cfg.Stabilizer.Weighting = stabilizer.WeightExponential

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveConfig_BadPath(t *testing.T) {
	err := SaveConfig(filepath.Join(t.TempDir(), "missing", "dir", "c.yaml"), DefaultServiceConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing config file")
}

func TestValidateStreamID(t *testing.T) {
	assert.NoError(t, ValidateStreamID("cam-1"))
	assert.NoError(t, ValidateStreamID("0b5c3a7e-9f5d-4a7b-8d0e-1f2a3b4c5d6e"))
	for _, bad := range []string{"", "a/b", "a+b", "a#", "a b"} {
		assert.Error(t, ValidateStreamID(bad), "id %q", bad)
	}
}
