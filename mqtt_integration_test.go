package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/steadyframe/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMQTTServiceRoundTrip drives a running service over a real broker:
// control messages reach the stream and metrics come back
func TestMQTTServiceRoundTrip(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	t.Setenv("MQTT_BROKER", broker)
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	prefix := fmt.Sprintf("steadyframe-test-%d", time.Now().UnixNano())
	configYAML := fmt.Sprintf(`mqtt:
  publishPrefix: %q
  clientId: %q
http:
  listen: 127.0.0.1:0
streams:
  - id: cam
`, prefix, prefix)

	dir := t.TempDir()
	var out bytes.Buffer
	app := NewApp(&out)
	require.NoError(t, app.ApplyOptions(AppOptions{ConfigFile: writeFile(t, filepath.Join(dir, "config.yaml"), configYAML)}))
	app.Log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()
	require.Eventually(t, func() bool { return app.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return app.MQTTClient.IsConnected() }, 10*time.Second, 50*time.Millisecond)

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(prefix + "-probe")
	probe := mqtt.NewClient(opts)
	token := probe.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer probe.Disconnect(250)

	metrics := make(chan stream.StreamMetrics, 16)
	token = probe.Subscribe(prefix+"/cam/metrics", 0, func(_ mqtt.Client, msg mqtt.Message) {
		var sm stream.StreamMetrics
		if json.Unmarshal(msg.Payload(), &sm) == nil {
			metrics <- sm
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	// frames posted over HTTP show up as MQTT metrics
	base := "http://" + app.Addr().String()
	resp, err := http.Post(base+"/streams/cam/frames?width=160&height=120", "application/octet-stream", bytes.NewReader(shakyFrames(1)[0]))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case sm := <-metrics:
		assert.Equal(t, "cam", sm.StreamID)
	case <-time.After(5 * time.Second):
		t.Fatal("no metrics received")
	}

	// control topic disables the stream
	token = probe.Publish(prefix+"/cam/control", 1, false, "disable")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.Eventually(t, func() bool {
		st, ok := app.Registry.Get("cam")
		return ok && !st.Info().Enabled
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Contains(t, out.String(), prefix+"/{streamID}/control")
}
