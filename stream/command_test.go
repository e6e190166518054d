package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
		wantErr bool
	}{
		{name: "reset", payload: "reset", want: Command{Action: ActionReset}},
		{name: "upper case with whitespace", payload: "  ENABLE\n", want: Command{Action: ActionEnable}},
		{name: "disable", payload: "disable", want: Command{Action: ActionDisable}},
		{name: "preset", payload: "preset:gaming", want: Command{Action: ActionPreset, Arg: "gaming"}},
		{name: "JSON string", payload: `"preset:recording"`, want: Command{Action: ActionPreset, Arg: "recording"}},
		{name: "JSON object", payload: `{"action":"preset","arg":"drone"}`, want: Command{Action: ActionPreset, Arg: "drone"}},
		{name: "argument dropped for reset", payload: "reset:now", want: Command{Action: ActionReset}},
		{name: "empty", payload: "", wantErr: true},
		{name: "preset without name", payload: "preset:", wantErr: true},
		{name: "unknown", payload: "explode", wantErr: true},
		{name: "JSON object unknown", payload: `{"action":"explode"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "reset", Command{Action: ActionReset}.String())
	assert.Equal(t, "preset:gaming", Command{Action: ActionPreset, Arg: "gaming"}.String())
}
