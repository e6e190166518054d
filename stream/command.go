package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command actions accepted on the control topic and the HTTP API
const (
	ActionReset   = "reset"
	ActionPreset  = "preset"
	ActionEnable  = "enable"
	ActionDisable = "disable"
)

// Command is a control request for one stream
type Command struct {
	Action string `json:"action"`
	Arg    string `json:"arg,omitempty"`
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Action
	}
	return c.Action + ":" + c.Arg
}

// ParseCommand accepts "reset", "enable", "disable", "preset:<name>", a
// JSON string holding one of those, or a JSON object {"action","arg"}
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err == nil && cmd.Action != "" {
		return normalizeCommand(cmd)
	}
	var plain string
	if err := json.Unmarshal(payload, &plain); err == nil {
		text = strings.TrimSpace(plain)
	}
	if text == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	action, arg, _ := strings.Cut(text, ":")
	return normalizeCommand(Command{Action: action, Arg: arg})
}

func normalizeCommand(cmd Command) (Command, error) {
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	cmd.Arg = strings.TrimSpace(cmd.Arg)
	switch cmd.Action {
	case ActionReset, ActionEnable, ActionDisable:
		cmd.Arg = ""
		return cmd, nil
	case ActionPreset:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("preset command needs a name")
		}
		return cmd, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", cmd.Action)
}
