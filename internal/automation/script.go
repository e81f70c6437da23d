package automation

import (
	"context"

	"zigbee-go-bulb/internal/bulb"
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script represents a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"` // raw Lua source (without header)
	FilePath string     `json:"-"`        // absolute path on disk
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Light is the device scripts observe.
type Light interface {
	Events() *bulb.EventBus
	State(ctx context.Context, ep uint8) (bulb.State, bool, error)
	EndpointIDs() []uint8
	PressButton(evt bulb.ButtonEvent)
}

// Controller sends commands to the light's endpoints. Commands take the
// same path as network frames, so identify gating applies to scripts too.
type Controller interface {
	On(ctx context.Context, ep uint8) error
	Off(ctx context.Context, ep uint8) error
	Toggle(ctx context.Context, ep uint8) error
	SetLevel(ctx context.Context, ep uint8, level uint8) error
	Identify(ctx context.Context, ep uint8, seconds uint16) error
	TriggerEffect(ctx context.Context, ep uint8, effect bulb.Effect, variant uint8) error
}
