//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl"

	lua "github.com/yuin/gopher-lua"
)

type fakeLight struct {
	events *bulb.EventBus

	mu      sync.Mutex
	states  map[uint8]bulb.State
	pressed []bulb.ButtonEvent
}

func newFakeLight() *fakeLight {
	return &fakeLight{
		events: bulb.NewEventBus(newTestLogger()),
		states: map[uint8]bulb.State{
			1: {Endpoint: 1, On: true, Level: 128, Identify: "idle"},
		},
	}
}

func (f *fakeLight) Events() *bulb.EventBus { return f.events }

func (f *fakeLight) State(_ context.Context, ep uint8) (bulb.State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[ep]
	return s, ok, nil
}

func (f *fakeLight) EndpointIDs() []uint8 { return []uint8{1} }

func (f *fakeLight) PressButton(evt bulb.ButtonEvent) {
	f.mu.Lock()
	f.pressed = append(f.pressed, evt)
	f.mu.Unlock()
}

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeController) record(format string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return c.err
}

func (c *fakeController) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeController) On(_ context.Context, ep uint8) error     { return c.record("on %d", ep) }
func (c *fakeController) Off(_ context.Context, ep uint8) error    { return c.record("off %d", ep) }
func (c *fakeController) Toggle(_ context.Context, ep uint8) error { return c.record("toggle %d", ep) }

func (c *fakeController) SetLevel(_ context.Context, ep uint8, level uint8) error {
	return c.record("level %d %d", ep, level)
}

func (c *fakeController) Identify(_ context.Context, ep uint8, seconds uint16) error {
	return c.record("identify %d %d", ep, seconds)
}

func (c *fakeController) TriggerEffect(_ context.Context, ep uint8, effect bulb.Effect, variant uint8) error {
	return c.record("effect %d %s %d", ep, effect, variant)
}

func newTestEngine(t *testing.T) (*Engine, *fakeLight, *fakeController) {
	t.Helper()
	light := newFakeLight()
	ctl := &fakeController{}
	e := NewEngine(light, ctl, newTestManager(t), newTestLogger())
	e.now = func() time.Time { return time.Date(2024, 3, 5, 23, 15, 0, 0, time.UTC) }
	t.Cleanup(e.Stop)
	return e, light, ctl
}

func waitForCalls(t *testing.T, ctl *fakeController, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := ctl.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, have %v", n, ctl.Calls())
	return nil
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val); got.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got.Type(), tt.want)
			}
		})
	}
}

func TestMatchesHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler luaEventHandler
		event   bulb.Event
		want    bool
	}{
		{
			"no filter",
			luaEventHandler{eventType: bulb.EventStateChanged},
			bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{"endpoint": uint8(1)}},
			true,
		},
		{
			"wrong type",
			luaEventHandler{eventType: bulb.EventIdentify},
			bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{}},
			false,
		},
		{
			"endpoint match",
			luaEventHandler{eventType: bulb.EventStateChanged, filter: map[string]string{"endpoint": "1", "on": "true"}},
			bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{"endpoint": uint8(1), "on": true}},
			true,
		},
		{
			"endpoint mismatch",
			luaEventHandler{eventType: bulb.EventStateChanged, filter: map[string]string{"endpoint": "2"}},
			bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{"endpoint": uint8(1)}},
			false,
		},
		{
			"missing field",
			luaEventHandler{eventType: bulb.EventButton, filter: map[string]string{"event": "3"}},
			bulb.Event{Type: bulb.EventButton, Data: map[string]interface{}{"handled": true}},
			false,
		},
		{
			"non-map data",
			luaEventHandler{eventType: bulb.EventButton, filter: map[string]string{"event": "3"}},
			bulb.Event{Type: bulb.EventButton, Data: 3},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeCommands(t *testing.T) {
	e, light, ctl := newTestEngine(t)

	res := e.RunLuaCode(`
bulb.turn_on(1)
bulb.set_level(1, 300)
bulb.set_level(1, -4)
bulb.toggle(1)
bulb.identify(1, 5)
bulb.effect(1, "breathe")
bulb.press(3)
bulb.log("done")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"on 1", "level 1 255", "level 1 0", "toggle 1", "identify 1 5", "effect 1 breathe 0"}
	if got := ctl.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "done" {
		t.Errorf("logs = %v", res.Logs)
	}
	light.mu.Lock()
	defer light.mu.Unlock()
	if len(light.pressed) != 1 || light.pressed[0] != 3 {
		t.Errorf("pressed = %v", light.pressed)
	}
}

func TestRunLuaCodeStatusResult(t *testing.T) {
	e, _, ctl := newTestEngine(t)
	ctl.err = zcl.Errorf(zcl.StatusActionDenied, "identifying")

	res := e.RunLuaCode(`
local ok, err = bulb.set_level(1, 10)
bulb.log(tostring(ok) .. " " .. err)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "false ACTION_DENIED" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeQueries(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
local s = bulb.state(1)
bulb.log(tostring(s.on) .. " " .. s.level .. " " .. s.identify)
bulb.log(tostring(bulb.state(7)))
bulb.log(#bulb.endpoints() .. " " .. bulb.endpoints()[1])
bulb.log(bulb.clock("hour") .. " " .. bulb.clock("date_str"))
bulb.log(tostring(bulb.between(22, 6)) .. " " .. tostring(bulb.between(8, 22)))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"true 128 idle", "nil", "1 1", "23 2024-03-05", "true false"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e, _, ctl := newTestEngine(t)

	tests := []struct {
		name string
		code string
	}{
		{"syntax", `bulb.log(`},
		{"sandboxed os", `os.exit(1)`},
		{"sandboxed io", `io.open("/etc/passwd")`},
		{"endpoint range", `bulb.turn_on(0)`},
		{"unknown effect", `bulb.effect(1, "sparkle")`},
		{"unknown clock component", `bulb.clock("century")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := e.RunLuaCode(tt.code); res.OK || res.Error == "" {
				t.Errorf("result = %+v, want failure", res)
			}
		})
	}
	if calls := ctl.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestRunLuaCodeCallsHandlers(t *testing.T) {
	e, _, ctl := newTestEngine(t)

	res := e.RunLuaCode(`
bulb.on("state_changed", {endpoint=1}, function(ev)
	bulb.turn_off(tonumber(ev.endpoint))
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if calls := ctl.Calls(); len(calls) != 1 || calls[0] != "off 1" {
		t.Errorf("calls = %v, want [off 1]", calls)
	}
}

func TestRunScriptNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if res := e.RunScript("missing"); res.OK {
		t.Error("expected failure for missing script")
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	e, light, ctl := newTestEngine(t)

	if _, err := e.manager.Save(&Script{
		ID:   "follow",
		Meta: ScriptMeta{Name: "Follow", Enabled: true},
		LuaCode: `
bulb.on("state_changed", {endpoint=1, on=false}, function(ev)
	bulb.set_level(1, ev.level + 1)
end)
`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{
		ID:      "disabled",
		Meta:    ScriptMeta{Name: "Disabled"},
		LuaCode: `bulb.on("state_changed", function(ev) bulb.toggle(1) end)`,
	}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if ids := e.RunningIDs(); len(ids) != 1 || ids[0] != "follow" {
		t.Fatalf("running = %v, want [follow]", ids)
	}

	light.events.Emit(bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{
		"endpoint": uint8(1), "on": true, "level": uint8(10),
	}})
	light.events.Emit(bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{
		"endpoint": uint8(1), "on": false, "level": uint8(41),
	}})

	calls := waitForCalls(t, ctl, 1)
	if calls[0] != "level 1 42" {
		t.Errorf("calls = %v, want [level 1 42]", calls)
	}

	e.Stop()
	if e.Running() != 0 {
		t.Errorf("running after stop = %d", e.Running())
	}
}

func TestEngineReloadScript(t *testing.T) {
	e, _, ctl := newTestEngine(t)
	e.Start()

	s, err := e.manager.Save(&Script{
		ID:      "later",
		Meta:    ScriptMeta{Name: "Later", Enabled: true},
		LuaCode: `bulb.after(0.01, function() bulb.turn_on(1) end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if e.Running() != 1 {
		t.Fatalf("running = %d, want 1", e.Running())
	}
	if calls := waitForCalls(t, ctl, 1); calls[0] != "on 1" {
		t.Errorf("calls = %v", calls)
	}

	s.Meta.Enabled = false
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if e.Running() != 0 {
		t.Errorf("running after disable = %d, want 0", e.Running())
	}

	if err := e.ReloadScript("missing"); err == nil {
		t.Error("expected error reloading a missing script")
	}
}

func TestEngineStartScriptError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.manager.Save(&Script{
		ID:      "broken",
		Meta:    ScriptMeta{Enabled: true},
		LuaCode: `bulb.on(`,
	}); err != nil {
		t.Fatal(err)
	}
	e.Start()
	if e.Running() != 0 {
		t.Errorf("running = %d, want 0", e.Running())
	}
}
