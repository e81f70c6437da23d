//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"zigbee-go-bulb/internal/bulb"

	lua "github.com/yuin/gopher-lua"
)

const (
	commandTimeout = 5 * time.Second
	runTimeout     = 5 * time.Second
)

// luaEventHandler is a registered Lua callback for one event type. Every
// filter entry must equal the event field of the same name.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs one sandboxed Lua VM per enabled script and feeds them the
// device events. Lua code never runs on the device loop: events are
// handed to each VM's goroutine and dropped when it falls behind.
type Engine struct {
	light   Light
	ctl     Controller
	manager *Manager
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(light Light, ctl Controller, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		light:   light,
		ctl:     ctl,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		now:     time.Now,
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to device events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.light.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels all VMs and unsubscribes from device events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of running script VMs.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// RunningIDs lists the IDs of running scripts.
func (e *Engine) RunningIDs() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ReloadScript stops the old VM (if any) and starts a new one when the
// script is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary sandboxed VM and captures its log
// output. Handlers the code registers with bulb.on are called once with a
// synthetic event built from their filter, so their actions run too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	var (
		logs  []string
		logMu sync.Mutex
	)
	registerBulbModule(L, vm, e, func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
		e.logger.Info("script run log", "msg", msg)
	})

	result := func(err error) *RunResult {
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
			e.logger.Warn("script run failed", "err", r.Error)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		for k, v := range h.filter {
			ev.RawSetString(k, lua.LString(v))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerBulbModule(L, vm, e, nil)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// newSandbox creates a Lua state without file, process or module access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// dispatchEvent routes a device event to all matching Lua handlers. It runs
// on the device loop and never blocks.
func (e *Engine) dispatchEvent(event bulb.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			if vm.ctx.Err() != nil {
				break
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event bulb.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if len(h.filter) == 0 {
		return true
	}
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return false
	}
	for k, want := range h.filter {
		v, ok := data[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event bulb.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	if data, ok := event.Data.(map[string]interface{}); ok {
		for k, v := range data {
			ev.RawSetString(k, goToLua(L, v))
		}
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "type", event.Type, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
