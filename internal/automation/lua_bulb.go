//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"time"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerBulbModule registers the `bulb` global table in a Lua state. When
// logf is nil, bulb.log goes to the engine logger only.
func registerBulbModule(L *lua.LState, vm *scriptVM, e *Engine, logf func(string)) {
	fns := map[string]lua.LGFunction{
		"on": func(L *lua.LState) int { return bulbOn(L, vm) },
		"turn_on": func(L *lua.LState) int {
			return bulbCommand(L, e, func(ctx context.Context, ep uint8) error { return e.ctl.On(ctx, ep) })
		},
		"turn_off": func(L *lua.LState) int {
			return bulbCommand(L, e, func(ctx context.Context, ep uint8) error { return e.ctl.Off(ctx, ep) })
		},
		"toggle": func(L *lua.LState) int {
			return bulbCommand(L, e, func(ctx context.Context, ep uint8) error { return e.ctl.Toggle(ctx, ep) })
		},
		"set_level": func(L *lua.LState) int { return bulbSetLevel(L, e) },
		"identify":  func(L *lua.LState) int { return bulbIdentify(L, e) },
		"effect":    func(L *lua.LState) int { return bulbEffect(L, e) },
		"press":     func(L *lua.LState) int { return bulbPress(L, e) },
		"state":     func(L *lua.LState) int { return bulbState(L, e) },
		"endpoints": func(L *lua.LState) int { return bulbEndpoints(L, e) },
		"after":     func(L *lua.LState) int { return bulbAfter(L, vm, e) },
		"log":       func(L *lua.LState) int { return bulbLog(L, e, logf) },
		"clock":     func(L *lua.LState) int { return bulbClock(L, e) },
		"between":   func(L *lua.LState) int { return bulbBetween(L, e) },
	}
	L.SetGlobal("bulb", L.SetFuncs(L.NewTable(), fns))
}

// bulb.on(type, [filter], callback)
func bulbOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	h := luaEventHandler{eventType: eventType}

	switch L.GetTop() {
	case 2:
		h.fn = L.CheckFunction(2)
	default:
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		filter.ForEach(func(k, v lua.LValue) {
			if h.filter == nil {
				h.filter = make(map[string]string)
			}
			h.filter[k.String()] = v.String()
		})
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

func checkEndpoint(L *lua.LState, n int) uint8 {
	ep := L.CheckInt(n)
	if ep < 1 || ep > 240 {
		L.ArgError(n, "endpoint must be 1-240")
		return 0
	}
	return uint8(ep)
}

// pushResult returns true, or false and the failure reason. ZCL failures
// are reported by status name so scripts can compare them.
func pushResult(L *lua.LState, err error) int {
	if err == nil {
		L.Push(lua.LTrue)
		return 1
	}
	L.Push(lua.LFalse)
	var se *zcl.StatusError
	if errors.As(err, &se) {
		L.Push(lua.LString(se.Status.String()))
	} else {
		L.Push(lua.LString(err.Error()))
	}
	return 2
}

// bulb.turn_on/turn_off/toggle(ep)
func bulbCommand(L *lua.LState, e *Engine, send func(context.Context, uint8) error) int {
	ep := checkEndpoint(L, 1)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err := send(ctx, ep)
	if err != nil {
		e.logger.Warn("script command failed", "endpoint", ep, "err", err)
	}
	return pushResult(L, err)
}

// bulb.set_level(ep, level)
func bulbSetLevel(L *lua.LState, e *Engine) int {
	ep := checkEndpoint(L, 1)
	level := L.CheckInt(2)
	if level < 0 {
		level = 0
	}
	if level > 255 {
		level = 255
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err := e.ctl.SetLevel(ctx, ep, uint8(level))
	if err != nil {
		e.logger.Warn("set level failed", "endpoint", ep, "level", level, "err", err)
	}
	return pushResult(L, err)
}

// bulb.identify(ep, seconds)
func bulbIdentify(L *lua.LState, e *Engine) int {
	ep := checkEndpoint(L, 1)
	seconds := L.CheckInt(2)
	if seconds < 0 || seconds > 0xFFFF {
		L.ArgError(2, "seconds must be 0-65535")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err := e.ctl.Identify(ctx, ep, uint16(seconds))
	if err != nil {
		e.logger.Warn("identify failed", "endpoint", ep, "err", err)
	}
	return pushResult(L, err)
}

// bulb.effect(ep, name, [variant])
func bulbEffect(L *lua.LState, e *Engine) int {
	ep := checkEndpoint(L, 1)
	effect, err := bulb.ParseEffect(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	variant := L.OptInt(3, 0)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err = e.ctl.TriggerEffect(ctx, ep, effect, uint8(variant))
	if err != nil {
		e.logger.Warn("trigger effect failed", "endpoint", ep, "effect", effect, "err", err)
	}
	return pushResult(L, err)
}

// bulb.press(button)
func bulbPress(L *lua.LState, e *Engine) int {
	button := L.CheckInt(1)
	if button < 0 {
		L.ArgError(1, "button must not be negative")
		return 0
	}
	e.light.PressButton(bulb.ButtonEvent(button))
	return 0
}

// bulb.state(ep) returns a table, or nil for an unknown endpoint.
func bulbState(L *lua.LState, e *Engine) int {
	ep := checkEndpoint(L, 1)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	st, ok, err := e.light.State(ctx, ep)
	if err != nil || !ok {
		L.Push(lua.LNil)
		return 1
	}

	t := L.NewTable()
	t.RawSetString("endpoint", lua.LNumber(st.Endpoint))
	t.RawSetString("on", lua.LBool(st.On))
	t.RawSetString("level", lua.LNumber(st.Level))
	t.RawSetString("identify_time", lua.LNumber(st.IdentifyTime))
	t.RawSetString("identify", lua.LString(st.Identify))
	if st.Effect != "" {
		t.RawSetString("effect", lua.LString(st.Effect))
	}
	L.Push(t)
	return 1
}

// bulb.endpoints()
func bulbEndpoints(L *lua.LState, e *Engine) int {
	t := L.NewTable()
	for i, id := range e.light.EndpointIDs() {
		t.RawSetInt(i+1, lua.LNumber(id))
	}
	L.Push(t)
	return 1
}

// bulb.after(seconds, callback)
func bulbAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// bulb.log(msg)
func bulbLog(L *lua.LState, e *Engine, logf func(string)) int {
	msg := L.CheckString(1)
	if logf != nil {
		logf(msg)
		return 0
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}

// bulb.clock(component)
func bulbClock(L *lua.LState, e *Engine) int {
	component := L.CheckString(1)
	now := e.now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// bulb.between(from_hour, to_hour) wraps around midnight when from > to.
func bulbBetween(L *lua.LState, e *Engine) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	hour := e.now().Hour()

	var in bool
	if from <= to {
		in = hour >= from && hour < to
	} else {
		in = hour >= from || hour < to
	}
	L.Push(lua.LBool(in))
	return 1
}
