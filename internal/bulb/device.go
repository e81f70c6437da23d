// Package bulb implements the application logic of a dimmable light:
// command dispatch, level and on/off coupling, identify handling and the
// commissioning button, all driven from a single run loop.
package bulb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// DeviceCallback receives decoded cluster callbacks from the stack.
type DeviceCallback func(ep uint8, evt CommandEvent) error

// IdentifyHandler receives identify time changes requested through the stack.
type IdentifyHandler func(ep uint8, seconds uint16)

// Stack is the protocol stack as seen by the device.
type Stack interface {
	Commissioner
	RegisterDeviceCallback(DeviceCallback)
	RegisterIdentifyHandler(IdentifyHandler)
	// Work yields queued protocol work. Each item runs on the device loop
	// and may call back into the device synchronously.
	Work() <-chan func()
}

// Outputs is the output driver plus its deferred refresh.
type Outputs interface {
	output.Driver
	Refresh() int
	RequestRefreshAll()
}

// EndpointConfig describes one light endpoint.
type EndpointConfig struct {
	ID       uint8
	Channels []output.ChannelRef
	// Level is applied at startup; nil means full brightness.
	Level *uint8
}

// Config configures a Device.
type Config struct {
	Endpoints []EndpointConfig
	// IdentifyButton is the button that toggles finding & binding.
	IdentifyButton ButtonEvent
	// CommissioningEndpoint is the endpoint the button acts on; 0 picks the first.
	CommissioningEndpoint uint8
	FrameInterval         time.Duration
	KeepaliveInterval     time.Duration
	Indicator             Indicator
	Now                   func() time.Time
}

// ErrStopped is returned by Do once the run loop has exited.
var ErrStopped = errors.New("device stopped")

// Device owns the endpoints and runs the single loop that serializes stack
// work, button presses, timers and calls from other goroutines.
type Device struct {
	cfg        Config
	endpoints  []*Endpoint
	byID       map[uint8]*Endpoint
	brightness *Brightness
	effects    *Effects
	identify   *Identify
	dispatcher *Dispatcher
	trigger    *Trigger
	stack      Stack
	outputs    Outputs
	events     *EventBus
	buttons    chan ButtonEvent
	calls      chan func()
	done       chan struct{}
	logger     *slog.Logger
}

// NewDevice builds the device, registers its callbacks with stack and
// applies the startup level of every endpoint.
func NewDevice(cfg Config, stack Stack, attrs AttributeStore, outputs Outputs, logger *slog.Logger) (*Device, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("bulb: no endpoints configured")
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 50 * time.Millisecond
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 5 * time.Second
	}
	logger = logger.With("component", "bulb")

	d := &Device{
		cfg:     cfg,
		byID:    make(map[uint8]*Endpoint),
		stack:   stack,
		outputs: outputs,
		events:  NewEventBus(logger),
		buttons: make(chan ButtonEvent, 8),
		calls:   make(chan func(), 16),
		done:    make(chan struct{}),
		logger:  logger,
	}
	for _, ec := range cfg.Endpoints {
		if _, dup := d.byID[ec.ID]; dup {
			return nil, fmt.Errorf("bulb: duplicate endpoint %d", ec.ID)
		}
		ep := NewEndpoint(ec.ID, ec.Channels...)
		d.endpoints = append(d.endpoints, ep)
		d.byID[ec.ID] = ep
	}

	commissioning := d.endpoints[0]
	if cfg.CommissioningEndpoint != 0 {
		ep, ok := d.byID[cfg.CommissioningEndpoint]
		if !ok {
			return nil, fmt.Errorf("bulb: commissioning endpoint %d not configured", cfg.CommissioningEndpoint)
		}
		commissioning = ep
	}

	d.brightness = NewBrightness(attrs, outputs, logger)
	d.effects = NewEffects(outputs, d.brightness, cfg.Now, logger)
	d.identify = NewIdentify(d.endpoints, attrs, d.effects, cfg.Indicator, d.events, logger)
	d.dispatcher = NewDispatcher(d.endpoints, d.brightness, d.identify, attrs, d.events, logger)
	d.trigger = NewTrigger(cfg.IdentifyButton, commissioning, stack, logger)

	for i, ec := range cfg.Endpoints {
		level := clusters.LevelMax
		if ec.Level != nil {
			level = *ec.Level
		}
		if err := d.brightness.SetLevel(d.endpoints[i], level); err != nil {
			return nil, fmt.Errorf("bulb: initial level of endpoint %d: %w", ec.ID, err)
		}
	}

	stack.RegisterDeviceCallback(d.dispatcher.Dispatch)
	stack.RegisterIdentifyHandler(d.handleIdentify)
	return d, nil
}

// Events returns the device event bus.
func (d *Device) Events() *EventBus { return d.events }

// Run executes the device loop until ctx is cancelled.
func (d *Device) Run(ctx context.Context) error {
	defer close(d.done)
	frame := time.NewTicker(d.cfg.FrameInterval)
	defer frame.Stop()
	second := time.NewTicker(time.Second)
	defer second.Stop()
	keepalive := time.NewTicker(d.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	d.logger.Info("device loop started", "endpoints", len(d.endpoints))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("device loop stopped")
			return ctx.Err()
		case work := <-d.stack.Work():
			work()
		case evt := <-d.buttons:
			d.handleButton(evt)
		case fn := <-d.calls:
			fn()
		case <-second.C:
			d.identify.Tick()
		case <-frame.C:
			d.effects.Step()
		case <-keepalive.C:
			d.outputs.RequestRefreshAll()
		}
		d.outputs.Refresh()
	}
}

// PressButton queues a button event for the loop. It never blocks; a press
// arriving while the queue is full is dropped.
func (d *Device) PressButton(evt ButtonEvent) {
	select {
	case d.buttons <- evt:
	default:
		d.logger.Warn("button event dropped", "event", evt)
	}
}

// Do runs fn on the device loop and waits for it. It must not be called
// from the loop itself, including event handlers.
func (d *Device) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case d.calls <- func() { fn(); close(finished) }:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// States returns a snapshot of every endpoint.
func (d *Device) States(ctx context.Context) ([]State, error) {
	var out []State
	err := d.Do(ctx, func() {
		out = make([]State, 0, len(d.endpoints))
		for _, ep := range d.endpoints {
			out = append(out, ep.Snapshot())
		}
	})
	return out, err
}

// State returns a snapshot of one endpoint.
func (d *Device) State(ctx context.Context, id uint8) (State, bool, error) {
	var (
		s  State
		ok bool
	)
	err := d.Do(ctx, func() {
		if ep, found := d.byID[id]; found {
			s, ok = ep.Snapshot(), true
		}
	})
	return s, ok, err
}

// EndpointIDs lists the configured endpoints in order. It is safe from any goroutine.
func (d *Device) EndpointIDs() []uint8 {
	ids := make([]uint8, len(d.cfg.Endpoints))
	for i, ec := range d.cfg.Endpoints {
		ids[i] = ec.ID
	}
	return ids
}

func (d *Device) handleIdentify(epID uint8, seconds uint16) {
	ep, ok := d.byID[epID]
	if !ok {
		d.logger.Warn("identify for unknown endpoint", "endpoint", epID)
		return
	}
	d.identify.Start(ep, seconds)
}

func (d *Device) handleButton(evt ButtonEvent) {
	err := d.trigger.OnButton(evt)
	handled := err == nil
	switch {
	case err == nil:
	case errors.Is(err, ErrUnhandled):
		d.logger.Debug("unhandled button event", "event", evt)
	default:
		d.logger.Warn("button handling failed", "event", evt, "error", err)
	}
	d.events.Emit(Event{Type: EventButton, Data: map[string]interface{}{
		"event":   int(evt),
		"handled": handled,
	}})
}
