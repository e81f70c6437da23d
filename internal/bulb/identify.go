package bulb

import (
	"fmt"
	"log/slog"

	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// Indicator is the dedicated commissioning LED.
type Indicator interface {
	Set(on bool) error
}

// Identify runs the identify state machine of every endpoint and drives the
// shared commissioning indicator, lit while any endpoint identifies.
//
// Visual side effects are best effort: their errors are logged and kept on
// the endpoint, the state change always stands.
type Identify struct {
	endpoints []*Endpoint
	attrs     AttributeStore
	effects   *Effects
	indicator Indicator
	events    *EventBus
	logger    *slog.Logger

	indicatorOn bool
}

// NewIdentify creates the state machine. indicator may be nil.
func NewIdentify(endpoints []*Endpoint, attrs AttributeStore, effects *Effects, indicator Indicator, events *EventBus, logger *slog.Logger) *Identify {
	return &Identify{
		endpoints: endpoints,
		attrs:     attrs,
		effects:   effects,
		indicator: indicator,
		events:    events,
		logger:    logger,
	}
}

// Start enters or extends identify mode for seconds. Zero stops it.
func (m *Identify) Start(ep *Endpoint, seconds uint16) {
	if seconds == 0 {
		m.Stop(ep)
		return
	}
	wasActive := ep.identify == IdentifyActive
	m.setTime(ep, seconds)
	if !wasActive {
		ep.identify = IdentifyActive
		ep.identifyFx = EffectBreathe
		m.effects.Start(ep, EffectBreathe, true, nil)
		m.updateIndicator()
		m.logger.Info("identify started", "endpoint", ep.ID, "seconds", seconds)
	}
	m.events.emitIdentify(ep)
}

// Stop leaves identify mode and restores the endpoint's visual state.
func (m *Identify) Stop(ep *Endpoint) {
	if ep.identify == IdentifyIdle && ep.IdentifyTime == 0 {
		return
	}
	m.setTime(ep, 0)
	ep.identify = IdentifyIdle
	ep.identifyFx = EffectStop
	m.effects.Stop(ep)
	m.updateIndicator()
	m.logger.Info("identify stopped", "endpoint", ep.ID)
	m.events.emitIdentify(ep)
}

// Trigger handles a TriggerEffect request. While identifying, Stop and
// Finish move the endpoint to Stopping and any other effect replaces the
// breathing pattern. While idle the effect plays once without gating
// commands.
func (m *Identify) Trigger(ep *Endpoint, e Effect, variant uint8) error {
	if !e.Known() {
		return fmt.Errorf("%w: identify effect 0x%02X", ErrUnsupported, uint8(e))
	}
	m.logger.Debug("identify effect", "endpoint", ep.ID, "effect", e, "variant", variant, "state", ep.identify)

	if !ep.Identifying() {
		switch e {
		case EffectStop:
			m.effects.Stop(ep)
		case EffectFinish:
			m.effects.Finish(ep)
		default:
			m.effects.Start(ep, e, false, nil)
		}
		return nil
	}

	switch e {
	case EffectStop:
		ep.identify = IdentifyStopping
		ep.identifyFx = EffectStop
		m.effects.Stop(ep)
	case EffectFinish:
		ep.identify = IdentifyStopping
		ep.identifyFx = EffectFinish
		m.effects.Finish(ep)
	default:
		ep.identify = IdentifyActive
		ep.identifyFx = e
		m.effects.Start(ep, e, true, nil)
	}
	m.events.emitIdentify(ep)
	return nil
}

// Tick advances every identifying endpoint by one second.
func (m *Identify) Tick() {
	for _, ep := range m.endpoints {
		switch {
		case ep.identify == IdentifyStopping:
			m.Stop(ep)
		case ep.IdentifyTime > 0:
			if ep.IdentifyTime == 1 {
				m.Stop(ep)
				continue
			}
			m.setTime(ep, ep.IdentifyTime-1)
		}
	}
}

func (m *Identify) setTime(ep *Endpoint, seconds uint16) {
	ep.IdentifyTime = seconds
	if err := m.attrs.SetAttribute(ep.ID, clusters.IdentifyID, zcl.RoleServer, clusters.AttrIdentifyTime, seconds, false); err != nil {
		m.logger.Warn("identify time mirror failed", "endpoint", ep.ID, "error", err)
	}
}

func (m *Identify) updateIndicator() {
	want := false
	for _, ep := range m.endpoints {
		if ep.identify != IdentifyIdle {
			want = true
			break
		}
	}
	if want == m.indicatorOn {
		return
	}
	m.indicatorOn = want
	if m.indicator == nil {
		return
	}
	if err := m.indicator.Set(want); err != nil {
		m.logger.Warn("indicator update failed", "on", want, "error", err)
	}
}
