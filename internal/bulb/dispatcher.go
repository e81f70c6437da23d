package bulb

import (
	"errors"
	"fmt"
	"log/slog"

	"zigbee-go-bulb/internal/zcl"
)

var errUnknownEndpoint = errors.New("unknown endpoint")

// Dispatcher routes stack callbacks to the brightness coordinator, the
// identify state machine or the attribute store.
type Dispatcher struct {
	endpoints  map[uint8]*Endpoint
	brightness *Brightness
	identify   *Identify
	attrs      AttributeStore
	events     *EventBus
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher over endpoints.
func NewDispatcher(endpoints []*Endpoint, brightness *Brightness, identify *Identify, attrs AttributeStore, events *EventBus, logger *slog.Logger) *Dispatcher {
	byID := make(map[uint8]*Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byID[ep.ID] = ep
	}
	return &Dispatcher{
		endpoints:  byID,
		brightness: brightness,
		identify:   identify,
		attrs:      attrs,
		events:     events,
		logger:     logger,
	}
}

// Dispatch handles one event for endpoint epID. The returned error is the
// command's response status (see StatusOf); it is never fatal.
func (d *Dispatcher) Dispatch(epID uint8, evt CommandEvent) error {
	ep, ok := d.endpoints[epID]
	if !ok {
		err := fmt.Errorf("%w: %w %d", ErrUnsupported, errUnknownEndpoint, epID)
		d.report(epID, evt, err)
		return err
	}
	err := d.dispatch(ep, evt)
	d.report(epID, evt, err)
	return err
}

func (d *Dispatcher) dispatch(ep *Endpoint, evt CommandEvent) error {
	if _, isEffect := evt.(IdentifyEffect); ep.Identifying() && !isEffect {
		return fmt.Errorf("%w: endpoint %d is identifying", ErrBusy, ep.ID)
	}

	switch e := evt.(type) {
	case SetLevel:
		if err := d.brightness.SetLevel(ep, e.Level); err != nil {
			return err
		}
		d.events.emitState(ep)
		return nil
	case SetAttribute:
		if err := d.attrs.SetAttribute(ep.ID, e.Cluster, e.Role, e.Attribute, e.Value, true); err != nil {
			return fmt.Errorf("%w: %w", ErrAttributeWriteFailed, err)
		}
		return nil
	case IdentifyEffect:
		return d.identify.Trigger(ep, e.Effect, e.Variant)
	case Unknown:
		return fmt.Errorf("%w: cluster 0x%04X command 0x%02X", ErrUnsupported, e.Cluster, e.Command)
	case nil:
		return fmt.Errorf("%w: empty event", ErrUnsupported)
	default:
		return fmt.Errorf("%w: event %T", ErrUnsupported, evt)
	}
}

func (d *Dispatcher) report(epID uint8, evt CommandEvent, err error) {
	status := StatusOf(err)
	name := "<nil>"
	if evt != nil {
		name = evt.String()
	}
	switch {
	case err == nil:
		d.logger.Debug("command handled", "endpoint", epID, "command", name)
	case errors.Is(err, ErrBusy):
		d.logger.Info("command rejected", "endpoint", epID, "command", name, "status", status)
	default:
		d.logger.Warn("command failed", "endpoint", epID, "command", name, "status", status, "error", err)
	}
	d.events.Emit(Event{Type: EventCommand, Data: map[string]interface{}{
		"endpoint": epID,
		"command":  name,
		"status":   status.String(),
		"success":  status == zcl.StatusSuccess,
	}})
}
