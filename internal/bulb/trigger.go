package bulb

import (
	"fmt"
	"log/slog"
)

// ButtonEvent is one press of a physical button, numbered from 0.
type ButtonEvent int

// Commissioner starts and cancels the stack's finding & binding target
// procedure on an endpoint.
type Commissioner interface {
	StartFindingBinding(ep uint8) error
	CancelFindingBinding(ep uint8) error
}

// Trigger maps the identify button to finding & binding.
type Trigger struct {
	button       ButtonEvent
	endpoint     *Endpoint
	commissioner Commissioner
	logger       *slog.Logger
}

// NewTrigger binds button to finding & binding on ep.
func NewTrigger(button ButtonEvent, ep *Endpoint, commissioner Commissioner, logger *slog.Logger) *Trigger {
	return &Trigger{button: button, endpoint: ep, commissioner: commissioner, logger: logger}
}

// OnButton starts finding & binding when the endpoint is idle and cancels it
// while identifying. Other buttons return ErrUnhandled.
func (t *Trigger) OnButton(evt ButtonEvent) error {
	if evt != t.button {
		return fmt.Errorf("%w: button %d", ErrUnhandled, evt)
	}
	if !t.endpoint.Identifying() {
		t.logger.Info("finding & binding start", "endpoint", t.endpoint.ID)
		if err := t.commissioner.StartFindingBinding(t.endpoint.ID); err != nil {
			return fmt.Errorf("start finding & binding on endpoint %d: %w", t.endpoint.ID, err)
		}
		return nil
	}
	t.logger.Info("finding & binding cancel", "endpoint", t.endpoint.ID)
	if err := t.commissioner.CancelFindingBinding(t.endpoint.ID); err != nil {
		return fmt.Errorf("cancel finding & binding on endpoint %d: %w", t.endpoint.ID, err)
	}
	return nil
}
