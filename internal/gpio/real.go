//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealWatcher watches button lines for press edges.
type RealWatcher struct {
	lines []*gpiocdev.Line
}

// NewWatcher requests every button line on chip as an edge-detecting input.
// With activeLow the lines are pulled up and a press pulls them to ground.
func NewWatcher(chip string, buttons []Button, activeLow bool, debounce time.Duration, onPress PressFunc) (*RealWatcher, error) {
	if len(buttons) == 0 {
		return nil, errors.New("gpio: no buttons configured")
	}
	deb := &Debouncer{Window: debounce}
	w := &RealWatcher{}
	for _, b := range buttons {
		event := b.Event
		line := b.Line
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				if deb.Accept(line, evt.Timestamp) {
					onPress(event)
				}
			}),
		}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
		} else {
			opts = append(opts, gpiocdev.WithPullDown)
		}
		l, err := gpiocdev.RequestLine(chip, line, opts...)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request button line %d: %w", line, err)
		}
		w.lines = append(w.lines, l)
	}
	return w, nil
}

// Close releases all button lines.
func (w *RealWatcher) Close() error {
	var errs []error
	for _, l := range w.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.lines = nil
	return errors.Join(errs...)
}

// RealIndicator is an LED on an output line.
type RealIndicator struct {
	line *gpiocdev.Line
}

// NewIndicator requests line on chip as an output, initially off.
func NewIndicator(chip string, line int, activeLow bool) (*RealIndicator, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := gpiocdev.RequestLine(chip, line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request indicator line %d: %w", line, err)
	}
	return &RealIndicator{line: l}, nil
}

// Set switches the LED.
func (i *RealIndicator) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return i.line.SetValue(v)
}

// Close turns the LED off and releases the line.
func (i *RealIndicator) Close() error {
	var errs []error
	if err := i.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("switch off: %w", err))
	}
	if err := i.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	return errors.Join(errs...)
}
