//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealWatcher is not available on non-Linux platforms.
type RealWatcher struct{}

// NewWatcher returns an error on non-Linux platforms.
func NewWatcher(chip string, buttons []Button, activeLow bool, debounce time.Duration, onPress PressFunc) (*RealWatcher, error) {
	return nil, errUnsupported
}

// Close is a no-op.
func (w *RealWatcher) Close() error { return nil }

// RealIndicator is not available on non-Linux platforms.
type RealIndicator struct{}

// NewIndicator returns an error on non-Linux platforms.
func NewIndicator(chip string, line int, activeLow bool) (*RealIndicator, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (i *RealIndicator) Set(on bool) error { return errUnsupported }

// Close is a no-op.
func (i *RealIndicator) Close() error { return nil }
