// Package gpio provides the bulb's push buttons and commissioning indicator LED.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"sync"
	"time"
)

// Button maps one input line to the button event number it reports.
type Button struct {
	Line  int `yaml:"line"`
	Event int `yaml:"event"`
}

// PressFunc receives a debounced button event number.
type PressFunc func(event int)

// Watcher delivers button presses until closed.
type Watcher interface {
	Close() error
}

// Indicator drives a single on/off LED.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Debouncer drops edges closer than Window to the previous accepted edge on
// the same line. Timestamps are monotonic offsets such as those carried by
// kernel line events.
type Debouncer struct {
	Window time.Duration

	mu   sync.Mutex
	last map[int]time.Duration
}

// Accept reports whether an edge on line at ts counts as a new press.
func (d *Debouncer) Accept(line int, ts time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		d.last = make(map[int]time.Duration)
	}
	prev, seen := d.last[line]
	if seen && ts-prev < d.Window {
		return false
	}
	d.last[line] = ts
	return true
}
