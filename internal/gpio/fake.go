package gpio

import "sync"

// FakeIndicator records every state it is set to.
type FakeIndicator struct {
	mu sync.Mutex

	// States holds the sequence of values passed to Set.
	States []bool

	// SetError, if set, is returned by Set after recording the call.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// Set records on and returns SetError.
func (f *FakeIndicator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = append(f.States, on)
	return f.SetError
}

// On reports the last recorded state.
func (f *FakeIndicator) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.States) > 0 && f.States[len(f.States)-1]
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeWatcher lets tests inject button presses.
type FakeWatcher struct {
	OnPress PressFunc
	Closed  bool
}

// Press delivers event as if the button had been pressed.
func (f *FakeWatcher) Press(event int) {
	if f.OnPress != nil && !f.Closed {
		f.OnPress(event)
	}
}

// Close stops delivery.
func (f *FakeWatcher) Close() error {
	f.Closed = true
	return nil
}
