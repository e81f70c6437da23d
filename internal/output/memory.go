package output

import "sync"

// MemoryPWM is an in-process PWM used when no hardware is configured and in tests.
type MemoryPWM struct {
	mu     sync.Mutex
	duty   uint8
	writes int
	busy   int
	err    error
	closed bool
}

// NewMemoryPWM returns a PWM that records the last duty cycle.
func NewMemoryPWM() *MemoryPWM { return &MemoryPWM{} }

// SetDuty implements PWM.
func (m *MemoryPWM) SetDuty(percent uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.busy > 0 {
		m.busy--
		return ErrBusy
	}
	m.duty = percent
	m.writes++
	return nil
}

// Duty returns the last applied duty cycle.
func (m *MemoryPWM) Duty() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty
}

// Writes returns how many writes were applied.
func (m *MemoryPWM) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailBusy makes the next n writes return ErrBusy.
func (m *MemoryPWM) FailBusy(n int) {
	m.mu.Lock()
	m.busy = n
	m.mu.Unlock()
}

// FailWith makes every write return err until called with nil.
func (m *MemoryPWM) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Close implements PWM.
func (m *MemoryPWM) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MemoryPWM) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MemoryStrip is an in-process pixel chain keeping a pending and a shown buffer.
type MemoryStrip struct {
	mu      sync.Mutex
	pending []RGB
	shown   []RGB
	shows   int
	busy    int
}

// NewMemoryStrip returns a strip of n pixels.
func NewMemoryStrip(n int) *MemoryStrip {
	return &MemoryStrip{pending: make([]RGB, n), shown: make([]RGB, n)}
}

// Len implements Strip.
func (s *MemoryStrip) Len() int { return len(s.pending) }

// SetAll implements Strip.
func (s *MemoryStrip) SetAll(c RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		s.pending[i] = c
	}
}

// Show implements Strip.
func (s *MemoryStrip) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy > 0 {
		s.busy--
		return ErrBusy
	}
	copy(s.shown, s.pending)
	s.shows++
	return nil
}

// Pending returns the color of the first buffered pixel.
func (s *MemoryStrip) Pending() RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return RGB{}
	}
	return s.pending[0]
}

// Shown returns a copy of the last committed pixels.
func (s *MemoryStrip) Shown() []RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RGB, len(s.shown))
	copy(out, s.shown)
	return out
}

// Shows returns how many commits happened.
func (s *MemoryStrip) Shows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows
}

// FailBusy makes the next n commits return ErrBusy.
func (s *MemoryStrip) FailBusy(n int) {
	s.mu.Lock()
	s.busy = n
	s.mu.Unlock()
}

// Close implements Strip.
func (s *MemoryStrip) Close() error { return nil }
