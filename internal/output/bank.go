package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type pwmChannel struct {
	dev     PWM
	breaker *Breaker
	drops   int
}

type stripChannel struct {
	dev      Strip
	breaker  *Breaker
	dirty    bool
	lastShow time.Time
}

// Bank owns the attached output devices and implements Driver and ColorDriver.
// PWM writes are applied synchronously with bounded retries; pixel chain
// writes only update the buffer and are committed by Refresh.
type Bank struct {
	mu          sync.Mutex
	pwms        map[string]*pwmChannel
	strips      map[string]*stripChannel
	policy      RetryPolicy
	minInterval time.Duration
	sleep       func(time.Duration)
	now         func() time.Time
	logger      *slog.Logger
}

// BankOption configures a Bank.
type BankOption func(*Bank)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) BankOption {
	return func(b *Bank) { b.policy = p }
}

// WithRefreshInterval caps how often a single pixel chain is committed.
func WithRefreshInterval(d time.Duration) BankOption {
	return func(b *Bank) { b.minInterval = d }
}

// WithClock replaces the sleep and time source, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) BankOption {
	return func(b *Bank) {
		b.now = now
		b.sleep = sleep
	}
}

// NewBank creates an empty bank.
func NewBank(logger *slog.Logger, opts ...BankOption) *Bank {
	b := &Bank{
		pwms:        make(map[string]*pwmChannel),
		strips:      make(map[string]*stripChannel),
		policy:      DefaultRetryPolicy,
		minInterval: 50 * time.Millisecond,
		sleep:       time.Sleep,
		now:         time.Now,
		logger:      logger.With("component", "output"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bank) newBreaker() *Breaker {
	return NewBreaker(b.policy.BreakerThreshold, b.policy.BreakerCooldown, b.now)
}

// AttachPWM registers a PWM device under name.
func (b *Bank) AttachPWM(name string, dev PWM) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pwms[name] = &pwmChannel{dev: dev, breaker: b.newBreaker()}
}

// AttachStrip registers a pixel chain under name.
func (b *Bank) AttachStrip(name string, dev Strip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strips[name] = &stripChannel{dev: dev, breaker: b.newBreaker()}
}

// Has reports whether a device of the given kind is attached under name.
func (b *Bank) Has(name string, kind Kind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case KindPWM:
		_, ok := b.pwms[name]
		return ok
	case KindPixelChain:
		_, ok := b.strips[name]
		return ok
	}
	return false
}

// SetIntensity implements Driver.
func (b *Bank) SetIntensity(ch ChannelRef, v uint8) error {
	switch ch.Kind {
	case KindPWM:
		return b.setPWM(ch, v)
	case KindPixelChain:
		return b.paint(ch, Gray(v))
	}
	return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
}

// SetColor implements ColorDriver. Only pixel chains carry color.
func (b *Bank) SetColor(ch ChannelRef, c RGB) error {
	if ch.Kind != KindPixelChain {
		return fmt.Errorf("output: %s cannot render color", ch)
	}
	return b.paint(ch, c)
}

func (b *Bank) setPWM(ch ChannelRef, percent uint8) error {
	b.mu.Lock()
	pc, ok := b.pwms[ch.Name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if percent > 100 {
		percent = 100
	}
	if !pc.breaker.Allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, ch)
	}

	err := retryBusy(b.policy, b.sleep, func() error { return pc.dev.SetDuty(percent) })
	if err == nil {
		pc.breaker.Success()
		return nil
	}
	if pc.breaker.Failure() {
		b.logger.Warn("pwm circuit opened", "channel", ch.Name, "cooldown", b.policy.BreakerCooldown)
	}
	if errors.Is(err, ErrBusy) {
		b.mu.Lock()
		pc.drops++
		b.mu.Unlock()
		return fmt.Errorf("set %s to %d%% after %d attempts: %w", ch.Name, percent, b.policy.MaxAttempts, err)
	}
	return fmt.Errorf("set %s to %d%%: %w", ch.Name, percent, err)
}

func (b *Bank) paint(ch ChannelRef, c RGB) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc, ok := b.strips[ch.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	sc.dev.SetAll(c)
	return nil
}

// RequestRefresh implements Driver.
func (b *Bank) RequestRefresh(ch ChannelRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc, ok := b.strips[ch.Name]; ok {
		sc.dirty = true
	}
}

// RequestRefreshAll marks every pixel chain dirty.
func (b *Bank) RequestRefreshAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sc := range b.strips {
		sc.dirty = true
	}
}

// Pending reports whether any pixel chain waits for a commit.
func (b *Bank) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sc := range b.strips {
		if sc.dirty {
			return true
		}
	}
	return false
}

// Refresh commits dirty pixel chains whose last commit is at least the
// refresh interval old. A busy or failing chain stays dirty and is retried on
// a later call. It returns the number of chains committed.
func (b *Bank) Refresh() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	committed := 0
	for name, sc := range b.strips {
		if !sc.dirty || now.Sub(sc.lastShow) < b.minInterval {
			continue
		}
		if !sc.breaker.Allow() {
			continue
		}
		err := sc.dev.Show()
		switch {
		case err == nil:
			sc.breaker.Success()
			sc.dirty = false
			sc.lastShow = now
			committed++
		case errors.Is(err, ErrBusy):
		default:
			if sc.breaker.Failure() {
				b.logger.Warn("strip circuit opened", "channel", name, "error", err)
			} else {
				b.logger.Debug("strip refresh failed", "channel", name, "error", err)
			}
		}
	}
	return committed
}

// Drops returns how many PWM writes to name were dropped after exhausting retries.
func (b *Bank) Drops(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pc, ok := b.pwms[name]; ok {
		return pc.drops
	}
	return 0
}

// Names returns the attached channel names, sorted.
func (b *Bank) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.pwms)+len(b.strips))
	for n := range b.pwms {
		names = append(names, n)
	}
	for n := range b.strips {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close blanks and closes every device.
func (b *Bank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, pc := range b.pwms {
		if err := pc.dev.SetDuty(0); err != nil {
			b.logger.Debug("blank pwm on close", "channel", name, "error", err)
		}
		if err := pc.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	for name, sc := range b.strips {
		sc.dev.SetAll(RGB{})
		if err := sc.dev.Show(); err != nil {
			b.logger.Debug("blank strip on close", "channel", name, "error", err)
		}
		if err := sc.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
