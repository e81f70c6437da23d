package bulb

import (
	"log/slog"
	"time"

	"zigbee-go-bulb/internal/output"
)

var (
	colorWhite  = output.RGB{R: 255, G: 255, B: 255}
	colorGreen  = output.RGB{G: 255}
	colorOrange = output.RGB{R: 255, G: 128}
)

// effectShape describes one cycle of a visual effect and how many cycles a
// one-shot run lasts.
type effectShape struct {
	cycle  time.Duration
	cycles int
	color  output.RGB // pixel chain color
}

var effectShapes = map[Effect]effectShape{
	EffectBlink:         {cycle: time.Second, cycles: 1, color: colorWhite},
	EffectBreathe:       {cycle: time.Second, cycles: 15, color: colorGreen},
	EffectOkay:          {cycle: time.Second, cycles: 1, color: colorGreen},
	EffectChannelChange: {cycle: 8 * time.Second, cycles: 1, color: colorOrange},
}

// effectLevel returns the brightness of effect e at offset phase into its cycle.
func effectLevel(e Effect, phase, cycle time.Duration) uint8 {
	switch e {
	case EffectBlink:
		if phase < cycle/2 {
			return 255
		}
		return 0
	case EffectBreathe:
		half := int64(cycle / 2)
		p := int64(phase)
		if p < half {
			return uint8(255 * p / half)
		}
		return uint8(255 * (int64(cycle) - p) / half)
	case EffectOkay:
		if (phase/(cycle/4))%2 == 0 {
			return 255
		}
		return 0
	case EffectChannelChange:
		if phase < 500*time.Millisecond {
			return 255
		}
		return 1
	}
	return 0
}

func scaleColor(c output.RGB, v uint8) output.RGB {
	return output.RGB{
		R: uint8(uint16(c.R) * uint16(v) / 255),
		G: uint8(uint16(c.G) * uint16(v) / 255),
		B: uint8(uint16(c.B) * uint16(v) / 255),
	}
}

type effectRun struct {
	ep       *Endpoint
	effect   Effect
	shape    effectShape
	start    time.Time
	loop     bool
	finishAt int // last cycle to play once finishing, -1 otherwise
	onDone   func(*Endpoint)
}

// Effects plays identify effects on endpoint channels, one run per endpoint.
type Effects struct {
	driver     output.Driver
	brightness *Brightness
	now        func() time.Time
	runs       map[uint8]*effectRun
	logger     *slog.Logger
}

// NewEffects creates an effect player rendering through driver.
func NewEffects(driver output.Driver, brightness *Brightness, now func() time.Time, logger *slog.Logger) *Effects {
	if now == nil {
		now = time.Now
	}
	return &Effects{
		driver:     driver,
		brightness: brightness,
		now:        now,
		runs:       make(map[uint8]*effectRun),
		logger:     logger,
	}
}

// Start replaces any running effect on ep. A looping run repeats until
// stopped; otherwise it ends after its natural length, restores the
// endpoint's level and calls onDone.
func (p *Effects) Start(ep *Endpoint, e Effect, loop bool, onDone func(*Endpoint)) bool {
	shape, ok := effectShapes[e]
	if !ok {
		return false
	}
	p.runs[ep.ID] = &effectRun{
		ep:       ep,
		effect:   e,
		shape:    shape,
		start:    p.now(),
		loop:     loop,
		finishAt: -1,
		onDone:   onDone,
	}
	p.render(p.runs[ep.ID], 0)
	return true
}

// Finish lets the current cycle complete, then ends the run.
func (p *Effects) Finish(ep *Endpoint) {
	r, ok := p.runs[ep.ID]
	if !ok {
		return
	}
	r.finishAt = int(p.now().Sub(r.start) / r.shape.cycle)
}

// Stop ends the run on ep at once and restores its level.
func (p *Effects) Stop(ep *Endpoint) {
	if _, ok := p.runs[ep.ID]; !ok {
		return
	}
	delete(p.runs, ep.ID)
	p.brightness.Apply(ep)
}

// Running returns the effect playing on ep.
func (p *Effects) Running(epID uint8) (Effect, bool) {
	r, ok := p.runs[epID]
	if !ok {
		return 0, false
	}
	return r.effect, true
}

// Step renders one frame of every running effect.
func (p *Effects) Step() {
	now := p.now()
	for id, r := range p.runs {
		elapsed := now.Sub(r.start)
		cycle := int(elapsed / r.shape.cycle)
		done := (!r.loop && cycle >= r.shape.cycles) || (r.finishAt >= 0 && cycle > r.finishAt)
		if done {
			delete(p.runs, id)
			p.brightness.Apply(r.ep)
			if r.onDone != nil {
				r.onDone(r.ep)
			}
			continue
		}
		p.render(r, elapsed%r.shape.cycle)
	}
}

func (p *Effects) render(r *effectRun, phase time.Duration) {
	v := effectLevel(r.effect, phase, r.shape.cycle)
	var firstErr error
	for _, ch := range r.ep.Channels {
		var err error
		switch ch.Kind {
		case output.KindPixelChain:
			if cd, ok := p.driver.(output.ColorDriver); ok {
				err = cd.SetColor(ch, scaleColor(r.shape.color, ch.Scaling.Apply(v)))
			} else {
				err = p.driver.SetIntensity(ch, NativeIntensity(ch, v))
			}
			p.driver.RequestRefresh(ch)
		default:
			err = p.driver.SetIntensity(ch, NativeIntensity(ch, v))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil && r.ep.lastEffectErr == nil {
		p.logger.Debug("effect frame failed", "endpoint", r.ep.ID, "effect", r.effect, "error", firstErr)
	}
	r.ep.lastEffectErr = firstErr
}
