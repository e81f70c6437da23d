// Package output drives the physical light outputs of an endpoint: PWM
// channels that apply an intensity immediately and addressable pixel chains
// that only become visible after a deferred refresh.
package output

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned by a device that cannot accept a write yet.
	ErrBusy = errors.New("output: channel busy")
	// ErrCircuitOpen is returned while a channel is cooling down after repeated failures.
	ErrCircuitOpen = errors.New("output: circuit open")
	// ErrUnknownChannel is returned for a ChannelRef with no attached device.
	ErrUnknownChannel = errors.New("output: unknown channel")
)

// Kind is the physical kind of an output channel.
type Kind uint8

const (
	KindPWM Kind = iota
	KindPixelChain
)

func (k Kind) String() string {
	switch k {
	case KindPWM:
		return "pwm"
	case KindPixelChain:
		return "pixel_chain"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses the configuration spelling of a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "pwm":
		return KindPWM, nil
	case "pixel_chain", "pixels", "strip":
		return KindPixelChain, nil
	}
	return 0, fmt.Errorf("output: unknown channel kind %q", s)
}

// Scaling is applied to a pixel chain intensity before it is broadcast.
type Scaling uint8

const (
	ScalingNone Scaling = iota
	// ScalingHalve halves values of 2 and above to cap perceived brightness.
	ScalingHalve
)

func (s Scaling) String() string {
	if s == ScalingHalve {
		return "halve"
	}
	return "none"
}

// ParseScaling parses the configuration spelling of a Scaling. Empty means none.
func ParseScaling(s string) (Scaling, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ScalingNone, nil
	case "halve":
		return ScalingHalve, nil
	}
	return 0, fmt.Errorf("output: unknown scaling %q", s)
}

// Apply returns v scaled by the policy.
func (s Scaling) Apply(v uint8) uint8 {
	if s == ScalingHalve && v >= 2 {
		return v / 2
	}
	return v
}

// ChannelRef names one physical output of an endpoint.
type ChannelRef struct {
	Name    string  `json:"name"`
	Kind    Kind    `json:"kind"`
	Scaling Scaling `json:"scaling"`
}

func (c ChannelRef) String() string {
	return c.Name + "/" + c.Kind.String()
}

// RGB is one pixel color.
type RGB struct {
	R, G, B uint8
}

// Gray returns a monochrome white color at intensity v.
func Gray(v uint8) RGB { return RGB{R: v, G: v, B: v} }

// Driver applies intensities to channels.
type Driver interface {
	// SetIntensity applies v, already in the channel's native domain. PWM
	// channels take a duty cycle in percent, pixel chains a sub-channel value.
	SetIntensity(ch ChannelRef, v uint8) error
	// RequestRefresh marks a pixel chain for commit. Idempotent.
	RequestRefresh(ch ChannelRef)
}

// ColorDriver is implemented by drivers that can paint a pixel chain in a color.
type ColorDriver interface {
	SetColor(ch ChannelRef, c RGB) error
}

// PWM is a single hardware PWM output.
type PWM interface {
	// SetDuty applies a duty cycle in percent [0,100]. It returns ErrBusy when
	// the peripheral has not finished the previous request.
	SetDuty(percent uint8) error
	Close() error
}

// Strip is an addressable pixel chain.
type Strip interface {
	Len() int
	SetAll(c RGB)
	// Show commits the pixel buffer to the hardware. ErrBusy means a previous
	// transfer is still running.
	Show() error
	Close() error
}
