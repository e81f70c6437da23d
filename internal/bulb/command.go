package bulb

import (
	"fmt"
	"strings"

	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// CommandEvent is one decoded cluster callback from the stack. The set of
// variants is closed: SetLevel, SetAttribute, IdentifyEffect and Unknown.
type CommandEvent interface {
	commandEvent()
	String() string
}

// SetLevel requests a new brightness level.
type SetLevel struct {
	Level uint8
}

// SetAttribute is a raw attribute write forwarded to the attribute store.
type SetAttribute struct {
	Cluster   uint16
	Role      zcl.Role
	Attribute uint16
	Value     interface{}
}

// IdentifyEffect is a TriggerEffect request.
type IdentifyEffect struct {
	Effect  Effect
	Variant uint8
}

// Unknown is any callback the endpoint has no handler for.
type Unknown struct {
	Cluster uint16
	Command uint8
}

func (SetLevel) commandEvent()       {}
func (SetAttribute) commandEvent()   {}
func (IdentifyEffect) commandEvent() {}
func (Unknown) commandEvent()        {}

func (e SetLevel) String() string { return fmt.Sprintf("set_level(%d)", e.Level) }

func (e SetAttribute) String() string {
	return fmt.Sprintf("set_attribute(0x%04X/0x%04X=%v)", e.Cluster, e.Attribute, e.Value)
}

func (e IdentifyEffect) String() string { return fmt.Sprintf("identify_effect(%s)", e.Effect) }

func (e Unknown) String() string {
	return fmt.Sprintf("unknown(0x%04X/0x%02X)", e.Cluster, e.Command)
}

// Effect is an Identify cluster effect identifier.
type Effect uint8

const (
	EffectBlink         = Effect(clusters.EffectBlink)
	EffectBreathe       = Effect(clusters.EffectBreathe)
	EffectOkay          = Effect(clusters.EffectOkay)
	EffectChannelChange = Effect(clusters.EffectChannelChange)
	EffectFinish        = Effect(clusters.EffectFinish)
	EffectStop          = Effect(clusters.EffectStop)
)

var effectNames = map[Effect]string{
	EffectBlink:         "blink",
	EffectBreathe:       "breathe",
	EffectOkay:          "okay",
	EffectChannelChange: "channel_change",
	EffectFinish:        "finish",
	EffectStop:          "stop",
}

func (e Effect) String() string {
	if name, ok := effectNames[e]; ok {
		return name
	}
	return fmt.Sprintf("effect(0x%02X)", uint8(e))
}

// Known reports whether e is a defined effect.
func (e Effect) Known() bool {
	_, ok := effectNames[e]
	return ok
}

// ParseEffect resolves an effect by name.
func ParseEffect(name string) (Effect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for e, s := range effectNames {
		if s == n {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: effect %q", ErrUnsupported, name)
}
