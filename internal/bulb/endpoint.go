package bulb

import (
	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// IdentifyState is the identify state of an endpoint.
type IdentifyState uint8

const (
	IdentifyIdle IdentifyState = iota
	IdentifyActive
	IdentifyStopping
)

func (s IdentifyState) String() string {
	switch s {
	case IdentifyActive:
		return "identifying"
	case IdentifyStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Endpoint is the application state of one light endpoint. It is owned by
// the Device run loop; other goroutines read it through Device.State.
type Endpoint struct {
	ID           uint8
	OnOff        bool
	CurrentLevel uint8
	IdentifyTime uint16 // seconds left, 0 when not identifying
	Channels     []output.ChannelRef

	identify      IdentifyState
	identifyFx    Effect
	lastEffectErr error
}

// NewEndpoint returns an endpoint at full brightness, switched on.
func NewEndpoint(id uint8, channels ...output.ChannelRef) *Endpoint {
	return &Endpoint{
		ID:           id,
		OnOff:        true,
		CurrentLevel: clusters.LevelMax,
		Channels:     channels,
	}
}

// Identifying reports whether the endpoint refuses normal commands.
func (e *Endpoint) Identifying() bool {
	return e.IdentifyTime != 0
}

// IdentifyState returns the identify state machine state.
func (e *Endpoint) IdentifyState() IdentifyState {
	return e.identify
}

// State is a read-only copy of an endpoint.
type State struct {
	Endpoint     uint8               `json:"endpoint"`
	On           bool                `json:"on"`
	Level        uint8               `json:"level"`
	IdentifyTime uint16              `json:"identify_time"`
	Identify     string              `json:"identify"`
	Effect       string              `json:"effect,omitempty"`
	Channels     []output.ChannelRef `json:"channels"`
}

// Snapshot copies the endpoint.
func (e *Endpoint) Snapshot() State {
	s := State{
		Endpoint:     e.ID,
		On:           e.OnOff,
		Level:        e.CurrentLevel,
		IdentifyTime: e.IdentifyTime,
		Identify:     e.identify.String(),
		Channels:     append([]output.ChannelRef(nil), e.Channels...),
	}
	if e.identify != IdentifyIdle {
		s.Effect = e.identifyFx.String()
	}
	return s
}
