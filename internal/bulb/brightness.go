package bulb

import (
	"fmt"
	"log/slog"

	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// AttributeStore is the stack-owned attribute table.
type AttributeStore interface {
	SetAttribute(ep uint8, cluster uint16, role zcl.Role, attr uint16, value interface{}, checkAccess bool) error
}

// Brightness keeps the level and on/off attributes of an endpoint coupled and
// renders the level on its output channels.
type Brightness struct {
	attrs  AttributeStore
	driver output.Driver
	logger *slog.Logger
}

// NewBrightness creates a coordinator writing through attrs and driver.
func NewBrightness(attrs AttributeStore, driver output.Driver, logger *slog.Logger) *Brightness {
	return &Brightness{attrs: attrs, driver: driver, logger: logger}
}

// SetLevel writes the level, derives on/off from it and updates the outputs.
// On error neither the attributes nor the endpoint are left changed.
func (b *Brightness) SetLevel(ep *Endpoint, level uint8) error {
	prev := ep.CurrentLevel
	if err := b.attrs.SetAttribute(ep.ID, clusters.LevelControlID, zcl.RoleServer, clusters.AttrCurrentLevel, level, false); err != nil {
		return fmt.Errorf("%w: current level: %w", ErrAttributeWriteFailed, err)
	}
	on := level != 0
	if err := b.attrs.SetAttribute(ep.ID, clusters.OnOffID, zcl.RoleServer, clusters.AttrOnOff, on, false); err != nil {
		if rbErr := b.attrs.SetAttribute(ep.ID, clusters.LevelControlID, zcl.RoleServer, clusters.AttrCurrentLevel, prev, false); rbErr != nil {
			b.logger.Error("level rollback failed", "endpoint", ep.ID, "level", prev, "error", rbErr)
		}
		return fmt.Errorf("%w: on/off: %w", ErrAttributeWriteFailed, err)
	}

	ep.CurrentLevel = level
	ep.OnOff = on
	b.Apply(ep)
	return nil
}

// Apply renders the endpoint's current level on all of its channels.
func (b *Brightness) Apply(ep *Endpoint) {
	for _, ch := range ep.Channels {
		b.render(ep.ID, ch, NativeIntensity(ch, ep.CurrentLevel))
	}
}

func (b *Brightness) render(epID uint8, ch output.ChannelRef, v uint8) {
	if err := b.driver.SetIntensity(ch, v); err != nil {
		b.logger.Warn("brightness update dropped", "endpoint", epID, "channel", ch.Name, "value", v, "error", err)
	}
	if ch.Kind == output.KindPixelChain {
		b.driver.RequestRefresh(ch)
	}
}

// NativeIntensity translates a level in [0,255] into the channel's domain:
// percent for PWM, scaled sub-channel value for pixel chains.
func NativeIntensity(ch output.ChannelRef, level uint8) uint8 {
	switch ch.Kind {
	case output.KindPWM:
		return uint8(uint16(level) * 100 / 255)
	case output.KindPixelChain:
		return ch.Scaling.Apply(level)
	default:
		return level
	}
}
