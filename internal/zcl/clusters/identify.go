package clusters

import "zigbee-go-bulb/internal/zcl"

// Identify effect identifiers carried by TriggerEffect.
const (
	EffectBlink         uint8 = 0x00
	EffectBreathe       uint8 = 0x01
	EffectOkay          uint8 = 0x02
	EffectChannelChange uint8 = 0x0B
	EffectFinish        uint8 = 0xFE
	EffectStop          uint8 = 0xFF
)

var Identify = zcl.ClusterDef{
	ID:   IdentifyID,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: AttrIdentifyTime, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: CmdIdentify, Name: "Identify", Direction: zcl.DirectionToServer},
		{ID: CmdIdentifyQuery, Name: "IdentifyQuery", Direction: zcl.DirectionToServer},
		{ID: CmdTriggerEffect, Name: "TriggerEffect", Direction: zcl.DirectionToServer},
		{ID: 0x00, Name: "IdentifyQueryResponse", Direction: zcl.DirectionToClient},
	},
}
