package clusters

import "zigbee-go-bulb/internal/zcl"

// Cluster IDs served by the light endpoint.
const (
	BasicID        uint16 = 0x0000
	IdentifyID     uint16 = 0x0003
	GroupsID       uint16 = 0x0004
	ScenesID       uint16 = 0x0005
	OnOffID        uint16 = 0x0006
	LevelControlID uint16 = 0x0008
	ColorControlID uint16 = 0x0300
)

// Attribute IDs the core reads or writes directly.
const (
	AttrOnOff        uint16 = 0x0000
	AttrCurrentLevel uint16 = 0x0000
	AttrOnLevel      uint16 = 0x0011
	AttrIdentifyTime uint16 = 0x0000
)

// Command IDs handled by the stack.
const (
	CmdOff    uint8 = 0x00
	CmdOn     uint8 = 0x01
	CmdToggle uint8 = 0x02

	CmdMoveToLevel          uint8 = 0x00
	CmdMove                 uint8 = 0x01
	CmdStep                 uint8 = 0x02
	CmdStop                 uint8 = 0x03
	CmdMoveToLevelWithOnOff uint8 = 0x04
	CmdStepWithOnOff        uint8 = 0x06

	CmdIdentify      uint8 = 0x00
	CmdIdentifyQuery uint8 = 0x01
	CmdTriggerEffect uint8 = 0x40
)

// Light returns the cluster set of a dimmable light endpoint in declaration order.
func Light() []zcl.ClusterDef {
	return []zcl.ClusterDef{Basic, Identify, Groups, Scenes, OnOff, LevelControl, ColorControl}
}
