package clusters

import "zigbee-go-bulb/internal/zcl"

// Level bounds of LevelControl/CurrentLevel.
const (
	LevelMin uint8 = 0x00
	LevelMax uint8 = 0xFF
)

var LevelControl = zcl.ClusterDef{
	ID:   LevelControlID,
	Name: "Level Control",
	Attributes: []zcl.AttributeDef{
		{ID: AttrCurrentLevel, Name: "CurrentLevel", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "RemainingTime", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x000F, Name: "Options", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0010, Name: "OnOffTransitionTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: AttrOnLevel, Name: "OnLevel", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: CmdMoveToLevel, Name: "MoveToLevel", Direction: zcl.DirectionToServer},
		{ID: CmdMove, Name: "Move", Direction: zcl.DirectionToServer},
		{ID: CmdStep, Name: "Step", Direction: zcl.DirectionToServer},
		{ID: CmdStop, Name: "Stop", Direction: zcl.DirectionToServer},
		{ID: CmdMoveToLevelWithOnOff, Name: "MoveToLevelWithOnOff", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "MoveWithOnOff", Direction: zcl.DirectionToServer},
		{ID: CmdStepWithOnOff, Name: "StepWithOnOff", Direction: zcl.DirectionToServer},
		{ID: 0x07, Name: "StopWithOnOff", Direction: zcl.DirectionToServer},
	},
}
