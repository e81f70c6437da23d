package clusters

import "zigbee-go-bulb/internal/zcl"

// ColorControl is declared for the color dimmable light device profile. The
// endpoint renders monochrome white, so only the capability attributes are
// served and color commands are rejected as unsupported.
var ColorControl = zcl.ClusterDef{
	ID:   ColorControlID,
	Name: "Color Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CurrentHue", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "CurrentSaturation", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0002, Name: "RemainingTime", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "CurrentX", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0004, Name: "CurrentY", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0008, Name: "ColorMode", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x000F, Name: "Options", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x400A, Name: "ColorCapabilities", Type: zcl.TypeBitmap16, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "MoveToHue", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "MoveToSaturation", Direction: zcl.DirectionToServer},
		{ID: 0x06, Name: "MoveToHueAndSaturation", Direction: zcl.DirectionToServer},
		{ID: 0x07, Name: "MoveToColor", Direction: zcl.DirectionToServer},
		{ID: 0x0A, Name: "MoveToColorTemperature", Direction: zcl.DirectionToServer},
		{ID: 0x47, Name: "StopMoveStep", Direction: zcl.DirectionToServer},
	},
}
