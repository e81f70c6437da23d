package store

import (
	"fmt"
	"time"
)

// AttributeKey identifies one attribute of a local endpoint.
type AttributeKey struct {
	Endpoint  uint8  `json:"endpoint"`
	Cluster   uint16 `json:"cluster"`
	Role      uint8  `json:"role"`
	Attribute uint16 `json:"attribute"`
}

// String is the bucket key. Fixed-width hex keeps records of one endpoint
// adjacent in key order.
func (k AttributeKey) String() string {
	return fmt.Sprintf("%02x/%04x/%02x/%04x", k.Endpoint, k.Cluster, k.Role, k.Attribute)
}

// AttributeRecord is a persisted attribute value. Data holds the value in
// ZCL wire encoding for Type.
type AttributeRecord struct {
	AttributeKey
	Type      uint8     `json:"type"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NetworkState holds the network parameters the device last joined with.
type NetworkState struct {
	Channel     uint8     `json:"channel"`
	PanID       uint16    `json:"pan_id"`
	Role        string    `json:"role"`
	MaxChildren uint8     `json:"max_children"`
	Joined      bool      `json:"joined"`
	JoinedAt    time.Time `json:"joined_at"`
}
