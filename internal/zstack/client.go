package zstack

import (
	"context"
	"encoding/binary"
	"fmt"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// AttributeResult holds a decoded attribute read result.
type AttributeResult struct {
	AttrID   uint16      `json:"attr_id"`
	AttrName string      `json:"attr_name"`
	TypeID   uint8       `json:"type_id"`
	TypeName string      `json:"type_name"`
	Value    interface{} `json:"value"`
	Status   uint8       `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// Client sends ZCL frames to the local endpoints through the stack queue,
// the same path a remote controller's frames take. Non-success statuses
// are returned as *zcl.StatusError.
type Client struct {
	stack *Stack
}

// NewClient creates a client for s.
func NewClient(s *Stack) *Client {
	return &Client{stack: s}
}

// Stack returns the stack the client submits to.
func (c *Client) Stack() *Stack { return c.stack }

func (c *Client) On(ctx context.Context, ep uint8) error {
	return c.command(ctx, CommandFrame(ep, clusters.OnOffID, clusters.CmdOn))
}

func (c *Client) Off(ctx context.Context, ep uint8) error {
	return c.command(ctx, CommandFrame(ep, clusters.OnOffID, clusters.CmdOff))
}

func (c *Client) Toggle(ctx context.Context, ep uint8) error {
	return c.command(ctx, CommandFrame(ep, clusters.OnOffID, clusters.CmdToggle))
}

// SetLevel sends MoveToLevelWithOnOff with no transition.
func (c *Client) SetLevel(ctx context.Context, ep uint8, level uint8) error {
	return c.command(ctx, CommandFrame(ep, clusters.LevelControlID, clusters.CmdMoveToLevelWithOnOff, level, 0, 0))
}

// Step moves the level by size, switching off when stepping down to zero.
func (c *Client) Step(ctx context.Context, ep uint8, up bool, size uint8) error {
	mode := uint8(0x01)
	if up {
		mode = 0x00
	}
	return c.command(ctx, CommandFrame(ep, clusters.LevelControlID, clusters.CmdStepWithOnOff, mode, size, 0, 0))
}

// Identify starts identify mode for seconds; zero stops it.
func (c *Client) Identify(ctx context.Context, ep uint8, seconds uint16) error {
	return c.command(ctx, CommandFrame(ep, clusters.IdentifyID, clusters.CmdIdentify,
		binary.LittleEndian.AppendUint16(nil, seconds)...))
}

// IdentifyQuery returns the remaining identify time of ep.
func (c *Client) IdentifyQuery(ctx context.Context, ep uint8) (uint16, error) {
	f := CommandFrame(ep, clusters.IdentifyID, clusters.CmdIdentifyQuery)
	resp, err := c.submit(ctx, f)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 2 {
		return 0, malformed("identify query response of %d bytes", len(resp.Payload))
	}
	return binary.LittleEndian.Uint16(resp.Payload), nil
}

func (c *Client) TriggerEffect(ctx context.Context, ep uint8, effect bulb.Effect, variant uint8) error {
	return c.command(ctx, CommandFrame(ep, clusters.IdentifyID, clusters.CmdTriggerEffect, uint8(effect), variant))
}

// SendClusterCommand sends a raw cluster-specific command.
func (c *Client) SendClusterCommand(ctx context.Context, ep uint8, cluster uint16, command uint8, payload []byte) error {
	return c.command(ctx, CommandFrame(ep, cluster, command, payload...))
}

// ReadAttributes reads attributes of a local endpoint/cluster.
func (c *Client) ReadAttributes(ctx context.Context, ep uint8, clusterID uint16, attrIDs []uint16) ([]AttributeResult, error) {
	resp, err := c.submit(ctx, ReadAttributesFrame(ep, clusterID, attrIDs...))
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	records, err := ParseReadResponse(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}

	cluster := c.stack.attrs.registry.Get(clusterID)
	results := make([]AttributeResult, 0, len(records))
	for _, r := range records {
		result := AttributeResult{
			AttrID:   r.Attribute,
			Status:   uint8(r.Status),
			TypeID:   r.Type,
			TypeName: zcl.TypeName(r.Type),
			Value:    r.Value,
		}
		if cluster != nil {
			if attr := cluster.FindAttribute(r.Attribute); attr != nil {
				result.AttrName = attr.Name
			}
		}
		if result.AttrName == "" {
			result.AttrName = fmt.Sprintf("0x%04X", r.Attribute)
		}
		if r.Status != zcl.StatusSuccess {
			result.Error = r.Status.String()
		}
		results = append(results, result)
	}
	return results, nil
}

// WriteAttribute writes a single attribute using its declared type.
func (c *Client) WriteAttribute(ctx context.Context, ep uint8, clusterID uint16, attrID uint16, value interface{}) error {
	def, err := c.stack.attrs.Definition(ep, clusterID, zcl.RoleServer, attrID)
	if err != nil {
		return err
	}
	f, err := WriteAttributesFrame(ep, clusterID, WriteRecord{Attribute: attrID, Type: def.Type, Value: value})
	if err != nil {
		return zcl.Errorf(zcl.StatusInvalidValue, "%s: %v", def.Name, err)
	}
	resp, err := c.submit(ctx, f)
	if err != nil {
		return err
	}
	failed, err := ParseWriteResponse(resp.Payload)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return zcl.Errorf(failed[0].Status, "write %s", def.Name)
	}
	return nil
}

func (c *Client) command(ctx context.Context, f Frame) error {
	_, err := c.submit(ctx, f)
	return err
}

func (c *Client) submit(ctx context.Context, f Frame) (Response, error) {
	resp, err := c.stack.Submit(ctx, f)
	if err != nil {
		return Response{}, err
	}
	if resp.Status != zcl.StatusSuccess {
		return resp, zcl.Errorf(resp.Status, "endpoint %d cluster 0x%04X command 0x%02X", f.Endpoint, f.Cluster, f.Command)
	}
	return resp, nil
}
