// Package zstack emulates the protocol stack side of a Zigbee light: it owns
// the attribute table, queues incoming ZCL frames onto the device loop,
// decodes them into device callbacks and answers with ZCL statuses.
package zstack

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/store"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("stack queue closed")

// Network roles.
const (
	RoleRouter    = "router"
	RoleEndDevice = "end_device"
)

// Config holds the network parameters of the stack.
type Config struct {
	Channel     uint8
	PanID       uint16
	Role        string
	MaxChildren uint8
	// FindingBindingTime is the identify time, in seconds, of a finding &
	// binding target.
	FindingBindingTime uint16
	QueueSize          int
}

// NetworkInfo describes the network the stack runs on.
type NetworkInfo struct {
	Channel     uint8   `json:"channel"`
	PanID       string  `json:"pan_id"`
	Role        string  `json:"role"`
	MaxChildren uint8   `json:"max_children"`
	Joined      bool    `json:"joined"`
	Resumed     bool    `json:"resumed"`
	Endpoints   []uint8 `json:"endpoints"`
}

// Stack queues protocol work for the device loop and turns ZCL frames into
// bulb callbacks. Everything below Handle runs on that loop.
type Stack struct {
	cfg    Config
	attrs  *Attributes
	work   chan func()
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once

	mu       sync.Mutex
	callback bulb.DeviceCallback
	identify bulb.IdentifyHandler
	// remembered holds the last non-zero level per endpoint for On.
	remembered map[uint8]uint8
	joined     bool
	resumed    bool
}

// New creates a stack over attrs.
func New(cfg Config, attrs *Attributes, logger *slog.Logger) *Stack {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Role == "" {
		cfg.Role = RoleRouter
	}
	s := &Stack{
		cfg:        cfg,
		attrs:      attrs,
		work:       make(chan func(), cfg.QueueSize),
		done:       make(chan struct{}),
		logger:     logger.With("component", "zstack"),
		remembered: make(map[uint8]uint8),
	}
	attrs.OnChange(s.trackLevel)
	return s
}

// RegisterDeviceCallback sets the receiver of decoded cluster commands.
func (s *Stack) RegisterDeviceCallback(cb bulb.DeviceCallback) {
	s.mu.Lock()
	s.callback = cb
	s.mu.Unlock()
}

// RegisterIdentifyHandler sets the receiver of identify time changes.
func (s *Stack) RegisterIdentifyHandler(h bulb.IdentifyHandler) {
	s.mu.Lock()
	s.identify = h
	s.mu.Unlock()
}

// Work yields queued frames for the device loop.
func (s *Stack) Work() <-chan func() { return s.work }

// StartFindingBinding makes ep a finding & binding target: it identifies
// for the configured commissioning time.
func (s *Stack) StartFindingBinding(ep uint8) error {
	if !s.attrs.HasCluster(ep, clusters.IdentifyID, zcl.RoleServer) {
		return fmt.Errorf("finding & binding on endpoint %d: %w", ep,
			zcl.Errorf(zcl.StatusUnsupportedCluster, "no identify cluster"))
	}
	h := s.identifyHandler()
	if h == nil {
		return errors.New("finding & binding: no identify handler")
	}
	s.logger.Info("finding & binding target started", "endpoint", ep, "seconds", s.cfg.FindingBindingTime)
	h(ep, s.cfg.FindingBindingTime)
	return nil
}

// CancelFindingBinding ends the target procedure by clearing identify time.
func (s *Stack) CancelFindingBinding(ep uint8) error {
	h := s.identifyHandler()
	if h == nil {
		return errors.New("finding & binding: no identify handler")
	}
	s.logger.Info("finding & binding target cancelled", "endpoint", ep)
	h(ep, 0)
	return nil
}

// Submit queues f for the device loop and waits for its response.
func (s *Stack) Submit(ctx context.Context, f Frame) (Response, error) {
	reply := make(chan Response, 1)
	work := func() { reply <- s.Handle(f) }

	select {
	case <-s.done:
		return Response{}, ErrQueueClosed
	default:
	}
	select {
	case s.work <- work:
	case <-s.done:
		return Response{}, ErrQueueClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-s.done:
		return Response{}, ErrQueueClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close rejects further frames and releases pending Submit calls.
func (s *Stack) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Join records the network in st. A stored network with the same
// parameters is resumed, anything else counts as a fresh join.
func (s *Stack) Join(st store.Store) error {
	resumed := s.canResume(st)
	state := &store.NetworkState{
		Channel:     s.cfg.Channel,
		PanID:       s.cfg.PanID,
		Role:        s.cfg.Role,
		MaxChildren: s.cfg.MaxChildren,
		Joined:      true,
		JoinedAt:    time.Now(),
	}
	if resumed {
		if prev, err := st.GetNetworkState(); err == nil {
			state.JoinedAt = prev.JoinedAt
		}
	}
	if err := st.SaveNetworkState(state); err != nil {
		return fmt.Errorf("save network state: %w", err)
	}

	s.mu.Lock()
	s.joined, s.resumed = true, resumed
	s.mu.Unlock()
	if resumed {
		s.logger.Info("network resumed", "channel", s.cfg.Channel, "panID", fmt.Sprintf("0x%04X", s.cfg.PanID))
	} else {
		s.logger.Info("network joined", "channel", s.cfg.Channel, "panID", fmt.Sprintf("0x%04X", s.cfg.PanID),
			"role", s.cfg.Role, "maxChildren", s.cfg.MaxChildren)
	}
	return nil
}

func (s *Stack) canResume(st store.Store) bool {
	ns, err := st.GetNetworkState()
	if err != nil || !ns.Joined {
		return false
	}
	return ns.Channel == s.cfg.Channel &&
		ns.PanID == s.cfg.PanID &&
		ns.Role == s.cfg.Role
}

// NetworkInfo returns the current network parameters.
func (s *Stack) NetworkInfo() NetworkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NetworkInfo{
		Channel:     s.cfg.Channel,
		PanID:       fmt.Sprintf("0x%04X", s.cfg.PanID),
		Role:        s.cfg.Role,
		MaxChildren: s.cfg.MaxChildren,
		Joined:      s.joined,
		Resumed:     s.resumed,
		Endpoints:   s.attrs.Endpoints(),
	}
}

// Attributes returns the attribute table the stack serves.
func (s *Stack) Attributes() *Attributes { return s.attrs }

// Handle processes one frame. It must run on the device loop.
func (s *Stack) Handle(f Frame) Response {
	resp, err := s.handle(f)
	if err != nil {
		resp.Status = bulb.StatusOf(err)
		if resp.Status == zcl.StatusFailure {
			s.logger.Warn("frame failed", "endpoint", f.Endpoint, "cluster", fmt.Sprintf("0x%04X", f.Cluster),
				"command", f.Command, "error", err)
		}
	}
	return resp
}

func (s *Stack) handle(f Frame) (Response, error) {
	if !s.attrs.HasCluster(f.Endpoint, f.Cluster, zcl.RoleServer) {
		return Response{}, zcl.Errorf(zcl.StatusUnsupportedCluster, "endpoint %d cluster 0x%04X", f.Endpoint, f.Cluster)
	}
	if f.Global {
		switch f.Command {
		case zcl.FoundationReadAttributes:
			return s.readAttributes(f)
		case zcl.FoundationWriteAttributes:
			return s.writeAttributes(f)
		default:
			return Response{}, zcl.Errorf(zcl.StatusUnsupGeneralCmd, "global command 0x%02X", f.Command)
		}
	}

	switch f.Cluster {
	case clusters.OnOffID:
		return Response{}, s.onOff(f)
	case clusters.LevelControlID:
		return Response{}, s.levelControl(f)
	case clusters.IdentifyID:
		return s.identifyCommand(f)
	default:
		return Response{}, s.dispatch(f.Endpoint, bulb.Unknown{Cluster: f.Cluster, Command: f.Command})
	}
}

func (s *Stack) readAttributes(f Frame) (Response, error) {
	ids, err := parseReadRequest(f.Payload)
	if err != nil {
		return Response{}, err
	}
	records := make([]ReadRecord, 0, len(ids))
	for _, id := range ids {
		r := ReadRecord{Attribute: id}
		def, err := s.attrs.Definition(f.Endpoint, f.Cluster, zcl.RoleServer, id)
		if err == nil && !def.IsReadable() {
			err = zcl.Errorf(zcl.StatusUnsupportedAttr, "%s not readable", def.Name)
		}
		if err == nil {
			r.Type = def.Type
			r.Value, err = s.attrs.Get(f.Endpoint, f.Cluster, zcl.RoleServer, id)
		}
		if err != nil {
			r.Status = zcl.StatusFromError(err)
		}
		records = append(records, r)
	}
	payload, err := encodeReadResponse(records)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: zcl.StatusSuccess, Payload: payload}, nil
}

func (s *Stack) writeAttributes(f Frame) (Response, error) {
	records, err := parseWriteRecords(f.Payload)
	if err != nil {
		return Response{}, err
	}
	var failed []WriteStatus
	for _, r := range records {
		if err := s.writeRecord(f.Endpoint, f.Cluster, r); err != nil {
			failed = append(failed, WriteStatus{Status: bulb.StatusOf(err), Attribute: r.Attribute})
		}
	}
	return Response{Status: zcl.StatusSuccess, Payload: encodeWriteResponse(failed)}, nil
}

func (s *Stack) writeRecord(ep uint8, cluster uint16, r WriteRecord) error {
	def, err := s.attrs.Definition(ep, cluster, zcl.RoleServer, r.Attribute)
	if err != nil {
		return err
	}
	if def.Type != r.Type {
		return zcl.Errorf(zcl.StatusInvalidDataType, "%s is %s, got %s", def.Name, zcl.TypeName(def.Type), zcl.TypeName(r.Type))
	}
	if cluster == clusters.IdentifyID && r.Attribute == clusters.AttrIdentifyTime {
		seconds, _ := r.Value.(uint16)
		return s.startIdentify(ep, seconds)
	}
	return s.dispatch(ep, bulb.SetAttribute{
		Cluster:   cluster,
		Role:      zcl.RoleServer,
		Attribute: r.Attribute,
		Value:     r.Value,
	})
}

func (s *Stack) onOff(f Frame) error {
	switch f.Command {
	case clusters.CmdOff:
		return s.dispatch(f.Endpoint, bulb.SetLevel{Level: 0})
	case clusters.CmdOn:
		return s.dispatch(f.Endpoint, bulb.SetLevel{Level: s.onLevel(f.Endpoint)})
	case clusters.CmdToggle:
		v, _ := s.attrs.Get(f.Endpoint, clusters.OnOffID, zcl.RoleServer, clusters.AttrOnOff)
		if on, _ := v.(bool); on {
			return s.dispatch(f.Endpoint, bulb.SetLevel{Level: 0})
		}
		return s.dispatch(f.Endpoint, bulb.SetLevel{Level: s.onLevel(f.Endpoint)})
	default:
		return s.dispatch(f.Endpoint, bulb.Unknown{Cluster: f.Cluster, Command: f.Command})
	}
}

// onLevel picks the level On restores: a configured OnLevel, else the last
// non-zero level, else full brightness.
func (s *Stack) onLevel(ep uint8) uint8 {
	if v, err := s.attrs.Get(ep, clusters.LevelControlID, zcl.RoleServer, clusters.AttrOnLevel); err == nil {
		if lvl, ok := v.(uint8); ok && lvl != OnLevelUnset && lvl != 0 {
			return lvl
		}
	}
	s.mu.Lock()
	lvl := s.remembered[ep]
	s.mu.Unlock()
	if lvl != 0 {
		return lvl
	}
	return clusters.LevelMax
}

func (s *Stack) currentLevel(ep uint8) uint8 {
	v, _ := s.attrs.Get(ep, clusters.LevelControlID, zcl.RoleServer, clusters.AttrCurrentLevel)
	lvl, _ := v.(uint8)
	return lvl
}

func (s *Stack) levelControl(f Frame) error {
	p := f.Payload
	switch f.Command {
	case clusters.CmdMoveToLevel, clusters.CmdMoveToLevelWithOnOff:
		if len(p) < 1 {
			return malformed("move to level without level")
		}
		return s.dispatch(f.Endpoint, bulb.SetLevel{Level: p[0]})
	case clusters.CmdStep, clusters.CmdStepWithOnOff:
		if len(p) < 2 {
			return malformed("step of %d bytes", len(p))
		}
		floor := 1
		if f.Command == clusters.CmdStepWithOnOff {
			floor = 0
		}
		lvl := int(s.currentLevel(f.Endpoint))
		switch p[0] {
		case 0x00:
			lvl += int(p[1])
		case 0x01:
			lvl -= int(p[1])
		default:
			return zcl.Errorf(zcl.StatusInvalidField, "step mode 0x%02X", p[0])
		}
		lvl = max(floor, min(lvl, int(clusters.LevelMax)))
		return s.dispatch(f.Endpoint, bulb.SetLevel{Level: uint8(lvl)})
	default:
		// No transitions: Move and Stop have nothing to act on.
		return s.dispatch(f.Endpoint, bulb.Unknown{Cluster: f.Cluster, Command: f.Command})
	}
}

func (s *Stack) identifyCommand(f Frame) (Response, error) {
	switch f.Command {
	case clusters.CmdIdentify:
		if len(f.Payload) < 2 {
			return Response{}, malformed("identify of %d bytes", len(f.Payload))
		}
		return Response{}, s.startIdentify(f.Endpoint, binary.LittleEndian.Uint16(f.Payload))
	case clusters.CmdIdentifyQuery:
		v, err := s.attrs.Get(f.Endpoint, clusters.IdentifyID, zcl.RoleServer, clusters.AttrIdentifyTime)
		if err != nil {
			return Response{}, err
		}
		remaining, _ := v.(uint16)
		return Response{Payload: binary.LittleEndian.AppendUint16(nil, remaining)}, nil
	case clusters.CmdTriggerEffect:
		if len(f.Payload) < 2 {
			return Response{}, malformed("trigger effect of %d bytes", len(f.Payload))
		}
		return Response{}, s.dispatch(f.Endpoint, bulb.IdentifyEffect{
			Effect:  bulb.Effect(f.Payload[0]),
			Variant: f.Payload[1],
		})
	default:
		return Response{}, s.dispatch(f.Endpoint, bulb.Unknown{Cluster: f.Cluster, Command: f.Command})
	}
}

func (s *Stack) startIdentify(ep uint8, seconds uint16) error {
	h := s.identifyHandler()
	if h == nil {
		return errors.New("no identify handler")
	}
	h(ep, seconds)
	return nil
}

func (s *Stack) dispatch(ep uint8, evt bulb.CommandEvent) error {
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb == nil {
		return fmt.Errorf("no device callback for %s", evt)
	}
	return cb(ep, evt)
}

func (s *Stack) identifyHandler() bulb.IdentifyHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identify
}

func (s *Stack) trackLevel(c Change) {
	if !isLevel(c.Cluster, c.Attribute) {
		return
	}
	if lvl, ok := c.Value.(uint8); ok && lvl != 0 {
		s.mu.Lock()
		s.remembered[c.Endpoint] = lvl
		s.mu.Unlock()
	}
}
