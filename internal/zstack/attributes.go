package zstack

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

type attrKey struct {
	ep      uint8
	cluster uint16
	role    zcl.Role
	attr    uint16
}

type attrSlot struct {
	def   zcl.AttributeDef
	value interface{}
}

// Change describes one attribute value change.
type Change struct {
	Endpoint  uint8       `json:"endpoint"`
	Cluster   uint16      `json:"cluster"`
	Role      zcl.Role    `json:"role"`
	Attribute uint16      `json:"attribute"`
	Name      string      `json:"name"`
	Type      uint8       `json:"type"`
	Value     interface{} `json:"value"`
}

// ChangeHandler is called after an attribute changed. It runs on the
// goroutine that wrote the attribute.
type ChangeHandler func(Change)

// Attributes is the attribute table of the local endpoints. Values are kept
// in the canonical Go type of their ZCL type (see zcl.Coerce).
type Attributes struct {
	mu       sync.RWMutex
	registry *zcl.Registry
	slots    map[attrKey]*attrSlot
	clusters map[uint8]map[uint16]zcl.Role
	handlers []ChangeHandler
	logger   *slog.Logger
}

// NewAttributes creates an empty table backed by the definitions in registry.
func NewAttributes(registry *zcl.Registry, logger *slog.Logger) *Attributes {
	return &Attributes{
		registry: registry,
		slots:    make(map[attrKey]*attrSlot),
		clusters: make(map[uint8]map[uint16]zcl.Role),
		logger:   logger.With("component", "attributes"),
	}
}

// Registry returns the cluster definitions behind the table.
func (a *Attributes) Registry() *zcl.Registry { return a.registry }

// Declare adds clusters to endpoint ep in the given role, with every
// attribute at its default value.
func (a *Attributes) Declare(ep uint8, role zcl.Role, clusterIDs ...uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range clusterIDs {
		def := a.registry.Get(id)
		if def == nil {
			return fmt.Errorf("declare endpoint %d: cluster 0x%04X not registered", ep, id)
		}
		if a.clusters[ep] == nil {
			a.clusters[ep] = make(map[uint16]zcl.Role)
		}
		a.clusters[ep][id] = role
		for _, ad := range def.Attributes {
			a.slots[attrKey{ep, id, role, ad.ID}] = &attrSlot{def: ad, value: defaultValue(id, ad)}
		}
		a.logger.Debug("cluster declared", "endpoint", ep, "cluster", def.Name, "role", role)
	}
	return nil
}

// DeclareLight declares the server clusters of a dimmable light on ep.
func (a *Attributes) DeclareLight(ep uint8) error {
	ids := make([]uint16, 0, 7)
	for _, c := range clusters.Light() {
		ids = append(ids, c.ID)
	}
	return a.Declare(ep, zcl.RoleServer, ids...)
}

// Endpoints returns the declared endpoints in ascending order.
func (a *Attributes) Endpoints() []uint8 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	eps := make([]uint8, 0, len(a.clusters))
	for ep := range a.clusters {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i] < eps[j] })
	return eps
}

// HasEndpoint reports whether ep has any declared cluster.
func (a *Attributes) HasEndpoint(ep uint8) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clusters[ep]) > 0
}

// HasCluster reports whether cluster is declared on ep in role.
func (a *Attributes) HasCluster(ep uint8, cluster uint16, role zcl.Role) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.clusters[ep][cluster]
	return ok && r == role
}

// Clusters returns the clusters declared on ep in ascending order.
func (a *Attributes) Clusters(ep uint8) []uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]uint16, 0, len(a.clusters[ep]))
	for id := range a.clusters[ep] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnChange registers a handler for value changes.
func (a *Attributes) OnChange(h ChangeHandler) {
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()
}

// Definition returns the definition of an attribute, or a StatusError when
// the cluster or attribute is not served.
func (a *Attributes) Definition(ep uint8, cluster uint16, role zcl.Role, attr uint16) (zcl.AttributeDef, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	slot, err := a.lookup(ep, cluster, role, attr)
	if err != nil {
		return zcl.AttributeDef{}, err
	}
	return slot.def, nil
}

// Get returns the current value of an attribute.
func (a *Attributes) Get(ep uint8, cluster uint16, role zcl.Role, attr uint16) (interface{}, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	slot, err := a.lookup(ep, cluster, role, attr)
	if err != nil {
		return nil, err
	}
	return slot.value, nil
}

// SetAttribute writes value into the table. With checkAccess the write is
// treated as coming from a remote peer and read-only attributes are refused.
// Failures are zcl.StatusError values. Handlers run only when the stored
// value actually changed.
func (a *Attributes) SetAttribute(ep uint8, cluster uint16, role zcl.Role, attr uint16, value interface{}, checkAccess bool) error {
	a.mu.Lock()
	slot, err := a.lookup(ep, cluster, role, attr)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if checkAccess && !slot.def.IsWritable() {
		a.mu.Unlock()
		return zcl.Errorf(zcl.StatusReadOnly, "%s is read-only", slot.def.Name)
	}
	v, err := zcl.Coerce(slot.def.Type, value)
	if err != nil {
		a.mu.Unlock()
		return zcl.Errorf(zcl.StatusInvalidValue, "%s: %v", slot.def.Name, err)
	}
	changed := !equalValue(slot.value, v)
	slot.value = v
	change := Change{
		Endpoint:  ep,
		Cluster:   cluster,
		Role:      role,
		Attribute: attr,
		Name:      slot.def.Name,
		Type:      slot.def.Type,
		Value:     v,
	}
	handlers := append([]ChangeHandler(nil), a.handlers...)
	a.mu.Unlock()

	if changed {
		for _, h := range handlers {
			h(change)
		}
	}
	return nil
}

// Values returns every attribute of ep, ordered by cluster then attribute.
func (a *Attributes) Values(ep uint8) []Change {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Change
	for k, slot := range a.slots {
		if k.ep != ep {
			continue
		}
		out = append(out, Change{
			Endpoint:  ep,
			Cluster:   k.cluster,
			Role:      k.role,
			Attribute: k.attr,
			Name:      slot.def.Name,
			Type:      slot.def.Type,
			Value:     slot.value,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cluster != out[j].Cluster {
			return out[i].Cluster < out[j].Cluster
		}
		return out[i].Attribute < out[j].Attribute
	})
	return out
}

func (a *Attributes) lookup(ep uint8, cluster uint16, role zcl.Role, attr uint16) (*attrSlot, error) {
	r, ok := a.clusters[ep][cluster]
	if !ok || r != role {
		return nil, zcl.Errorf(zcl.StatusUnsupportedCluster, "endpoint %d cluster 0x%04X", ep, cluster)
	}
	slot, ok := a.slots[attrKey{ep, cluster, role, attr}]
	if !ok {
		return nil, zcl.Errorf(zcl.StatusUnsupportedAttr, "cluster 0x%04X attribute 0x%04X", cluster, attr)
	}
	return slot, nil
}

// BasicInfo holds the identification strings of the Basic cluster.
type BasicInfo struct {
	ZCLVersion          uint8
	ApplicationVersion  uint8
	StackVersion        uint8
	HWVersion           uint8
	ManufacturerName    string
	ModelIdentifier     string
	DateCode            string
	PowerSource         uint8
	LocationDescription string
	PhysicalEnvironment uint8
	SWBuildID           string
}

// SetBasic fills the Basic cluster of ep. Nothing is reported to change
// handlers, so values restored from storage must be applied afterwards.
func (a *Attributes) SetBasic(ep uint8, info BasicInfo) error {
	values := map[uint16]interface{}{
		0x0000: info.ZCLVersion,
		0x0001: info.ApplicationVersion,
		0x0002: info.StackVersion,
		0x0003: info.HWVersion,
		0x0004: info.ManufacturerName,
		0x0005: info.ModelIdentifier,
		0x0006: info.DateCode,
		0x0007: info.PowerSource,
		0x0010: info.LocationDescription,
		0x0011: info.PhysicalEnvironment,
		0x4000: info.SWBuildID,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, v := range values {
		slot, err := a.lookup(ep, clusters.BasicID, zcl.RoleServer, id)
		if err != nil {
			return fmt.Errorf("basic attribute 0x%04X: %w", id, err)
		}
		cv, err := zcl.Coerce(slot.def.Type, v)
		if err != nil {
			return fmt.Errorf("basic %s: %w", slot.def.Name, err)
		}
		slot.value = cv
	}
	return nil
}

// defaultValue is the value an attribute holds after Declare.
func defaultValue(cluster uint16, def zcl.AttributeDef) interface{} {
	switch {
	case cluster == clusters.OnOffID && def.ID == clusters.AttrOnOff:
		return true
	case cluster == clusters.OnOffID && def.ID == 0x4000:
		return true
	case cluster == clusters.LevelControlID && def.ID == clusters.AttrCurrentLevel:
		return clusters.LevelMax
	case cluster == clusters.LevelControlID && def.ID == clusters.AttrOnLevel:
		return OnLevelUnset
	}
	switch def.Type {
	case zcl.TypeBool:
		return false
	case zcl.TypeUint8, zcl.TypeEnum8, zcl.TypeBitmap8:
		return uint8(0)
	case zcl.TypeUint16, zcl.TypeEnum16, zcl.TypeBitmap16:
		return uint16(0)
	case zcl.TypeUint32:
		return uint32(0)
	case zcl.TypeInt8:
		return int8(0)
	case zcl.TypeInt16:
		return int16(0)
	case zcl.TypeCharStr:
		return ""
	case zcl.TypeOctetStr:
		return []byte{}
	}
	return nil
}

// OnLevelUnset is the LevelControl/OnLevel value meaning "restore the
// previous level".
const OnLevelUnset uint8 = 0xFF

func equalValue(a, b interface{}) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && string(ab) == string(bb)
	}
	return a == b
}
