package zcl

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the cluster definitions an endpoint can serve.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates a registry preloaded with defs.
func NewRegistry(logger *slog.Logger, defs ...ClusterDef) *Registry {
	r := &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds a cluster definition, merging into an existing one with the same ID.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.DeepCopy()
	r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "name", c.Name)
}

// Get returns a cluster definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// Attribute looks up a single attribute definition.
func (r *Registry) Attribute(clusterID, attrID uint16) (AttributeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[clusterID]
	if c == nil {
		return AttributeDef{}, false
	}
	a := c.FindAttribute(attrID)
	if a == nil {
		return AttributeDef{}, false
	}
	return *a, true
}

// ClusterName returns a cluster's name, or its hex ID when unknown.
func (r *Registry) ClusterName(id uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.clusters[id]; c != nil {
		return c.Name
	}
	return fmt.Sprintf("0x%04X", id)
}

// All returns all registered cluster definitions ordered by ID.
// Each entry is a deep copy; callers may modify them safely.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
