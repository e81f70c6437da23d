package zstack

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbee-go-bulb/internal/store"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// Persister mirrors persistent attributes into a store: every writable
// attribute plus the on/off and level state. IdentifyTime is never kept.
type Persister struct {
	attrs  *Attributes
	st     store.Store
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	levels map[uint8]uint8
	errs   int
}

// NewPersister creates a persister for attrs backed by st.
func NewPersister(attrs *Attributes, st store.Store, logger *slog.Logger) *Persister {
	return &Persister{
		attrs:  attrs,
		st:     st,
		now:    time.Now,
		logger: logger.With("component", "persist"),
		levels: make(map[uint8]uint8),
	}
}

// Restore loads stored values into the attribute table without notifying
// change handlers. Writable attributes are applied directly; the stored
// level is only remembered (see Level) since the device decides the level
// it boots with. Records for attributes no longer served are skipped.
func (p *Persister) Restore() (int, error) {
	recs, err := p.st.ListAttributes()
	if err != nil {
		return 0, fmt.Errorf("list attributes: %w", err)
	}
	restored := 0
	for _, rec := range recs {
		role := zcl.Role(rec.Role)
		def, err := p.attrs.Definition(rec.Endpoint, rec.Cluster, role, rec.Attribute)
		if err != nil {
			p.logger.Debug("skip stored attribute", "key", rec.AttributeKey.String(), "error", err)
			continue
		}
		if def.Type != rec.Type {
			p.logger.Warn("stored attribute type mismatch", "key", rec.AttributeKey.String(),
				"stored", zcl.TypeName(rec.Type), "want", zcl.TypeName(def.Type))
			continue
		}
		v, _, err := zcl.DecodeValue(rec.Type, rec.Data)
		if err != nil {
			p.logger.Warn("stored attribute corrupt", "key", rec.AttributeKey.String(), "error", err)
			continue
		}
		switch {
		case isLevel(rec.Cluster, rec.Attribute):
			if lvl, ok := v.(uint8); ok {
				p.mu.Lock()
				p.levels[rec.Endpoint] = lvl
				p.mu.Unlock()
			}
		case def.IsWritable():
			if err := p.attrs.restore(rec.Endpoint, rec.Cluster, role, rec.Attribute, v); err != nil {
				p.logger.Warn("restore attribute failed", "key", rec.AttributeKey.String(), "error", err)
				continue
			}
		default:
			continue
		}
		restored++
	}
	p.logger.Info("attributes restored", "count", restored)
	return restored, nil
}

// Level returns the last persisted CurrentLevel of ep.
func (p *Persister) Level(ep uint8) (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lvl, ok := p.levels[ep]
	return lvl, ok
}

// Watch starts saving changes of persistent attributes.
func (p *Persister) Watch() {
	p.attrs.OnChange(p.save)
}

// Errors returns how many saves failed since start.
func (p *Persister) Errors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

func (p *Persister) save(c Change) {
	def, err := p.attrs.Definition(c.Endpoint, c.Cluster, c.Role, c.Attribute)
	if err != nil || !persistent(c.Cluster, def) {
		return
	}
	data, err := zcl.EncodeValue(c.Type, c.Value)
	if err == nil {
		err = p.st.SaveAttribute(&store.AttributeRecord{
			AttributeKey: store.AttributeKey{
				Endpoint:  c.Endpoint,
				Cluster:   c.Cluster,
				Role:      uint8(c.Role),
				Attribute: c.Attribute,
			},
			Type:      c.Type,
			Data:      data,
			UpdatedAt: p.now(),
		})
	}
	if err != nil {
		p.mu.Lock()
		p.errs++
		p.mu.Unlock()
		p.logger.Warn("persist attribute failed", "endpoint", c.Endpoint, "attribute", c.Name, "error", err)
		return
	}
	if isLevel(c.Cluster, c.Attribute) {
		if lvl, ok := c.Value.(uint8); ok {
			p.mu.Lock()
			p.levels[c.Endpoint] = lvl
			p.mu.Unlock()
		}
	}
}

func persistent(cluster uint16, def zcl.AttributeDef) bool {
	switch {
	case cluster == clusters.IdentifyID && def.ID == clusters.AttrIdentifyTime:
		return false
	case isLevel(cluster, def.ID):
		return true
	case cluster == clusters.OnOffID && def.ID == clusters.AttrOnOff:
		return true
	}
	return def.IsWritable()
}

func isLevel(cluster, attr uint16) bool {
	return cluster == clusters.LevelControlID && attr == clusters.AttrCurrentLevel
}

// restore sets a value with no access check and no notification.
func (a *Attributes) restore(ep uint8, cluster uint16, role zcl.Role, attr uint16, value interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot, err := a.lookup(ep, cluster, role, attr)
	if err != nil {
		return err
	}
	v, err := zcl.Coerce(slot.def.Type, value)
	if err != nil {
		return errors.Join(zcl.Errorf(zcl.StatusInvalidValue, "%s", slot.def.Name), err)
	}
	slot.value = v
	return nil
}
