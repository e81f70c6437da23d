package zstack

import (
	"testing"

	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

func TestDeclareLightDefaults(t *testing.T) {
	a := newTestAttributes(t)

	tests := []struct {
		name    string
		cluster uint16
		attr    uint16
		want    interface{}
	}{
		{"on/off", clusters.OnOffID, clusters.AttrOnOff, true},
		{"current level", clusters.LevelControlID, clusters.AttrCurrentLevel, uint8(0xFF)},
		{"on level", clusters.LevelControlID, clusters.AttrOnLevel, OnLevelUnset},
		{"identify time", clusters.IdentifyID, clusters.AttrIdentifyTime, uint16(0)},
		{"location", clusters.BasicID, 0x0010, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Get(testEP, tt.cluster, zcl.RoleServer, tt.attr)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}

	if got := a.Clusters(testEP); len(got) != 7 || got[0] != clusters.BasicID || got[6] != clusters.ColorControlID {
		t.Errorf("clusters = %v", got)
	}
	if !a.HasEndpoint(testEP) || a.HasEndpoint(11) {
		t.Error("HasEndpoint mismatch")
	}
}

func TestSetAttributeStatuses(t *testing.T) {
	a := newTestAttributes(t)

	tests := []struct {
		name        string
		cluster     uint16
		attr        uint16
		value       interface{}
		checkAccess bool
		want        zcl.Status
	}{
		{"writable", clusters.LevelControlID, clusters.AttrOnLevel, 80, true, zcl.StatusSuccess},
		{"read-only remote", clusters.OnOffID, clusters.AttrOnOff, false, true, zcl.StatusReadOnly},
		{"read-only local", clusters.OnOffID, clusters.AttrOnOff, false, false, zcl.StatusSuccess},
		{"unknown cluster", 0x0402, 0x0000, 1, true, zcl.StatusUnsupportedCluster},
		{"unknown attribute", clusters.OnOffID, 0x0999, 1, true, zcl.StatusUnsupportedAttr},
		{"out of range", clusters.LevelControlID, clusters.AttrOnLevel, 300, true, zcl.StatusInvalidValue},
		{"wrong go type", clusters.BasicID, 0x0010, 12, true, zcl.StatusInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.SetAttribute(testEP, tt.cluster, zcl.RoleServer, tt.attr, tt.value, tt.checkAccess)
			if got := zcl.StatusFromError(err); got != tt.want {
				t.Errorf("status = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}

	v, _ := a.Get(testEP, clusters.LevelControlID, zcl.RoleServer, clusters.AttrOnLevel)
	if v != uint8(80) {
		t.Errorf("OnLevel = %v (%T), want uint8 80", v, v)
	}
}

func TestOnChangeOnlyOnChange(t *testing.T) {
	a := newTestAttributes(t)
	var changes []Change
	a.OnChange(func(c Change) { changes = append(changes, c) })

	for _, lvl := range []uint8{0xFF, 0x40, 0x40, 0x41} {
		if err := a.SetAttribute(testEP, clusters.LevelControlID, zcl.RoleServer, clusters.AttrCurrentLevel, lvl, false); err != nil {
			t.Fatal(err)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Value != uint8(0x40) || changes[1].Value != uint8(0x41) {
		t.Errorf("values = %v, %v", changes[0].Value, changes[1].Value)
	}
	if changes[0].Name != "CurrentLevel" {
		t.Errorf("name = %q, want CurrentLevel", changes[0].Name)
	}
}

func TestSetBasic(t *testing.T) {
	a := newTestAttributes(t)
	err := a.SetBasic(testEP, BasicInfo{
		ZCLVersion:          1,
		ApplicationVersion:  1,
		StackVersion:        10,
		HWVersion:           11,
		ManufacturerName:    "Nordic",
		ModelIdentifier:     "Color_Light_v0.1",
		DateCode:            "20180416",
		PowerSource:         clusters.PowerSourceDC,
		LocationDescription: "Office desk",
	})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := a.Get(testEP, clusters.BasicID, zcl.RoleServer, 0x0005)
	if v != "Color_Light_v0.1" {
		t.Errorf("model = %v, want Color_Light_v0.1", v)
	}
	v, _ = a.Get(testEP, clusters.BasicID, zcl.RoleServer, 0x0007)
	if v != clusters.PowerSourceDC {
		t.Errorf("power source = %v, want 0x04", v)
	}
}

func TestValuesOrdered(t *testing.T) {
	a := newTestAttributes(t)
	vals := a.Values(testEP)
	if len(vals) == 0 {
		t.Fatal("no values")
	}
	for i := 1; i < len(vals); i++ {
		prev, cur := vals[i-1], vals[i]
		if prev.Cluster > cur.Cluster || (prev.Cluster == cur.Cluster && prev.Attribute >= cur.Attribute) {
			t.Fatalf("values out of order at %d: %04X/%04X then %04X/%04X", i, prev.Cluster, prev.Attribute, cur.Cluster, cur.Attribute)
		}
	}
}
