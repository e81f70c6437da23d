//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl/clusters"
)

// identifyPressSeconds is the identify time requested by the HA button.
const identifyPressSeconds = 10

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/zigbee_bulb_desk/light_10/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic,omitempty"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	PayloadPress        string   `json:"payload_press,omitempty"`
	Brightness          bool     `json:"brightness,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Effect              bool     `json:"effect,omitempty"`
	EffectList          []string `json:"effect_list,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// DeviceInfo describes the light in the HA device registry.
type DeviceInfo struct {
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
}

// topicName returns the sanitized device name used in topics.
func (d DeviceInfo) topicName() string {
	name := strings.ToLower(strings.TrimSpace(d.Name))
	if name == "" {
		return "bulb"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// identifier returns the unique identifier for the HA device registry.
func (d DeviceInfo) identifier() string {
	return "zigbee_bulb_" + d.topicName()
}

func (d DeviceInfo) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Manufacturer != "" && d.Model != "" {
		return d.Manufacturer + " " + d.Model
	}
	return "Zigbee bulb"
}

// endpointTopic is the state topic of one endpoint.
func endpointTopic(prefix string, dev DeviceInfo, ep uint8) string {
	return prefix + "/" + dev.topicName() + "_" + strconv.Itoa(int(ep))
}

func availabilityTopic(prefix string, dev DeviceInfo) string {
	return prefix + "/" + dev.topicName() + "/availability"
}

// effectList lists the effect names accepted on the command topic.
func effectList() []string {
	return []string{
		bulb.EffectBlink.String(),
		bulb.EffectBreathe.String(),
		bulb.EffectOkay.String(),
		bulb.EffectChannelChange.String(),
		bulb.EffectFinish.String(),
		bulb.EffectStop.String(),
	}
}

// buildDiscovery generates HA discovery messages for one endpoint based on
// its server clusters.
func buildDiscovery(dev DeviceInfo, prefix string, ep uint8, clusterIDs []uint16) []discoveryMsg {
	has := make(map[uint16]bool, len(clusterIDs))
	for _, id := range clusterIDs {
		has[id] = true
	}
	if !has[clusters.OnOffID] {
		return nil
	}

	nodeID := dev.identifier()
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		SWVersion:    dev.SWVersion,
		Name:         dev.displayName(),
	}
	t := topics{
		state: endpointTopic(prefix, dev, ep),
		avail: availabilityTopic(prefix, dev),
	}
	t.command = t.state + "/set"
	name := fmt.Sprintf("%s %d", dev.displayName(), ep)

	var msgs []discoveryMsg
	// Level control makes it a dimmable light, on/off alone a switch.
	if has[clusters.LevelControlID] {
		msgs = append(msgs, buildLight(nodeID, name, ep, t, haDev, has[clusters.IdentifyID]))
	} else {
		msgs = append(msgs, buildSwitch(nodeID, name, ep, t, haDev))
	}
	if has[clusters.IdentifyID] {
		msgs = append(msgs,
			buildIdentifyButton(nodeID, name, ep, t, haDev),
			buildBinarySensor(nodeID, name, ep, t, haDev,
				"identifying", "Identifying", "",
				"{{ 'ON' if value_json.identify_time > 0 else 'OFF' }}"))
	}
	return msgs
}

type topics struct {
	state, command, avail string
}

func objectID(kind string, ep uint8) string {
	return kind + "_" + strconv.Itoa(int(ep))
}

func buildLight(nodeID, name string, ep uint8, t topics, haDev haDevice, effects bool) discoveryMsg {
	obj := objectID("light", ep)
	payload := haDiscovery{
		Name:                name,
		UniqueID:            nodeID + "_" + obj,
		StateTopic:          t.state,
		CommandTopic:        t.command,
		AvailabilityTopic:   t.avail,
		Brightness:          true,
		BrightnessScale:     int(clusters.LevelMax),
		SupportedColorModes: []string{"brightness"},
		Schema:              "json",
		Device:              haDev,
	}
	if effects {
		payload.Effect = true
		payload.EffectList = effectList()
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/light/%s/%s/config", nodeID, obj),
		Payload: mustJSON(payload),
	}
}

func buildSwitch(nodeID, name string, ep uint8, t topics, haDev haDevice) discoveryMsg {
	obj := objectID("switch", ep)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_" + obj,
		StateTopic:        t.state,
		CommandTopic:      t.command,
		AvailabilityTopic: t.avail,
		ValueTemplate:     "{{ value_json.state }}",
		PayloadOn:         `{"state":"ON"}`,
		PayloadOff:        `{"state":"OFF"}`,
		Device:            haDev,
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/switch/%s/%s/config", nodeID, obj),
		Payload: mustJSON(payload),
	}
}

func buildIdentifyButton(nodeID, name string, ep uint8, t topics, haDev haDevice) discoveryMsg {
	obj := objectID("identify", ep)
	payload := haDiscovery{
		Name:              name + " Identify",
		UniqueID:          nodeID + "_" + obj,
		CommandTopic:      t.command,
		AvailabilityTopic: t.avail,
		PayloadPress:      fmt.Sprintf(`{"identify":%d}`, identifyPressSeconds),
		DeviceClass:       "identify",
		Device:            haDev,
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/button/%s/%s/config", nodeID, obj),
		Payload: mustJSON(payload),
	}
}

func buildBinarySensor(nodeID, name string, ep uint8, t topics, haDev haDevice,
	kind, suffix, deviceClass, valueTmpl string) discoveryMsg {

	obj := objectID(kind, ep)
	payload := haDiscovery{
		Name:              name + " " + suffix,
		UniqueID:          nodeID + "_" + obj,
		StateTopic:        t.state,
		AvailabilityTopic: t.avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/binary_sensor/%s/%s/config", nodeID, obj),
		Payload: mustJSON(payload),
	}
}

// buildRemoveDiscovery generates empty retained messages that remove the
// entities of one endpoint from HA.
func buildRemoveDiscovery(dev DeviceInfo, ep uint8) []discoveryMsg {
	nodeID := dev.identifier()
	components := []struct{ comp, kind string }{
		{"light", "light"},
		{"switch", "switch"},
		{"button", "identify"},
		{"binary_sensor", "identifying"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, objectID(c.kind, ep)),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
