//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeClient records publishes and subscriptions. Methods the bridge never
// calls are left to the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	pubs         []published
	subs         map[string]pahomqtt.MessageHandler
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	c.pubs = append(c.pubs, published{topic: topic, payload: data, retained: retained})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]pahomqtt.MessageHandler)
	}
	c.subs[topic] = cb
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

// last returns the last payload published on topic.
func (c *fakeClient) last(topic string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pubs) - 1; i >= 0; i-- {
		if c.pubs[i].topic == topic {
			return c.pubs[i].payload, true
		}
	}
	return nil, false
}

func (c *fakeClient) handler(topic string) pahomqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

type fakeMessage struct {
	pahomqtt.Message
	payload []byte
}

func (m *fakeMessage) Payload() []byte { return m.payload }

type fakeLight struct {
	events *bulb.EventBus
	states []bulb.State
}

func (l *fakeLight) Events() *bulb.EventBus { return l.events }

func (l *fakeLight) States(context.Context) ([]bulb.State, error) { return l.states, nil }

func (l *fakeLight) EndpointIDs() []uint8 {
	ids := make([]uint8, 0, len(l.states))
	for _, s := range l.states {
		ids = append(ids, s.Endpoint)
	}
	return ids
}

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeController) record(format string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return c.err
}

func (c *fakeController) On(_ context.Context, ep uint8) error  { return c.record("on %d", ep) }
func (c *fakeController) Off(_ context.Context, ep uint8) error { return c.record("off %d", ep) }
func (c *fakeController) Toggle(_ context.Context, ep uint8) error {
	return c.record("toggle %d", ep)
}
func (c *fakeController) SetLevel(_ context.Context, ep uint8, level uint8) error {
	return c.record("level %d %d", ep, level)
}
func (c *fakeController) Identify(_ context.Context, ep uint8, seconds uint16) error {
	return c.record("identify %d %d", ep, seconds)
}
func (c *fakeController) TriggerEffect(_ context.Context, ep uint8, e bulb.Effect, variant uint8) error {
	return c.record("effect %d %s %d", ep, e, variant)
}

func (c *fakeController) taken() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := c.calls
	c.calls = nil
	return calls
}

type clusterMap map[uint8][]uint16

func (m clusterMap) Clusters(ep uint8) []uint16 { return m[ep] }

var lightClusters = []uint16{
	clusters.BasicID, clusters.IdentifyID, clusters.OnOffID, clusters.LevelControlID,
}

type testBridge struct {
	*Bridge
	client *fakeClient
	light  *fakeLight
	ctl    *fakeController
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	logger := newTestLogger()
	light := &fakeLight{
		events: bulb.NewEventBus(logger),
		states: []bulb.State{{Endpoint: 10, On: true, Level: 200, Identify: "idle"}},
	}
	ctl := &fakeController{}
	b := newBridge(light, ctl, clusterMap{10: lightClusters}, Config{
		TopicPrefix: "zigbee2mqtt",
		Device:      DeviceInfo{Name: "Desk Lamp", Manufacturer: "Nordic", Model: "Color_Light_v0.1"},
	}, logger)
	client := &fakeClient{}
	b.client = client
	t.Cleanup(b.cancel)
	return &testBridge{Bridge: b, client: client, light: light, ctl: ctl}
}

func decodeState(t *testing.T, payload []byte) endpointState {
	t.Helper()
	var s endpointState
	if err := json.Unmarshal(payload, &s); err != nil {
		t.Fatalf("unmarshal state %q: %v", payload, err)
	}
	return s
}

func TestDeviceTopicName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Desk Lamp", "desk_lamp"},
		{"bulb-2", "bulb-2"},
		{"  Living/Room  ", "living_room"},
		{"", "bulb"},
	}
	for _, tt := range tests {
		got := DeviceInfo{Name: tt.name}.topicName()
		if got != tt.want {
			t.Errorf("topicName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDeviceDisplayName(t *testing.T) {
	tests := []struct {
		dev  DeviceInfo
		want string
	}{
		{DeviceInfo{Name: "Desk Lamp", Model: "m"}, "Desk Lamp"},
		{DeviceInfo{Manufacturer: "Nordic", Model: "Color_Light_v0.1"}, "Nordic Color_Light_v0.1"},
		{DeviceInfo{}, "Zigbee bulb"},
	}
	for _, tt := range tests {
		if got := tt.dev.displayName(); got != tt.want {
			t.Errorf("displayName(%+v) = %q, want %q", tt.dev, got, tt.want)
		}
	}
}

func TestDiscoveryLight(t *testing.T) {
	dev := DeviceInfo{Name: "Desk Lamp", Manufacturer: "Nordic", Model: "Color_Light_v0.1", SWVersion: "1.0"}
	msgs := buildDiscovery(dev, "zigbee2mqtt", 10, lightClusters)

	topics := extractTopics(msgs)
	for _, want := range []string{
		"homeassistant/light/zigbee_bulb_desk_lamp/light_10/config",
		"homeassistant/button/zigbee_bulb_desk_lamp/identify_10/config",
		"homeassistant/binary_sensor/zigbee_bulb_desk_lamp/identifying_10/config",
	} {
		if !topics[want] {
			t.Errorf("missing discovery %s", want)
		}
	}
	if topics["homeassistant/switch/zigbee_bulb_desk_lamp/switch_10/config"] {
		t.Error("light endpoint must not be announced as a switch")
	}

	var payload haDiscovery
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Name != "Desk Lamp 10" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.UniqueID != "zigbee_bulb_desk_lamp_light_10" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "zigbee2mqtt/desk_lamp_10" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.CommandTopic != "zigbee2mqtt/desk_lamp_10/set" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.AvailabilityTopic != "zigbee2mqtt/desk_lamp/availability" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.Schema != "json" || !payload.Brightness || payload.BrightnessScale != 255 {
		t.Errorf("schema=%q brightness=%v scale=%d", payload.Schema, payload.Brightness, payload.BrightnessScale)
	}
	if !payload.Effect || len(payload.EffectList) != 6 || payload.EffectList[1] != "breathe" {
		t.Errorf("effect=%v list=%v", payload.Effect, payload.EffectList)
	}
	if payload.Device.SWVersion != "1.0" || payload.Device.Identifiers[0] != "zigbee_bulb_desk_lamp" {
		t.Errorf("device = %+v", payload.Device)
	}
}

func TestDiscoveryIdentifyButton(t *testing.T) {
	msgs := buildDiscovery(DeviceInfo{Name: "lamp"}, "zigbee2mqtt", 3, lightClusters)
	for _, m := range msgs {
		if m.Topic != "homeassistant/button/zigbee_bulb_lamp/identify_3/config" {
			continue
		}
		var payload haDiscovery
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.CommandTopic != "zigbee2mqtt/lamp_3/set" {
			t.Errorf("command_topic = %q", payload.CommandTopic)
		}
		if payload.PayloadPress != `{"identify":10}` {
			t.Errorf("payload_press = %q", payload.PayloadPress)
		}
		return
	}
	t.Fatal("identify button discovery not found")
}

func TestDiscoverySwitch(t *testing.T) {
	msgs := buildDiscovery(DeviceInfo{Name: "plug"}, "zigbee2mqtt", 1, []uint16{clusters.OnOffID})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "homeassistant/switch/zigbee_bulb_plug/switch_1/config" {
		t.Errorf("topic = %q", msgs[0].Topic)
	}
}

func TestDiscoveryWithoutOnOff(t *testing.T) {
	msgs := buildDiscovery(DeviceInfo{Name: "x"}, "zigbee2mqtt", 1, []uint16{clusters.BasicID})
	if len(msgs) != 0 {
		t.Errorf("expected no discovery, got %d messages", len(msgs))
	}
}

func TestRemoveDiscovery(t *testing.T) {
	msgs := buildRemoveDiscovery(DeviceInfo{Name: "lamp"}, 10)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	for _, m := range msgs {
		if m.Payload != nil {
			t.Errorf("%s: payload should be empty for removal", m.Topic)
		}
	}
	if msgs[0].Topic != "homeassistant/light/zigbee_bulb_lamp/light_10/config" {
		t.Errorf("first topic = %q", msgs[0].Topic)
	}
}

func TestHandleEventPublishesState(t *testing.T) {
	tb := newTestBridge(t)
	tb.Start()

	tb.light.events.Emit(bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{
		"endpoint": uint8(10), "on": true, "level": uint8(128),
	}})

	payload, ok := tb.client.last("zigbee2mqtt/desk_lamp_10")
	if !ok {
		t.Fatal("state not published")
	}
	got := decodeState(t, payload)
	want := endpointState{State: "ON", Brightness: 128, Identify: "idle"}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}

	tb.light.events.Emit(bulb.Event{Type: bulb.EventIdentify, Data: map[string]interface{}{
		"endpoint": uint8(10), "active": true, "state": "identifying", "time": uint16(180), "effect": "breathe",
	}})
	payload, _ = tb.client.last("zigbee2mqtt/desk_lamp_10")
	got = decodeState(t, payload)
	want = endpointState{State: "ON", Brightness: 128, Identify: "identifying", IdentifyTime: 180, Effect: "breathe"}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}
}

func TestHandleEventIgnoresOthers(t *testing.T) {
	tb := newTestBridge(t)
	tb.Start()

	tb.light.events.Emit(bulb.Event{Type: bulb.EventButton, Data: map[string]interface{}{"event": 3}})
	tb.light.events.Emit(bulb.Event{Type: bulb.EventCommand, Data: map[string]interface{}{"endpoint": uint8(10)}})
	tb.light.events.Emit(bulb.Event{Type: bulb.EventStateChanged, Data: "bogus"})

	if _, ok := tb.client.last("zigbee2mqtt/desk_lamp_10"); ok {
		t.Error("unexpected state publish")
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    []string
	}{
		{`{"state":"ON","brightness":128}`, []string{"on 10", "level 10 128"}},
		{`{"state":"OFF","brightness":5}`, []string{"off 10"}},
		{`{"state":"toggle"}`, []string{"toggle 10"}},
		{`{"brightness":300}`, []string{"level 10 255"}},
		{`{"brightness":-4}`, []string{"level 10 0"}},
		{`{"identify":10}`, []string{"identify 10 10"}},
		{`{"identify":-1}`, nil},
		{`{"effect":"Breathe"}`, []string{"effect 10 breathe 0"}},
		{`{"effect":"disco"}`, nil},
		{`{"state":"DIM"}`, nil},
		{`not json`, nil},
	}
	for _, tt := range tests {
		tb := newTestBridge(t)
		tb.handleCommand(10, []byte(tt.payload))
		if got := tb.ctl.taken(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: calls = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestHandleCommandRejected(t *testing.T) {
	tb := newTestBridge(t)
	tb.ctl.err = zcl.Errorf(zcl.StatusActionDenied, "identifying")

	tb.handleCommand(10, []byte(`{"state":"ON","brightness":10}`))
	if got := tb.ctl.taken(); len(got) != 2 {
		t.Errorf("calls = %v, want both commands attempted", got)
	}
	if _, ok := tb.client.last("zigbee2mqtt/desk_lamp_10"); ok {
		t.Error("rejected commands must not publish state")
	}
}

func TestOnConnect(t *testing.T) {
	tb := newTestBridge(t)
	tb.onConnect()

	if payload, ok := tb.client.last("zigbee2mqtt/desk_lamp/availability"); !ok || string(payload) != "online" {
		t.Errorf("availability = %q, %v", payload, ok)
	}
	if _, ok := tb.client.last("homeassistant/light/zigbee_bulb_desk_lamp/light_10/config"); !ok {
		t.Error("light discovery not published")
	}
	if payload, ok := tb.client.last("homeassistant/switch/zigbee_bulb_desk_lamp/switch_10/config"); !ok || len(payload) != 0 {
		t.Errorf("stale switch discovery not cleared: %q, %v", payload, ok)
	}

	payload, ok := tb.client.last("zigbee2mqtt/desk_lamp_10")
	if !ok {
		t.Fatal("initial state not published")
	}
	if got := decodeState(t, payload); got.State != "ON" || got.Brightness != 200 {
		t.Errorf("initial state = %+v", got)
	}

	h := tb.client.handler("zigbee2mqtt/desk_lamp_10/set")
	if h == nil {
		t.Fatal("command topic not subscribed")
	}
	h(tb.client, &fakeMessage{payload: []byte(`{"state":"OFF"}`)})
	if got := tb.ctl.taken(); !reflect.DeepEqual(got, []string{"off 10"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestStopPublishesOffline(t *testing.T) {
	tb := newTestBridge(t)
	tb.Start()
	tb.Stop()

	if payload, ok := tb.client.last("zigbee2mqtt/desk_lamp/availability"); !ok || string(payload) != "offline" {
		t.Errorf("availability = %q, %v", payload, ok)
	}
	if !tb.client.disconnected {
		t.Error("client not disconnected")
	}

	tb.light.events.Emit(bulb.Event{Type: bulb.EventStateChanged, Data: map[string]interface{}{
		"endpoint": uint8(10), "on": false, "level": uint8(0),
	}})
	if _, ok := tb.client.last("zigbee2mqtt/desk_lamp_10"); ok {
		t.Error("events after Stop must not publish")
	}
}

func TestClampLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{-1, 0}, {0, 0}, {127.9, 127}, {255, 255}, {1000, 255},
	}
	for _, tt := range tests {
		if got := clampLevel(tt.in); got != tt.want {
			t.Errorf("clampLevel(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMustJSON(t *testing.T) {
	data := mustJSON(map[string]int{"a": 1})
	if string(data) != `{"a":1}` {
		t.Errorf("mustJSON = %q", data)
	}
	// Channels cannot be marshalled.
	if got := mustJSON(make(chan int)); string(got) != "{}" {
		t.Errorf("mustJSON(chan) = %q", got)
	}
}

func extractTopics(msgs []discoveryMsg) map[string]bool {
	topics := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		topics[m.Topic] = true
	}
	return topics
}
