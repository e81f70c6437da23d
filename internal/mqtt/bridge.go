//go:build !no_mqtt

// Package mqtt bridges the light to an MQTT broker with Home Assistant
// discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"zigbee-go-bulb/internal/bulb"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Device      DeviceInfo
}

// Light is the device the bridge mirrors.
type Light interface {
	Events() *bulb.EventBus
	States(ctx context.Context) ([]bulb.State, error)
	EndpointIDs() []uint8
}

// Controller executes commands received on the command topics.
type Controller interface {
	On(ctx context.Context, ep uint8) error
	Off(ctx context.Context, ep uint8) error
	Toggle(ctx context.Context, ep uint8) error
	SetLevel(ctx context.Context, ep uint8, level uint8) error
	Identify(ctx context.Context, ep uint8, seconds uint16) error
	TriggerEffect(ctx context.Context, ep uint8, effect bulb.Effect, variant uint8) error
}

// ClusterSource lists the server clusters of an endpoint.
type ClusterSource interface {
	Clusters(ep uint8) []uint16
}

const commandTimeout = 10 * time.Second

// Bridge publishes endpoint state to MQTT and executes commands from the
// per-endpoint set topics.
type Bridge struct {
	client   pahomqtt.Client
	light    Light
	ctl      Controller
	clusters ClusterSource
	prefix   string
	dev      DeviceInfo
	logger   *slog.Logger
	unsub    func()
	ctx      context.Context
	cancel   context.CancelFunc

	// Per-endpoint state accumulator, fed from device events.
	mu     sync.Mutex
	states map[uint8]*endpointState
}

// endpointState is the JSON published on an endpoint state topic.
type endpointState struct {
	State        string `json:"state"`
	Brightness   uint8  `json:"brightness"`
	Identify     string `json:"identify"`
	IdentifyTime uint16 `json:"identify_time"`
	Effect       string `json:"effect,omitempty"`
}

// command is the JSON accepted on an endpoint set topic.
type command struct {
	State      string   `json:"state,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Identify   *float64 `json:"identify,omitempty"`
	Effect     string   `json:"effect,omitempty"`
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(light Light, ctl Controller, clusters ClusterSource, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(light, ctl, clusters, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zigbee-bulb-"+uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availabilityTopic(b.prefix, b.dev), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(light Light, ctl Controller, clusters ClusterSource, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "zigbee2mqtt"
	}
	return &Bridge{
		light:    light,
		ctl:      ctl,
		clusters: clusters,
		prefix:   prefix,
		dev:      cfg.Device,
		logger:   logger.With("component", "mqtt"),
		states:   make(map[uint8]*endpointState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to device events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.light.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "device", b.dev.topicName())
}

// Stop publishes offline availability, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishAvailability("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// onConnect runs on the paho goroutine after every (re)connect.
func (b *Bridge) onConnect() {
	b.publishAvailability("online")
	b.publishAllDiscovery()
	b.subscribeCommands()
	b.publishAllStates()
}

// handleEvent runs on the device loop: it must only use event data and
// never call back into the device.
func (b *Bridge) handleEvent(event bulb.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	ep, ok := data["endpoint"].(uint8)
	if !ok {
		return
	}

	switch event.Type {
	case bulb.EventStateChanged:
		on, _ := data["on"].(bool)
		level, _ := data["level"].(uint8)
		b.update(ep, func(s *endpointState) {
			s.State = onOffString(on)
			s.Brightness = level
		})
	case bulb.EventIdentify:
		state, _ := data["state"].(string)
		remaining, _ := data["time"].(uint16)
		effect, _ := data["effect"].(string)
		b.update(ep, func(s *endpointState) {
			s.Identify = state
			s.IdentifyTime = remaining
			s.Effect = effect
		})
	}
}

func (b *Bridge) update(ep uint8, fn func(*endpointState)) {
	b.mu.Lock()
	s, ok := b.states[ep]
	if !ok {
		s = &endpointState{State: "OFF", Identify: "idle"}
		b.states[ep] = s
	}
	fn(s)
	payload := mustJSON(s)
	b.mu.Unlock()

	b.publish(endpointTopic(b.prefix, b.dev, ep), payload, true)
}

// publishAllStates seeds the accumulator from the device and publishes
// every endpoint.
func (b *Bridge) publishAllStates() {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	states, err := b.light.States(ctx)
	if err != nil {
		b.logger.Warn("read device state", "err", err)
		return
	}
	for _, st := range states {
		b.update(st.Endpoint, func(s *endpointState) {
			*s = stateFromSnapshot(st)
		})
	}
}

func stateFromSnapshot(st bulb.State) endpointState {
	return endpointState{
		State:        onOffString(st.On),
		Brightness:   st.Level,
		Identify:     st.Identify,
		IdentifyTime: st.IdentifyTime,
		Effect:       st.Effect,
	}
}

func (b *Bridge) publishAvailability(state string) {
	b.publish(availabilityTopic(b.prefix, b.dev), []byte(state), true)
}

// publishAllDiscovery announces every endpoint and clears entities of
// the other kind left over from an earlier configuration.
func (b *Bridge) publishAllDiscovery() {
	for _, ep := range b.light.EndpointIDs() {
		msgs := buildDiscovery(b.dev, b.prefix, ep, b.clusters.Clusters(ep))
		current := make(map[string]bool, len(msgs))
		for _, msg := range msgs {
			current[msg.Topic] = true
			b.publish(msg.Topic, msg.Payload, true)
		}
		for _, msg := range buildRemoveDiscovery(b.dev, ep) {
			if !current[msg.Topic] {
				b.publish(msg.Topic, msg.Payload, true)
			}
		}
	}
	b.logger.Info("published HA discovery", "device", b.dev.displayName())
}

func (b *Bridge) subscribeCommands() {
	for _, ep := range b.light.EndpointIDs() {
		ep := ep
		topic := endpointTopic(b.prefix, b.dev, ep) + "/set"
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(ep, msg.Payload())
		})
	}
}

// handleCommand executes a set-topic payload. Commands go through the
// controller, so an identifying endpoint rejects them like network frames.
func (b *Bridge) handleCommand(ep uint8, payload []byte) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "endpoint", ep, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	state := strings.ToUpper(cmd.State)
	switch state {
	case "":
	case "ON":
		b.run("on", ep, b.ctl.On(ctx, ep))
	case "OFF":
		b.run("off", ep, b.ctl.Off(ctx, ep))
	case "TOGGLE":
		b.run("toggle", ep, b.ctl.Toggle(ctx, ep))
	default:
		b.logger.Warn("unknown state command", "endpoint", ep, "state", cmd.State)
	}

	if cmd.Brightness != nil && state != "OFF" {
		b.run("brightness", ep, b.ctl.SetLevel(ctx, ep, clampLevel(*cmd.Brightness)))
	}

	if cmd.Identify != nil {
		seconds := *cmd.Identify
		if seconds < 0 || seconds > 0xFFFF {
			b.logger.Warn("identify time out of range", "endpoint", ep, "seconds", seconds)
		} else {
			b.run("identify", ep, b.ctl.Identify(ctx, ep, uint16(seconds)))
		}
	}

	if cmd.Effect != "" {
		effect, err := bulb.ParseEffect(cmd.Effect)
		if err != nil {
			b.logger.Warn("unknown effect", "endpoint", ep, "effect", cmd.Effect)
			return
		}
		b.run("effect", ep, b.ctl.TriggerEffect(ctx, ep, effect, 0))
	}
}

func (b *Bridge) run(name string, ep uint8, err error) {
	if err != nil {
		b.logger.Warn(name+" command failed", "endpoint", ep, "status", bulb.StatusOf(err), "err", err)
		return
	}
	b.logger.Debug(name+" command", "endpoint", ep)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func clampLevel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

func onOffString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
