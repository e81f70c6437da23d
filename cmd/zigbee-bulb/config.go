package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-go-bulb/internal/gpio"
	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zstack"
)

// Config is the YAML configuration of the light.
type Config struct {
	Network struct {
		Channel     uint8  `yaml:"channel"`
		Role        string `yaml:"role"`
		MaxChildren uint8  `yaml:"max_children"`
		PanID       uint16 `yaml:"pan_id"`
	} `yaml:"network"`
	Device struct {
		Name                  string           `yaml:"name"`
		IdentifyButton        int              `yaml:"identify_button"`
		CommissioningEndpoint uint8            `yaml:"commissioning_endpoint"`
		FindingBindingTime    uint16           `yaml:"finding_binding_time"`
		LevelOnBoot           string           `yaml:"level_on_boot"` // "max" or "previous"
		Basic                 BasicConfig      `yaml:"basic"`
		Endpoints             []EndpointConfig `yaml:"endpoints"`
	} `yaml:"device"`
	Outputs struct {
		PWM               []PWMConfig   `yaml:"pwm"`
		Strips            []StripConfig `yaml:"strips"`
		RefreshInterval   time.Duration `yaml:"refresh_interval"`
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
		Retry             RetryConfig   `yaml:"retry"`
	} `yaml:"outputs"`
	GPIO struct {
		Enabled       bool          `yaml:"enabled"`
		Chip          string        `yaml:"chip"`
		Buttons       []gpio.Button `yaml:"buttons"`
		IndicatorLine int           `yaml:"indicator_line"` // -1 disables the LED
		ActiveLow     bool          `yaml:"active_low"`
		Debounce      time.Duration `yaml:"debounce"`
	} `yaml:"gpio"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

// BasicConfig holds the Basic cluster identification strings.
type BasicConfig struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	DateCode     string `yaml:"date_code"`
	Location     string `yaml:"location"`
}

// EndpointConfig describes one light endpoint and its output channels.
type EndpointConfig struct {
	ID       uint8           `yaml:"id"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig names an output channel driven by an endpoint.
type ChannelConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Scaling string `yaml:"scaling"`
}

// PWMConfig attaches one PWM output.
type PWMConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // "sysfs" or "memory"
	Root     string `yaml:"root"`
	Chip     int    `yaml:"chip"`
	Channel  int    `yaml:"channel"`
	PeriodNS int64  `yaml:"period_ns"`
}

// StripConfig attaches one pixel chain.
type StripConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // "adalight" or "memory"
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`
	Pixels int    `yaml:"pixels"`
}

// RetryConfig overrides the busy retry policy of the output bank.
type RetryConfig struct {
	Attempts         int           `yaml:"attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// policy merges r over the default policy.
func (r RetryConfig) policy() output.RetryPolicy {
	p := output.DefaultRetryPolicy
	if r.Attempts > 0 {
		p.MaxAttempts = r.Attempts
	}
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	if r.BreakerThreshold > 0 {
		p.BreakerThreshold = r.BreakerThreshold
	}
	if r.BreakerCooldown > 0 {
		p.BreakerCooldown = r.BreakerCooldown
	}
	return p
}

func (c *Config) validate() error {
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.Role != zstack.RoleRouter && c.Network.Role != zstack.RoleEndDevice {
		return fmt.Errorf("network.role must be %s or %s, got %q", zstack.RoleRouter, zstack.RoleEndDevice, c.Network.Role)
	}
	if c.Network.PanID == 0xFFFF {
		return errors.New("network.pan_id must not be 0xFFFF")
	}
	if c.Device.IdentifyButton < 0 || c.Device.IdentifyButton > 3 {
		return fmt.Errorf("device.identify_button must be 0-3, got %d", c.Device.IdentifyButton)
	}
	switch c.Device.LevelOnBoot {
	case "max", "previous":
	default:
		return fmt.Errorf("device.level_on_boot must be max or previous, got %q", c.Device.LevelOnBoot)
	}
	if len(c.Device.Endpoints) == 0 {
		return errors.New("device.endpoints must not be empty")
	}

	kinds := make(map[string]output.Kind)
	for _, p := range c.Outputs.PWM {
		if err := addOutput(kinds, p.Name, output.KindPWM); err != nil {
			return err
		}
		if p.Type != "sysfs" && p.Type != "memory" {
			return fmt.Errorf("outputs.pwm %q: type must be sysfs or memory, got %q", p.Name, p.Type)
		}
		if p.Type == "sysfs" && p.PeriodNS <= 0 {
			return fmt.Errorf("outputs.pwm %q: period_ns must be positive", p.Name)
		}
	}
	for _, s := range c.Outputs.Strips {
		if err := addOutput(kinds, s.Name, output.KindPixelChain); err != nil {
			return err
		}
		if s.Type != "adalight" && s.Type != "memory" {
			return fmt.Errorf("outputs.strips %q: type must be adalight or memory, got %q", s.Name, s.Type)
		}
		if s.Pixels <= 0 {
			return fmt.Errorf("outputs.strips %q: pixels must be positive", s.Name)
		}
		if s.Type == "adalight" && s.Port == "" {
			return fmt.Errorf("outputs.strips %q: port is required", s.Name)
		}
	}

	seen := make(map[uint8]bool)
	for _, ep := range c.Device.Endpoints {
		if ep.ID < 1 || ep.ID > 240 {
			return fmt.Errorf("device.endpoints: id must be 1-240, got %d", ep.ID)
		}
		if seen[ep.ID] {
			return fmt.Errorf("device.endpoints: duplicate id %d", ep.ID)
		}
		seen[ep.ID] = true
		if _, err := ep.channelRefs(kinds); err != nil {
			return fmt.Errorf("endpoint %d: %w", ep.ID, err)
		}
	}
	if c.Device.CommissioningEndpoint != 0 && !seen[c.Device.CommissioningEndpoint] {
		return fmt.Errorf("device.commissioning_endpoint %d is not configured", c.Device.CommissioningEndpoint)
	}

	for name, d := range map[string]time.Duration{
		"outputs.refresh_interval":   c.Outputs.RefreshInterval,
		"outputs.keepalive_interval": c.Outputs.KeepaliveInterval,
		"gpio.debounce":              c.GPIO.Debounce,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Outputs.Retry.Attempts < 0 || c.Outputs.Retry.BaseDelay < 0 || c.Outputs.Retry.MaxDelay < 0 ||
		c.Outputs.Retry.BreakerThreshold < 0 || c.Outputs.Retry.BreakerCooldown < 0 {
		return errors.New("outputs.retry values must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func addOutput(kinds map[string]output.Kind, name string, kind output.Kind) error {
	if name == "" {
		return fmt.Errorf("outputs: %s output without a name", kind)
	}
	if _, dup := kinds[name]; dup {
		return fmt.Errorf("outputs: duplicate output name %q", name)
	}
	kinds[name] = kind
	return nil
}

// channelRefs resolves the endpoint channels against the configured outputs.
func (e EndpointConfig) channelRefs(kinds map[string]output.Kind) ([]output.ChannelRef, error) {
	if len(e.Channels) == 0 {
		return nil, errors.New("no channels")
	}
	refs := make([]output.ChannelRef, 0, len(e.Channels))
	for _, ch := range e.Channels {
		kind, err := output.ParseKind(ch.Kind)
		if err != nil {
			return nil, err
		}
		scaling, err := output.ParseScaling(ch.Scaling)
		if err != nil {
			return nil, err
		}
		attached, ok := kinds[ch.Name]
		if !ok {
			return nil, fmt.Errorf("channel %q: no such output", ch.Name)
		}
		if attached != kind {
			return nil, fmt.Errorf("channel %q: output is %s, not %s", ch.Name, attached, kind)
		}
		refs = append(refs, output.ChannelRef{Name: ch.Name, Kind: kind, Scaling: scaling})
	}
	return refs, nil
}

// outputKinds maps every configured output name to its kind.
func (c *Config) outputKinds() map[string]output.Kind {
	kinds := make(map[string]output.Kind)
	for _, p := range c.Outputs.PWM {
		kinds[p.Name] = output.KindPWM
	}
	for _, s := range c.Outputs.Strips {
		kinds[s.Name] = output.KindPixelChain
	}
	return kinds
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	// Fields whose zero value is meaningful are preset before decoding.
	cfg.GPIO.IndicatorLine = -1
	cfg.GPIO.ActiveLow = true
	cfg.Device.IdentifyButton = 3
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Network.Channel == 0 {
		cfg.Network.Channel = 11
	}
	if cfg.Network.Role == "" {
		cfg.Network.Role = zstack.RoleRouter
	}
	if cfg.Network.MaxChildren == 0 {
		cfg.Network.MaxChildren = 10
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "bulb"
	}
	if cfg.Device.FindingBindingTime == 0 {
		cfg.Device.FindingBindingTime = 180
	}
	cfg.Device.LevelOnBoot = strings.ToLower(cfg.Device.LevelOnBoot)
	if cfg.Device.LevelOnBoot == "" {
		cfg.Device.LevelOnBoot = "max"
	}
	if cfg.Device.Basic.Manufacturer == "" {
		cfg.Device.Basic.Manufacturer = "Nordic"
	}
	if cfg.Device.Basic.Model == "" {
		cfg.Device.Basic.Model = "Color_Light_v0.1"
	}
	if cfg.Device.Basic.DateCode == "" {
		cfg.Device.Basic.DateCode = "20180416"
	}
	for i := range cfg.Outputs.PWM {
		if cfg.Outputs.PWM[i].Type == "" {
			cfg.Outputs.PWM[i].Type = "sysfs"
		}
		if cfg.Outputs.PWM[i].PeriodNS == 0 {
			cfg.Outputs.PWM[i].PeriodNS = 200000
		}
	}
	for i := range cfg.Outputs.Strips {
		if cfg.Outputs.Strips[i].Type == "" {
			cfg.Outputs.Strips[i].Type = "adalight"
		}
		if cfg.Outputs.Strips[i].Baud == 0 {
			cfg.Outputs.Strips[i].Baud = 115200
		}
	}
	if cfg.Outputs.RefreshInterval == 0 {
		cfg.Outputs.RefreshInterval = 50 * time.Millisecond
	}
	if cfg.Outputs.KeepaliveInterval == 0 {
		cfg.Outputs.KeepaliveInterval = 5 * time.Second
	}
	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = "gpiochip0"
	}
	if cfg.GPIO.Debounce == 0 {
		cfg.GPIO.Debounce = 30 * time.Millisecond
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-bulb.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	return &cfg, nil
}
