package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/gpio"
	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/store"
	"zigbee-go-bulb/internal/web"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
	"zigbee-go-bulb/internal/zstack"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-go-bulb starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	registry := zcl.NewRegistry(logger, clusters.Light()...)
	attrs := zstack.NewAttributes(registry, logger)
	for _, ep := range cfg.Device.Endpoints {
		if err := attrs.DeclareLight(ep.ID); err != nil {
			return fmt.Errorf("declare endpoint %d: %w", ep.ID, err)
		}
		if err := attrs.SetBasic(ep.ID, basicInfo(cfg)); err != nil {
			return fmt.Errorf("basic attributes of endpoint %d: %w", ep.ID, err)
		}
	}
	logger.Info("attribute table ready", "clusters", len(registry.All()), "endpoints", len(cfg.Device.Endpoints))

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	persister := zstack.NewPersister(attrs, db, logger)
	n, err := persister.Restore()
	if err != nil {
		return fmt.Errorf("restore attributes: %w", err)
	}
	logger.Info("attributes restored", "count", n)

	stack := zstack.New(zstack.Config{
		Channel:            cfg.Network.Channel,
		PanID:              cfg.Network.PanID,
		Role:               cfg.Network.Role,
		MaxChildren:        cfg.Network.MaxChildren,
		FindingBindingTime: cfg.Device.FindingBindingTime,
	}, attrs, logger)
	defer stack.Close()
	if err := stack.Join(db); err != nil {
		return fmt.Errorf("join network: %w", err)
	}

	bank, err := openOutputs(cfg, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	var indicator bulb.Indicator
	if cfg.GPIO.Enabled && cfg.GPIO.IndicatorLine >= 0 {
		led, err := gpio.NewIndicator(cfg.GPIO.Chip, cfg.GPIO.IndicatorLine, cfg.GPIO.ActiveLow)
		if err != nil {
			logger.Warn("indicator LED unavailable", "line", cfg.GPIO.IndicatorLine, "err", err)
		} else {
			defer led.Close()
			indicator = led
		}
	}

	endpoints, err := endpointConfigs(cfg, persister)
	if err != nil {
		return err
	}
	device, err := bulb.NewDevice(bulb.Config{
		Endpoints:             endpoints,
		IdentifyButton:        bulb.ButtonEvent(cfg.Device.IdentifyButton),
		CommissioningEndpoint: cfg.Device.CommissioningEndpoint,
		FrameInterval:         cfg.Outputs.RefreshInterval,
		KeepaliveInterval:     cfg.Outputs.KeepaliveInterval,
		Indicator:             indicator,
	}, stack, attrs, bank, logger)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}

	// Startup levels are applied, only later changes are saved.
	persister.Watch()
	attrs.OnChange(func(c zstack.Change) {
		device.Events().Emit(bulb.Event{Type: bulb.EventAttributeChanged, Data: map[string]interface{}{
			"endpoint":  c.Endpoint,
			"cluster":   c.Cluster,
			"attribute": c.Attribute,
			"name":      c.Name,
			"value":     c.Value,
		}})
	})

	if cfg.GPIO.Enabled && len(cfg.GPIO.Buttons) > 0 {
		watcher, err := gpio.NewWatcher(cfg.GPIO.Chip, cfg.GPIO.Buttons, cfg.GPIO.ActiveLow, cfg.GPIO.Debounce,
			func(event int) { device.PressButton(bulb.ButtonEvent(event)) })
		if err != nil {
			logger.Warn("buttons unavailable", "chip", cfg.GPIO.Chip, "err", err)
		} else {
			defer watcher.Close()
		}
	}

	client := zstack.NewClient(stack)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(device, client, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(device, client, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(device, client, attrs, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := device.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		auto.Stop()
		mqtt.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		webServer.Stop()
		return nil
	})
	return g.Wait()
}

func basicInfo(cfg *Config) zstack.BasicInfo {
	return zstack.BasicInfo{
		ZCLVersion:          1,
		ApplicationVersion:  1,
		StackVersion:        10,
		HWVersion:           11,
		ManufacturerName:    cfg.Device.Basic.Manufacturer,
		ModelIdentifier:     cfg.Device.Basic.Model,
		DateCode:            cfg.Device.Basic.DateCode,
		PowerSource:         0x04, // DC source
		LocationDescription: cfg.Device.Basic.Location,
		SWBuildID:           version,
	}
}

// endpointConfigs resolves channels and the boot level of every endpoint.
func endpointConfigs(cfg *Config, persister *zstack.Persister) ([]bulb.EndpointConfig, error) {
	kinds := cfg.outputKinds()
	var eps []bulb.EndpointConfig
	for _, ep := range cfg.Device.Endpoints {
		refs, err := ep.channelRefs(kinds)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", ep.ID, err)
		}
		ec := bulb.EndpointConfig{ID: ep.ID, Channels: refs}
		if cfg.Device.LevelOnBoot == "previous" {
			if lvl, ok := persister.Level(ep.ID); ok {
				ec.Level = &lvl
			}
		}
		eps = append(eps, ec)
	}
	return eps, nil
}

// openOutputs attaches every configured output device to a new bank.
func openOutputs(cfg *Config, logger *slog.Logger) (*output.Bank, error) {
	bank := output.NewBank(logger,
		output.WithRetryPolicy(cfg.Outputs.Retry.policy()),
		output.WithRefreshInterval(cfg.Outputs.RefreshInterval))

	for _, p := range cfg.Outputs.PWM {
		switch p.Type {
		case "memory":
			bank.AttachPWM(p.Name, output.NewMemoryPWM())
		default:
			dev, err := output.OpenSysfsPWM(p.Root, p.Chip, p.Channel, time.Duration(p.PeriodNS))
			if err != nil {
				bank.Close()
				return nil, fmt.Errorf("open pwm %q: %w", p.Name, err)
			}
			bank.AttachPWM(p.Name, dev)
		}
		logger.Info("pwm output attached", "name", p.Name, "type", p.Type)
	}
	for _, s := range cfg.Outputs.Strips {
		switch s.Type {
		case "memory":
			bank.AttachStrip(s.Name, output.NewMemoryStrip(s.Pixels))
		default:
			dev, err := output.OpenAdalight(s.Port, s.Baud, s.Pixels)
			if err != nil {
				bank.Close()
				return nil, fmt.Errorf("open strip %q: %w", s.Name, err)
			}
			bank.AttachStrip(s.Name, dev)
		}
		logger.Info("pixel chain attached", "name", s.Name, "type", s.Type, "pixels", s.Pixels)
	}
	return bank, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
