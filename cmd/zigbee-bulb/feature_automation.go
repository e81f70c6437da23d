//go:build !no_automation

package main

import (
	"log/slog"

	"zigbee-go-bulb/internal/automation"
	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/web"
	"zigbee-go-bulb/internal/zstack"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(device *bulb.Device, client *zstack.Client, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(device, client, scriptMgr, logger)
	engine.Start()

	opts := []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
	return &autoStopper{engine: engine}, opts
}
