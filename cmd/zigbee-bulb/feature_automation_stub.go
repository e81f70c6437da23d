//go:build no_automation

package main

import (
	"log/slog"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/web"
	"zigbee-go-bulb/internal/zstack"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *bulb.Device, _ *zstack.Client, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
