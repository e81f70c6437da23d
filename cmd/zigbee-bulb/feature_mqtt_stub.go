//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zstack"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *bulb.Device, _ *zstack.Client, _ *zstack.Attributes, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
