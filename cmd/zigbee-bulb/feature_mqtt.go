//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "zigbee-go-bulb/internal/mqtt"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zstack"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(device *bulb.Device, client *zstack.Client, attrs *zstack.Attributes, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(device, client, attrs, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Device: mqttbridge.DeviceInfo{
			Name:         cfg.Device.Name,
			Manufacturer: cfg.Device.Basic.Manufacturer,
			Model:        cfg.Device.Basic.Model,
			SWVersion:    version,
		},
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
