package main

import (
	"log/slog"
	"os"
	"testing"

	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
	"zigbee-go-bulb/internal/zstack"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAttributes(t *testing.T, eps ...uint8) *zstack.Attributes {
	t.Helper()
	logger := newTestLogger()
	attrs := zstack.NewAttributes(zcl.NewRegistry(logger, clusters.Light()...), logger)
	for _, ep := range eps {
		if err := attrs.DeclareLight(ep); err != nil {
			t.Fatal(err)
		}
	}
	return attrs
}
