package zstack

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

const testEP uint8 = 10

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAttributes(t *testing.T) *Attributes {
	t.Helper()
	logger := newTestLogger()
	attrs := NewAttributes(zcl.NewRegistry(logger, clusters.Light()...), logger)
	if err := attrs.DeclareLight(testEP); err != nil {
		t.Fatalf("DeclareLight: %v", err)
	}
	return attrs
}

// harness runs a real device loop on top of the stack.
type harness struct {
	attrs  *Attributes
	stack  *Stack
	client *Client
	dev    *bulb.Device
	pwm    *output.MemoryPWM
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := newTestLogger()
	attrs := newTestAttributes(t)
	stack := New(Config{Channel: 11, Role: RoleRouter, MaxChildren: 10, FindingBindingTime: 180}, attrs, logger)

	pwm := output.NewMemoryPWM()
	bank := output.NewBank(logger)
	bank.AttachPWM("onboard", pwm)

	dev, err := bulb.NewDevice(bulb.Config{
		Endpoints: []bulb.EndpointConfig{{
			ID:       testEP,
			Channels: []output.ChannelRef{{Name: "onboard", Kind: output.KindPWM}},
		}},
		IdentifyButton: 3,
	}, stack, attrs, bank, logger)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dev.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		stack.Close()
	})
	return &harness{attrs: attrs, stack: stack, client: NewClient(stack), dev: dev, pwm: pwm}
}

func (h *harness) state(t *testing.T) bulb.State {
	t.Helper()
	s, ok, err := h.dev.State(testContext(t), testEP)
	if err != nil || !ok {
		t.Fatalf("State: ok=%v err=%v", ok, err)
	}
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusOf(err error) zcl.Status {
	return zcl.StatusFromError(err)
}
