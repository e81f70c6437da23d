package bulb

import (
	"context"
	"errors"
	"testing"
	"time"

	"zigbee-go-bulb/internal/output"
)

func TestNewDeviceValidation(t *testing.T) {
	bank := output.NewBank(newTestLogger())
	attrs := newStubAttrs()
	if _, err := NewDevice(Config{}, newStubStack(), attrs, bank, newTestLogger()); err == nil {
		t.Error("expected error without endpoints")
	}
	_, err := NewDevice(Config{Endpoints: []EndpointConfig{{ID: 1}, {ID: 1}}}, newStubStack(), attrs, bank, newTestLogger())
	if err == nil {
		t.Error("expected error for duplicate endpoints")
	}
	_, err = NewDevice(Config{Endpoints: []EndpointConfig{{ID: 1}}, CommissioningEndpoint: 2}, newStubStack(), attrs, bank, newTestLogger())
	if err == nil {
		t.Error("expected error for unknown commissioning endpoint")
	}
}

func TestNewDeviceStartupLevel(t *testing.T) {
	level := uint8(0)
	dev, err := NewDevice(Config{
		Endpoints: []EndpointConfig{{ID: 1, Level: &level}, {ID: 2}},
	}, newStubStack(), newStubAttrs(), output.NewBank(newTestLogger()), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	if ep := dev.byID[1]; ep.CurrentLevel != 0 || ep.OnOff {
		t.Errorf("endpoint 1: level = %d on = %v, want 0 false", ep.CurrentLevel, ep.OnOff)
	}
	if ep := dev.byID[2]; ep.CurrentLevel != 255 || !ep.OnOff {
		t.Errorf("endpoint 2: level = %d on = %v, want 255 true", ep.CurrentLevel, ep.OnOff)
	}
	if ids := dev.EndpointIDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("EndpointIDs() = %v", ids)
	}
}

func TestRunLoopSerializesWork(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.dev.Run(ctx) }()

	result := make(chan error, 1)
	r.stack.work <- func() { result <- r.stack.callback(testEP, SetLevel{Level: 64}) }
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("SetLevel via loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stack work not processed")
	}

	r.dev.PressButton(3)
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, ok, err := r.dev.State(ctx, testEP)
		if err != nil || !ok {
			t.Fatalf("State: %v %v", ok, err)
		}
		if s.Identify == "identifying" {
			if s.Level != 64 || !s.On || s.IdentifyTime != 180 {
				t.Errorf("state = %+v", s)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("button press not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	states, err := r.dev.States(ctx)
	if err != nil || len(states) != 1 {
		t.Fatalf("States() = %v, %v", states, err)
	}
	if _, ok, _ := r.dev.State(ctx, 99); ok {
		t.Error("State(99) should not exist")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if err := r.dev.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after stop = %v, want ErrStopped", err)
	}
}

func TestDoHonoursContext(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// No loop is running, so the call is never picked up once the queue is full.
	for i := 0; i < cap(r.dev.calls); i++ {
		r.dev.calls <- func() {}
	}
	if err := r.dev.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want DeadlineExceeded", err)
	}
}
