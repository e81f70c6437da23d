package bulb

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"zigbee-go-bulb/internal/output"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zcl/clusters"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type attrKey struct {
	ep      uint8
	cluster uint16
	attr    uint16
}

// stubAttrs is an in-memory attribute store with failure injection.
type stubAttrs struct {
	mu       sync.Mutex
	values   map[attrKey]interface{}
	fail     map[attrKey]error
	readOnly map[attrKey]bool
	writes   int
}

func newStubAttrs() *stubAttrs {
	return &stubAttrs{
		values:   make(map[attrKey]interface{}),
		fail:     make(map[attrKey]error),
		readOnly: make(map[attrKey]bool),
	}
}

func (s *stubAttrs) SetAttribute(ep uint8, cluster uint16, role zcl.Role, attr uint16, value interface{}, checkAccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := attrKey{ep, cluster, attr}
	if err := s.fail[k]; err != nil {
		return err
	}
	if checkAccess && s.readOnly[k] {
		return zcl.Errorf(zcl.StatusReadOnly, "attribute 0x%04X", attr)
	}
	s.values[k] = value
	s.writes++
	return nil
}

func (s *stubAttrs) level(ep uint8) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[attrKey{ep, clusters.LevelControlID, clusters.AttrCurrentLevel}]
}

func (s *stubAttrs) onOff(ep uint8) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[attrKey{ep, clusters.OnOffID, clusters.AttrOnOff}]
}

func (s *stubAttrs) identifyTime(ep uint8) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[attrKey{ep, clusters.IdentifyID, clusters.AttrIdentifyTime}]
}

func (s *stubAttrs) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// stubStack plays the finding & binding target by setting identify time
// through the registered handler, as a protocol stack does.
type stubStack struct {
	work     chan func()
	callback DeviceCallback
	identify IdentifyHandler
	fbTime   uint16
	starts   int
	cancels  int
	startErr error
}

func newStubStack() *stubStack {
	return &stubStack{work: make(chan func(), 4), fbTime: 180}
}

func (s *stubStack) RegisterDeviceCallback(cb DeviceCallback)  { s.callback = cb }
func (s *stubStack) RegisterIdentifyHandler(h IdentifyHandler) { s.identify = h }
func (s *stubStack) Work() <-chan func()                       { return s.work }

func (s *stubStack) StartFindingBinding(ep uint8) error {
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.identify(ep, s.fbTime)
	return nil
}

func (s *stubStack) CancelFindingBinding(ep uint8) error {
	s.cancels++
	s.identify(ep, 0)
	return nil
}

type stubIndicator struct {
	states []bool
	err    error
}

func (s *stubIndicator) Set(on bool) error {
	s.states = append(s.states, on)
	return s.err
}

func (s *stubIndicator) on() bool {
	return len(s.states) > 0 && s.states[len(s.states)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	testOnboard = output.ChannelRef{Name: "onboard", Kind: output.KindPWM}
	testStrip   = output.ChannelRef{Name: "strip", Kind: output.KindPixelChain, Scaling: output.ScalingHalve}
)

const testEP uint8 = 10

type rig struct {
	dev       *Device
	attrs     *stubAttrs
	stack     *stubStack
	bank      *output.Bank
	pwm       *output.MemoryPWM
	strip     *output.MemoryStrip
	indicator *stubIndicator
	clock     *testClock
}

func (r *rig) ep() *Endpoint { return r.dev.byID[testEP] }

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		attrs:     newStubAttrs(),
		stack:     newStubStack(),
		pwm:       output.NewMemoryPWM(),
		strip:     output.NewMemoryStrip(3),
		indicator: &stubIndicator{},
		clock:     &testClock{now: time.Unix(1000, 0)},
	}
	r.bank = output.NewBank(newTestLogger(),
		output.WithRefreshInterval(50*time.Millisecond),
		output.WithClock(r.clock.Now, r.clock.Sleep),
	)
	r.bank.AttachPWM("onboard", r.pwm)
	r.bank.AttachStrip("strip", r.strip)

	dev, err := NewDevice(Config{
		Endpoints:      []EndpointConfig{{ID: testEP, Channels: []output.ChannelRef{testOnboard, testStrip}}},
		IdentifyButton: 3,
		Indicator:      r.indicator,
		Now:            r.clock.Now,
	}, r.stack, r.attrs, r.bank, newTestLogger())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	r.dev = dev
	return r
}

func (r *rig) dispatch(evt CommandEvent) error {
	return r.stack.callback(testEP, evt)
}

var errInjected = errors.New("injected")
