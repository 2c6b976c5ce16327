package switchengine

import (
	"sync"
	"testing"
	"time"
)

// scriptedPlugin produces a fixed sequence of packet counts, pacing each
// Receive call by delay. Once the script is exhausted it either ends the
// session cleanly (returns 0 immediately) or, if silenceFor is set, goes
// quiet for that long before returning 0 — modeling a plugin whose own
// read times out well after the Core's watchdog has already given up on
// it, since a non-aborted stop request cannot interrupt a blocked
// Receive call.
type scriptedPlugin struct {
	startOK   bool
	delay     time.Duration
	silenceFor time.Duration

	mu      sync.Mutex
	produce []int
	idx     int
}

func (p *scriptedPlugin) Start() bool { return p.startOK }

func (p *scriptedPlugin) Receive(packets []Packet, metas []PacketMeta) int {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	if p.idx < len(p.produce) {
		n := p.produce[p.idx]
		p.idx++
		p.mu.Unlock()
		if n > len(packets) {
			n = len(packets)
		}
		return n
	}
	silence := p.silenceFor
	p.mu.Unlock()
	if silence > 0 {
		time.Sleep(silence)
	}
	return 0
}

func (p *scriptedPlugin) Stop()            {}
func (p *scriptedPlugin) AbortInput() bool { return true }

// steadyScript returns a script of count single-packet Receive results; a
// scriptedPlugin running it ends its session once the script is exhausted.
func steadyScript(count int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = 1
	}
	return out
}

type fakeOutputPlugin struct {
	startOK bool

	mu      sync.Mutex
	written int
	writeOK bool
}

func (f *fakeOutputPlugin) Start() bool { return f.startOK }

func (f *fakeOutputPlugin) Write(packets []Packet) bool {
	f.mu.Lock()
	f.written += len(packets)
	f.mu.Unlock()
	return f.writeOK
}

func (f *fakeOutputPlugin) Stop() {}

func (f *fakeOutputPlugin) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func newCoreHarness(t *testing.T, plugins []InputPlugin, opts CoreOptions) (*Core, *fakeOutputPlugin, []*InputExecutor) {
	t.Helper()
	out := &fakeOutputPlugin{startOK: true, writeOK: true}
	executors := make([]*InputExecutor, len(plugins))
	for i, p := range plugins {
		executors[i] = NewInputExecutor(i, p, NewPacketRing(16), coreSinkPlaceholder{}, 4, nil)
	}
	c := NewCore(executors, out, opts)
	for _, e := range executors {
		e.core = c
	}
	return c, out, executors
}

// coreSinkPlaceholder satisfies coreEventSink during executor construction,
// before the owning Core exists; NewCore-constructed executors have their
// core field overwritten immediately after.
type coreSinkPlaceholder struct{}

func (coreSinkPlaceholder) inputStarted(int, bool) {}
func (coreSinkPlaceholder) inputReceived(int)      {}
func (coreSinkPlaceholder) inputStopped(int, bool) {}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCoreSequentialFailoverOnWatchdogTimeout(t *testing.T) {
	a := &scriptedPlugin{startOK: true, produce: []int{1}, delay: 0, silenceFor: 300 * time.Millisecond}
	b := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}
	c := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}

	core, out, executors := newCoreHarness(t, []InputPlugin{a, b, c}, CoreOptions{
		Strategy:       Sequential,
		FirstInput:     0,
		PrimaryInput:   none,
		ReceiveTimeout: 80 * time.Millisecond,
	})
	outExec := NewOutputExecutor(core, out, nil)
	go outExec.Run()

	if !core.Start() {
		t.Fatal("core.Start() failed")
	}

	// A's single packet should reach the output promptly.
	waitUntil(t, time.Second, func() bool { return out.writtenCount() >= 1 })

	// A then falls silent; after the receive-timeout the watchdog should
	// fail over to B.
	waitUntil(t, 2*time.Second, func() bool { return core.CurrentInput() == 1 })

	waitUntil(t, time.Second, func() bool { return out.writtenCount() >= 2 })

	core.Stop(true)
	core.WaitForTermination()
	_ = executors
}

func TestCoreFastPrimaryPreemption(t *testing.T) {
	a := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}
	b := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}

	core, out, _ := newCoreHarness(t, []InputPlugin{a, b}, CoreOptions{
		Strategy:       Fast,
		FirstInput:     0,
		PrimaryInput:   1,
		ReceiveTimeout: 500 * time.Millisecond,
	})
	outExec := NewOutputExecutor(core, out, nil)
	go outExec.Run()

	if !core.Start() {
		t.Fatal("core.Start() failed")
	}

	waitUntil(t, time.Second, func() bool { return core.CurrentInput() == 0 })
	// Primary (B, index 1) starts producing once it reports started; Fast
	// strategy starts both sessions up front, so B should pre-empt A as
	// soon as its first packet arrives.
	waitUntil(t, 2*time.Second, func() bool { return core.CurrentInput() == 1 })

	core.Stop(true)
	core.WaitForTermination()
}

func TestCoreDelayedSwitchCompletesOnFirstPacket(t *testing.T) {
	a := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}
	b := &scriptedPlugin{startOK: true, produce: steadyScript(1000), delay: 2 * time.Millisecond}

	// No primary input: A's first packet at startup (curPlugin == nextPlugin
	// == 0) moves the Core into RUNNING without stopping A; after the
	// SetInput call below, B's first packet stops A and makes B current. A
	// primary A would pre-empt B again with its next packet.
	core, out, _ := newCoreHarness(t, []InputPlugin{a, b}, CoreOptions{
		Strategy:       Delayed,
		FirstInput:     0,
		PrimaryInput:   none,
		ReceiveTimeout: 500 * time.Millisecond,
	})
	outExec := NewOutputExecutor(core, out, nil)
	go outExec.Run()

	if !core.Start() {
		t.Fatal("core.Start() failed")
	}
	waitUntil(t, time.Second, func() bool { return core.State() == Running && core.CurrentInput() == 0 })

	core.SetInput(1, false, Upward)
	waitUntil(t, time.Second, func() bool { return core.State() == StartingNext })

	waitUntil(t, 2*time.Second, func() bool {
		return core.State() == Running && core.CurrentInput() == 1
	})

	core.Stop(true)
	core.WaitForTermination()
}

func TestCoreCycleTerminationAfterConfiguredCycles(t *testing.T) {
	a := &scriptedPlugin{startOK: true, produce: []int{1}, delay: 0}
	b := &scriptedPlugin{startOK: true, produce: []int{1}, delay: 0}

	core, out, _ := newCoreHarness(t, []InputPlugin{a, b}, CoreOptions{
		Strategy:       Sequential,
		FirstInput:     0,
		PrimaryInput:   none,
		CycleCount:     2,
		ReceiveTimeout: 200 * time.Millisecond,
	})
	outExec := NewOutputExecutor(core, out, nil)
	go outExec.Run()

	if !core.Start() {
		t.Fatal("core.Start() failed")
	}

	done := make(chan struct{})
	go func() {
		core.WaitForTermination()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("core did not terminate after configured cycle count")
	}
}
