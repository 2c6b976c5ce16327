package switchengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CoreState is the Core's global switching state.
type CoreState int

const (
	Stopped CoreState = iota
	StartingNext
	Running
	StoppingPrevious
)

func (s CoreState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case StartingNext:
		return "starting_next"
	case Running:
		return "running"
	case StoppingPrevious:
		return "stopping_previous"
	default:
		return "unknown"
	}
}

// none marks an absent index: no primary input, or the watchdog currently
// watching nothing.
const none = -1

// inputLifecycle is the per-input bookkeeping Core uses to recognize
// spurious duplicate started/stopped notifications and, under the Fast
// strategy, to find a genuinely running input to scan toward. A plugin
// that fails to start is still marked running: the failure is reported
// through the boolean passed to inputStarted, not through this tracker.
type inputLifecycle uint8

const (
	inputIdle inputLifecycle = iota
	inputStarting
	inputRunning
	inputStopping
)

// Metrics is the ambient observability seam the Core reports transitions
// through. It is a pure observer: removing it changes no switching
// decision. A nil Metrics is a valid no-op.
type Metrics interface {
	SetCoreState(s CoreState)
	IncSwitch(strategy Strategy)
	IncWatchdogTimeout()
	IncRingOverwrite(index int, n int)
}

type noopMetrics struct{}

func (noopMetrics) SetCoreState(CoreState)        {}
func (noopMetrics) IncSwitch(Strategy)            {}
func (noopMetrics) IncWatchdogTimeout()           {}
func (noopMetrics) IncRingOverwrite(int, int)     {}

// CoreOptions configures a Core at construction time.
type CoreOptions struct {
	Strategy       Strategy
	FirstInput     int
	PrimaryInput   int // none if there is no primary
	CycleCount     int // 0 = unlimited
	ReceiveTimeout time.Duration
	Report         Report
	Metrics        Metrics
}

// Core is the global switching state machine: it tracks which input is
// current, applies the configured Strategy, wires the Watchdog to the
// selected input, and reacts to InputExecutor session events and manual
// switch commands. Core holds no packet buffers, only index references.
type Core struct {
	mu       sync.Mutex
	gotInput *sync.Cond

	runID          uuid.UUID
	strategy       Strategy
	primary        int
	cycleCount     int
	receiveTimeout time.Duration
	report         Report
	metrics        Metrics

	executors    []*InputExecutor
	outputPlugin OutputPlugin
	watchdog     *Watchdog

	state         CoreState
	curPlugin     int
	nextPlugin    int
	timeoutPlugin int
	curCycle      int
	terminate     bool
	inStates      []inputLifecycle

	doneOnce sync.Once
	doneCh   chan struct{}
}

// NewCore builds a Core driving executors and outputPlugin per opts.
// opts.PrimaryInput set to none disables primary-input pre-emption.
// opts.ReceiveTimeout is passed unchanged to every watchdog arm; no value
// disables the watchdog.
func NewCore(executors []*InputExecutor, outputPlugin OutputPlugin, opts CoreOptions) *Core {
	if opts.Report == nil {
		opts.Report = NewReport(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	c := &Core{
		runID:          uuid.New(),
		strategy:       opts.Strategy,
		primary:        opts.PrimaryInput,
		cycleCount:     opts.CycleCount,
		receiveTimeout: opts.ReceiveTimeout,
		report:         opts.Report,
		metrics:        opts.Metrics,
		executors:      executors,
		outputPlugin:   outputPlugin,
		curPlugin:      opts.FirstInput,
		nextPlugin:     opts.FirstInput,
		timeoutPlugin:  none,
		inStates:       make([]inputLifecycle, len(executors)),
		doneCh:         make(chan struct{}),
	}
	c.gotInput = sync.NewCond(&c.mu)
	c.watchdog = NewWatchdog(c.handleWatchDogTimeout)
	for _, e := range executors {
		e.SetMetrics(c.metrics)
	}
	return c
}

// RunID returns the UUID generated when this Core was built. The Core does
// not attach it to its log lines or metrics.
func (c *Core) RunID() uuid.UUID { return c.runID }

// State returns the Core's current switching state.
func (c *Core) State() CoreState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentInput returns the index currently feeding the output.
func (c *Core) CurrentInput() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curPlugin
}

// Start brings the Core up: starts the output plugin, launches every
// InputExecutor's goroutine, and starts the initial input session(s)
// according to the configured Strategy.
func (c *Core) Start() bool {
	if !c.outputPlugin.Start() {
		c.report.Error("output plugin failed to start")
		return false
	}
	for _, e := range c.executors {
		go e.Run()
	}

	c.mu.Lock()
	if c.strategy == Fast {
		for i, e := range c.executors {
			fc := i == c.curPlugin || i == c.primary
			e.StartInput(fc)
			c.inStates[i] = inputStarting
		}
	} else {
		c.executors[c.curPlugin].StartInput(true)
		c.inStates[c.curPlugin] = inputStarting
		if c.primary != none && c.primary != c.curPlugin {
			c.executors[c.primary].StartInput(true)
			c.inStates[c.primary] = inputStarting
		}
	}
	c.state = StartingNext
	c.metrics.SetCoreState(c.state)
	c.mu.Unlock()
	return true
}

// SetInput requests a switch to target. dir is only consulted by the Fast
// strategy, to pick a scan direction when target itself is not running.
func (c *Core) SetInput(target int, abortCurrent bool, dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setInputLocked(target, abortCurrent, dir)
}

func (c *Core) setInputLocked(target int, abortCurrent bool, dir Direction) {
	if target == c.nextPlugin {
		return
	}
	if c.state != Running {
		c.report.Warn("switch rejected, core is mid-switch", "target", target, "state", c.state.String())
		return
	}

	switch c.strategy {
	case Sequential:
		c.nextPlugin = target
		c.suspendWatchdogLocked()
		if c.curPlugin == c.primary {
			c.curPlugin = target
			c.state = StartingNext
			c.executors[target].StartInput(true)
			c.inStates[target] = inputStarting
		} else {
			old := c.curPlugin
			c.state = StoppingPrevious
			c.executors[old].StopInput(abortCurrent)
			c.inStates[old] = inputStopping
		}

	case Delayed:
		c.nextPlugin = target
		c.suspendWatchdogLocked()
		if target == c.primary && c.inStates[target] == inputRunning {
			old := c.curPlugin
			c.curPlugin = target
			c.state = Running
			c.executors[old].StopInput(false)
			c.inStates[old] = inputStopping
			c.armWatchdogLocked(target)
		} else {
			c.state = StartingNext
			c.executors[target].StartInput(true)
			c.inStates[target] = inputStarting
		}

	case Fast:
		idx := target
		found := false
		for i := 0; i < len(c.executors); i++ {
			if c.inStates[idx] == inputRunning {
				found = true
				break
			}
			c.report.Warn("skipping non-running input during fast switch", "index", idx)
			idx = nextInputIndex(idx, len(c.executors), dir)
		}
		if !found {
			c.report.Warn("no running input available, refusing switch")
			return
		}
		if idx != c.curPlugin {
			old := c.curPlugin
			c.executors[old].SetFlowControl(false)
			c.curPlugin = idx
			c.nextPlugin = idx
			c.executors[idx].SetFlowControl(true)
			c.armWatchdogLocked(idx)
		}
	}

	c.metrics.SetCoreState(c.state)
	c.metrics.IncSwitch(c.strategy)
	c.gotInput.Broadcast()
}

// NextInput advances to the next input in cycle order.
func (c *Core) NextInput() {
	c.mu.Lock()
	target := nextInputIndex(c.nextPlugin, len(c.executors), Upward)
	c.setInputLocked(target, false, Upward)
	c.mu.Unlock()
}

// PreviousInput moves to the previous input in cycle order.
func (c *Core) PreviousInput() {
	c.mu.Lock()
	target := nextInputIndex(c.nextPlugin, len(c.executors), Downward)
	c.setInputLocked(target, false, Downward)
	c.mu.Unlock()
}

// inputStarted implements coreEventSink for InputExecutor started events.
func (c *Core) inputStarted(i int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inStates[i] == inputRunning {
		return // spurious duplicate
	}
	c.inStates[i] = inputRunning
	if i != c.nextPlugin {
		return
	}

	switch c.strategy {
	case Sequential:
		c.state = Running
	case Delayed, Fast:
		// Delayed: stays STARTING_NEXT until inputReceived.
		// Fast: curPlugin == nextPlugin invariant already holds.
	}

	c.armWatchdogLocked(c.curPlugin)
	c.metrics.SetCoreState(c.state)
	c.gotInput.Broadcast()
}

// inputReceived implements coreEventSink for InputExecutor packet events.
func (c *Core) inputReceived(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strategy == Delayed && c.state == StartingNext && i == c.nextPlugin {
		old := c.curPlugin
		if old != c.primary && old != i {
			c.executors[old].StopInput(false)
			c.inStates[old] = inputStopping
		}
		c.curPlugin = i
		c.state = Running
		c.metrics.SetCoreState(c.state)
	}

	if i == c.primary && c.curPlugin != c.primary {
		old := c.curPlugin
		next := c.nextPlugin
		if c.strategy == Fast {
			c.executors[old].SetFlowControl(false)
			if next != i && next != old {
				c.executors[next].SetFlowControl(false)
			}
			c.curPlugin = i
			c.nextPlugin = i
			c.executors[i].SetFlowControl(true)
		} else {
			for idx, e := range c.executors {
				if idx != i && c.inStates[idx] != inputStopping && c.inStates[idx] != inputIdle {
					e.StopInput(true)
					c.inStates[idx] = inputStopping
				}
			}
			c.curPlugin = i
			c.nextPlugin = i
			c.state = Running
			c.metrics.SetCoreState(c.state)
		}
	}

	if i == c.curPlugin {
		c.armWatchdogLocked(c.curPlugin)
		c.gotInput.Broadcast()
	}
}

// inputStopped implements coreEventSink for InputExecutor stopped events.
func (c *Core) inputStopped(i int, ok bool) {
	c.mu.Lock()

	if c.inStates[i] == inputIdle {
		c.mu.Unlock()
		return // spurious duplicate
	}
	c.inStates[i] = inputIdle
	if i == len(c.executors)-1 {
		c.curCycle++
	}

	if c.terminate || (c.cycleCount > 0 && c.curCycle >= c.cycleCount) {
		c.suspendWatchdogLocked()
		c.mu.Unlock()
		c.stopLocked(true)
		return
	}

	switch c.state {
	case Running:
		if i == c.curPlugin {
			target := nextInputIndex(i, len(c.executors), Upward)
			c.setInputLocked(target, false, Upward)
		}
	case StoppingPrevious:
		if c.strategy == Sequential && i == c.curPlugin {
			c.state = StartingNext
			c.curPlugin = c.nextPlugin
			c.metrics.SetCoreState(c.state)
			target := c.curPlugin
			c.inStates[target] = inputStarting
			c.mu.Unlock()
			c.executors[target].StartInput(true)
			return
		}
	}
	c.mu.Unlock()
}

// handleWatchDogTimeout implements the Watchdog's onTimeout callback.
func (c *Core) handleWatchDogTimeout(firedIndex int) {
	c.mu.Lock()
	c.metrics.IncWatchdogTimeout()
	if c.timeoutPlugin == none || c.timeoutPlugin != firedIndex {
		c.mu.Unlock()
		return // spurious: suspended/re-armed since this timer was scheduled
	}
	timeoutPlugin := c.timeoutPlugin

	if c.strategy == Delayed && c.state == StartingNext && timeoutPlugin == c.nextPlugin {
		if c.nextPlugin != c.primary {
			c.executors[c.nextPlugin].StopInput(true)
			c.inStates[c.nextPlugin] = inputStopping
		}
		c.nextPlugin = c.curPlugin
		c.state = Running
		c.metrics.SetCoreState(c.state)
	}
	c.timeoutPlugin = none

	target := nextInputIndex(timeoutPlugin, len(c.executors), Upward)
	c.setInputLocked(target, false, Upward)
	c.mu.Unlock()
}

// Stop tells the Core to terminate: the output is asked to stop, and if
// success every input is also asked to terminate.
func (c *Core) Stop(success bool) {
	c.stopLocked(success)
}

func (c *Core) stopLocked(success bool) {
	c.mu.Lock()
	c.terminate = true
	c.state = Stopped
	c.metrics.SetCoreState(c.state)
	c.mu.Unlock()

	c.gotInput.Broadcast()
	c.outputPlugin.Stop()
	if success {
		for _, e := range c.executors {
			e.TerminateInput()
		}
	}
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// WaitForTermination blocks until Stop has run to completion.
func (c *Core) WaitForTermination() {
	<-c.doneCh
}

// getOutputArea implements outputSource for the OutputExecutor.
func (c *Core) getOutputArea() (packets []Packet, ring *PacketRing, n int, ok bool) {
	c.mu.Lock()
	for {
		if c.terminate {
			c.mu.Unlock()
			return nil, nil, 0, false
		}
		ring = c.executors[c.curPlugin].Ring()
		ring.Lock()
		first, avail := ring.ReserveRead()
		if avail > 0 {
			packets = ring.Slice(first, avail)
			ring.Unlock()
			c.mu.Unlock()
			return packets, ring, avail, true
		}
		ring.Unlock()
		c.gotInput.Wait()
	}
}

// outputSent implements outputSource, releasing a borrowed read span.
func (c *Core) outputSent(ring *PacketRing, n int) {
	ring.Lock()
	ring.ReleaseRead(n)
	ring.Unlock()
}

func (c *Core) armWatchdogLocked(index int) {
	c.timeoutPlugin = index
	c.watchdog.Arm(index, c.receiveTimeout)
}

func (c *Core) suspendWatchdogLocked() {
	c.timeoutPlugin = none
	c.watchdog.Suspend()
}
