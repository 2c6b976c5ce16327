package switchengine

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InputExecutorState is the lifecycle state of one InputExecutor's current
// (or most recent) session.
type InputExecutorState int

const (
	StateStopped InputExecutorState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s InputExecutorState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// coreEventSink is the back-reference an InputExecutor uses to notify its
// owner. Core implements it; kept as an interface so executor_input.go has
// no import-cycle dependency on core.go.
type coreEventSink interface {
	inputStarted(index int, ok bool)
	inputReceived(index int)
	inputStopped(index int, ok bool)
}

// InputStats is a point-in-time snapshot of one InputExecutor's session,
// polled by internal/observability for the Prometheus exporter.
type InputStats struct {
	State              InputExecutorState
	PacketsReceived    uint64
	PacketsOverwritten uint64
	SessionStartedAt   time.Time
	LastReceiveAt      time.Time
	LastReceiveLatency time.Duration
}

// InputExecutor owns one PacketRing and drives one InputPlugin through the
// session loop: wait for start/stop/terminate, run plugin.Start, receive
// packets into the ring until stopped, drain, and run plugin.Stop.
//
// Commands are non-blocking and serialized through one mutex/condvar pair;
// startRequests and stopRequests are counters rather than booleans so that
// overlapping commands issued during a rapid switch are each honoured with
// exactly one corresponding event, in order.
type InputExecutor struct {
	index   int
	plugin  InputPlugin
	ring    *PacketRing
	core    coreEventSink
	report  Report
	metrics Metrics

	maxInputPackets int
	entropy         *ulid.MonotonicEntropy

	mu   sync.Mutex
	todo *sync.Cond

	startRequests      int
	stopRequests       int
	pendingFlowControl bool
	flowControl        bool
	terminate          bool
	state              InputExecutorState

	sessionLabel string
	stats        InputStats
}

// NewInputExecutor builds an executor for input index, backed by ring and
// driving plugin. maxInputPackets bounds how many packets a single
// Receive call is offered at once.
func NewInputExecutor(index int, plugin InputPlugin, ring *PacketRing, core coreEventSink, maxInputPackets int, report Report) *InputExecutor {
	if report == nil {
		report = NewReport(nil)
	}
	e := &InputExecutor{
		index:           index,
		plugin:          plugin,
		ring:            ring,
		core:            core,
		report:          report,
		metrics:         noopMetrics{},
		maxInputPackets: maxInputPackets,
		entropy:         ulid.Monotonic(rand.Reader, 0),
	}
	e.todo = sync.NewCond(&e.mu)
	return e
}

// Index returns the input's position in the Core's input list.
func (e *InputExecutor) Index() int { return e.index }

// SetCore wires the Core event sink after construction, for callers
// outside this package that build executors before the owning Core
// exists (NewCore needs the executor slice, so the executors must be
// built first). Must be called before Run.
func (e *InputExecutor) SetCore(core coreEventSink) {
	e.mu.Lock()
	e.core = core
	e.mu.Unlock()
}

// SetMetrics wires a Metrics sink for ring-overwrite accounting. A nil
// metrics restores the no-op default. Intended to be called once, before
// Run, by whichever code constructs both the executor and the Core.
func (e *InputExecutor) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	e.mu.Lock()
	e.metrics = metrics
	e.mu.Unlock()
}

// Ring returns the executor's packet ring, read by OutputExecutor only
// while this input is current.
func (e *InputExecutor) Ring() *PacketRing { return e.ring }

// State returns the executor's current lifecycle state.
func (e *InputExecutor) State() InputExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the executor's session counters.
func (e *InputExecutor) Stats() InputStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.State = e.state
	return s
}

// StartInput posts a start request and records the flow-control
// preference to apply once the session begins.
func (e *InputExecutor) StartInput(flowControl bool) {
	e.mu.Lock()
	e.startRequests++
	e.pendingFlowControl = flowControl
	e.mu.Unlock()
	e.todo.Signal()
}

// StopInput posts a stop request. If abort is true, the plugin is asked
// to unblock a pending Receive; plugins that cannot support this log a
// warning and the executor tolerates the block.
func (e *InputExecutor) StopInput(abort bool) {
	e.mu.Lock()
	e.stopRequests++
	e.mu.Unlock()
	e.todo.Signal()
	e.wakeRingWaiters()

	if abort {
		if !e.plugin.AbortInput() {
			e.report.Warn("input does not support abort, stop may block", "index", e.index)
		}
	}
}

// TerminateInput sets the one-way terminate flag, waking every
// suspension point so the executor's goroutine exits promptly.
func (e *InputExecutor) TerminateInput() {
	e.mu.Lock()
	e.terminate = true
	e.mu.Unlock()
	e.todo.Broadcast()
	e.wakeRingWaiters()
}

// SetFlowControl updates the live flow-control policy: true blocks the
// writer on a full ring, false switches to overwrite-oldest.
func (e *InputExecutor) SetFlowControl(flag bool) {
	e.mu.Lock()
	e.flowControl = flag
	e.mu.Unlock()
	e.wakeRingWaiters()
}

func (e *InputExecutor) wakeRingWaiters() {
	e.ring.Lock()
	e.ring.SignalNotFull()
	e.ring.Unlock()
}

func (e *InputExecutor) setState(s InputExecutorState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run is the executor's dedicated goroutine body. It never returns until
// TerminateInput has been called and the current session (if any) has
// fully drained.
func (e *InputExecutor) Run() {
	for {
		e.mu.Lock()
		for e.startRequests == 0 && e.stopRequests == 0 && !e.terminate {
			e.todo.Wait()
		}

		// Drain stopRequests to zero, one event per request. The original
		// drained with a post-decrement loop (for (i=0;i<count;i--)) which
		// under-counts; this drains to zero directly instead.
		for e.stopRequests > 0 {
			e.stopRequests--
			e.mu.Unlock()
			e.core.inputStopped(e.index, true)
			e.mu.Lock()
		}

		if e.terminate {
			e.mu.Unlock()
			return
		}

		startStatus := false
		if e.startRequests > 0 {
			n := e.startRequests
			e.startRequests = 0
			flowControl := e.pendingFlowControl
			e.mu.Unlock()

			e.setState(StateStarting)
			startStatus = e.plugin.Start()

			e.mu.Lock()
			e.flowControl = flowControl
			e.mu.Unlock()

			if startStatus {
				e.sessionLabel = newSessionLabel(e.entropy)
				e.mu.Lock()
				e.stats = InputStats{SessionStartedAt: time.Now()}
				e.mu.Unlock()
			}

			for ; n > 0; n-- {
				e.core.inputStarted(e.index, startStatus)
			}
			e.mu.Lock()
		}
		e.mu.Unlock()

		if !startStatus {
			continue
		}

		e.setState(StateRunning)
		e.receiveLoop()

		e.setState(StateStopping)
		e.drain()
		e.plugin.Stop()
		e.setState(StateStopped)
	}
}

// receiveLoop implements the session loop's inner receive-loop: fill the
// ring under flow control or overwrite policy, hand packets to the
// plugin, and commit what comes back until a stop/terminate is pending or
// the plugin reports end of session.
func (e *InputExecutor) receiveLoop() {
	for {
		e.ring.Lock()
		for e.ring.Full() {
			if e.stopOrTerminatePending() {
				e.ring.Unlock()
				return
			}
			if e.currentFlowControl() {
				e.ring.WaitNotFull()
			} else {
				room := e.maxInputPackets
				if distToEnd := e.ring.Capacity() - e.ring.OutFirst(); room > distToEnd {
					room = distToEnd
				}
				e.ring.OverwriteOldest(room)
				e.mu.Lock()
				e.stats.PacketsOverwritten += uint64(room)
				metrics := e.metrics
				e.mu.Unlock()
				metrics.IncRingOverwrite(e.index, room)
				break
			}
		}
		if e.stopOrTerminatePending() {
			e.ring.Unlock()
			return
		}
		first, room := e.ring.ReserveWrite(e.maxInputPackets)
		if room == 0 {
			e.ring.Unlock()
			continue
		}
		e.ring.ResetMeta(first, room)
		packets := e.ring.Slice(first, room)
		metas := e.ring.MetaSlice(first, room)
		e.ring.Unlock()

		n := e.plugin.Receive(packets, metas)
		if n == 0 {
			e.mu.Lock()
			e.stopRequests++
			e.mu.Unlock()
			return
		}

		now := time.Now()
		for i := 0; i < n; i++ {
			metas[i].ReceivedAt = now
			metas[i].Label = e.sessionLabel
		}

		e.ring.Lock()
		e.ring.CommitWrite(n)
		e.ring.Unlock()

		e.mu.Lock()
		e.stats.PacketsReceived += uint64(n)
		e.stats.LastReceiveAt = now
		e.mu.Unlock()

		e.core.inputReceived(e.index)
	}
}

func (e *InputExecutor) stopOrTerminatePending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequests > 0 || e.terminate
}

func (e *InputExecutor) currentFlowControl() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flowControl
}

// drain waits until the output side has released any borrowed read span
// and the ring is empty (or a stop/terminate is already pending, which it
// always is on entry), then resets the ring for the next session.
func (e *InputExecutor) drain() {
	e.ring.Lock()
	for e.ring.OutputInUse() {
		e.ring.WaitNotFull()
	}
	e.ring.Reset()
	e.ring.Unlock()
}

func newSessionLabel(entropy *ulid.MonotonicEntropy) string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}
