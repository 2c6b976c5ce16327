package switchengine

// outputSource is the back-reference an OutputExecutor uses to ask the
// Core which input's packets to forward next. Core implements it.
type outputSource interface {
	// getOutputArea blocks until the current input has packets to send or
	// termination is requested. ok is false only on termination.
	getOutputArea() (packets []Packet, ring *PacketRing, n int, ok bool)
	// outputSent releases the n packets borrowed from ring back to its
	// writer.
	outputSent(ring *PacketRing, n int)
}

// OutputExecutor runs a single goroutine that repeatedly asks the Core
// for the current input's next packets and writes them to the output
// plugin. It never decides which input is current; that is the Core's
// job alone.
type OutputExecutor struct {
	source outputSource
	plugin OutputPlugin
	report Report
}

// NewOutputExecutor builds an OutputExecutor pulling from source and
// writing to plugin.
func NewOutputExecutor(source outputSource, plugin OutputPlugin, report Report) *OutputExecutor {
	if report == nil {
		report = NewReport(nil)
	}
	return &OutputExecutor{source: source, plugin: plugin, report: report}
}

// Run is the executor's goroutine body. It returns when getOutputArea
// reports termination or the output plugin fails.
func (e *OutputExecutor) Run() {
	for {
		packets, ring, n, ok := e.source.getOutputArea()
		if !ok {
			return
		}
		if !e.plugin.Write(packets) {
			e.report.Error("output plugin write failed, stopping output executor")
			e.source.outputSent(ring, n)
			return
		}
		e.source.outputSent(ring, n)
	}
}
