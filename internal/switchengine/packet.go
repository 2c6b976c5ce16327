// Package switchengine implements the input-switching relay core: a set of
// InputExecutors feeding fixed-size packets into per-input PacketRings, a
// Core state machine selecting which input is live, and an OutputExecutor
// draining the current input toward a single output plugin.
package switchengine

import "time"

// PacketSize is the size in bytes of one relayed packet. The engine never
// inspects payload content; it only moves and accounts for whole packets.
const PacketSize = 188

// Packet is one fixed-size unit of relayed data.
type Packet [PacketSize]byte

// PacketMeta carries out-of-band information about one packet slot in a
// PacketRing. It is reset to its zero value before every receive so stale
// metadata from a previous session never leaks forward.
type PacketMeta struct {
	// ReceivedAt is when the owning InputExecutor accepted this packet.
	ReceivedAt time.Time
	// Label identifies the InputExecutor session that produced this packet.
	// It is a ULID minted once per session (see executor_input.go), not per
	// packet, so every packet in a session shares one sortable identifier.
	Label string
	// Flags is a free-form bitfield a plugin may set; the core never reads it.
	Flags uint32
}

// reset clears m in place to the defined empty state.
func (m *PacketMeta) reset() {
	*m = PacketMeta{}
}
