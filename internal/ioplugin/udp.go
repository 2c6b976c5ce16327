// Package ioplugin provides concrete switchengine.InputPlugin and
// switchengine.OutputPlugin implementations for the two transports the
// CLIs support directly: UDP datagrams and plain files. HLS has its own
// plugin in internal/hlsinput; this package covers everything else a
// tsswitch process can point at without an HLS playlist in front of it.
package ioplugin

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/mediaswitch/tsswitch/internal/switchengine"
)

// UDPInputConfig configures a UDPInput.
type UDPInputConfig struct {
	// ListenAddr is the local address to bind, e.g. ":1234" or
	// "239.1.1.1:1234" for a multicast group.
	ListenAddr string
	// MulticastInterface, if non-empty, is the interface name to join
	// ListenAddr's multicast group on. Ignored for unicast addresses.
	MulticastInterface string
	ReadBufferBytes    int
}

// UDPInput reads whole MPEG-TS packets out of UDP datagrams, the way
// tsswitch's own UDP input plugin would: one socket, read into a
// datagram-sized buffer, then hand back as many whole PacketSize chunks
// as the datagram held (a short trailing remainder is dropped, matching
// how real TS-over-UDP senders pad to a packet boundary).
type UDPInput struct {
	cfg UDPInputConfig
	log *slog.Logger

	conn    *net.UDPConn
	buf     []byte
	aborted atomic.Bool
}

// NewUDPInput builds a UDPInput. log receives the same structured
// diagnostics an InputExecutor's other collaborators use.
func NewUDPInput(cfg UDPInputConfig, log *slog.Logger) *UDPInput {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadBufferBytes == 0 {
		cfg.ReadBufferBytes = 7 * 188 // a common TS-over-UDP datagram payload size
	}
	return &UDPInput{cfg: cfg, log: log}
}

// Start implements switchengine.InputPlugin.
func (u *UDPInput) Start() bool {
	u.aborted.Store(false)
	addr, err := net.ResolveUDPAddr("udp", u.cfg.ListenAddr)
	if err != nil {
		u.log.Error("resolving UDP listen address", slog.String("error", err.Error()))
		return false
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		var iface *net.Interface
		if u.cfg.MulticastInterface != "" {
			iface, err = net.InterfaceByName(u.cfg.MulticastInterface)
			if err != nil {
				u.log.Error("resolving multicast interface", slog.String("error", err.Error()))
				return false
			}
		}
		conn, err = net.ListenMulticastUDP("udp", iface, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		u.log.Error("listening on UDP", slog.String("error", err.Error()))
		return false
	}

	u.conn = conn
	u.buf = make([]byte, u.cfg.ReadBufferBytes)
	return true
}

// Receive implements switchengine.InputPlugin. Each call reads exactly one
// datagram and fills as many packets as fit within it and within the
// caller's buffer.
func (u *UDPInput) Receive(packets []switchengine.Packet, _ []switchengine.PacketMeta) int {
	for {
		n, _, err := u.conn.ReadFromUDP(u.buf)
		if err != nil {
			if u.aborted.Load() {
				return 0
			}
			if errors.Is(err, net.ErrClosed) {
				return 0
			}
			u.log.Warn("reading UDP datagram", slog.String("error", err.Error()))
			continue
		}
		whole := n / switchengine.PacketSize
		if whole > len(packets) {
			whole = len(packets)
		}
		for i := 0; i < whole; i++ {
			copy(packets[i][:], u.buf[i*switchengine.PacketSize:(i+1)*switchengine.PacketSize])
		}
		if whole > 0 {
			return whole
		}
		// A datagram shorter than one packet carries nothing usable; try
		// the next one instead of returning a false end-of-session.
	}
}

// Stop implements switchengine.InputPlugin.
func (u *UDPInput) Stop() {
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}

// AbortInput implements switchengine.InputPlugin by closing the socket,
// which unblocks the pending ReadFromUDP with net.ErrClosed.
func (u *UDPInput) AbortInput() bool {
	u.aborted.Store(true)
	if u.conn != nil {
		u.conn.Close()
	}
	return true
}

// UDPOutputConfig configures a UDPOutput.
type UDPOutputConfig struct {
	// DestAddr is the remote address packets are sent to, e.g.
	// "239.1.1.2:1234" or "192.168.1.50:5004".
	DestAddr string
	// PacketsPerDatagram batches this many packets into each UDP
	// datagram (7 is the common 1316-byte TS-over-UDP payload size).
	PacketsPerDatagram int
	TTL                int
}

// UDPOutput batches packets into UDP datagrams and sends them to a fixed
// destination. It keeps no backpressure beyond the kernel socket buffer:
// a struggling receiver causes send errors, which are logged and
// otherwise ignored, matching the relay's "never block the whole pipeline
// on one sink" posture.
type UDPOutput struct {
	cfg  UDPOutputConfig
	log  *slog.Logger
	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPOutput builds a UDPOutput targeting cfg.DestAddr.
func NewUDPOutput(cfg UDPOutputConfig, log *slog.Logger) *UDPOutput {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PacketsPerDatagram <= 0 {
		cfg.PacketsPerDatagram = 7
	}
	return &UDPOutput{cfg: cfg, log: log}
}

// Start implements switchengine.OutputPlugin.
func (u *UDPOutput) Start() bool {
	addr, err := net.ResolveUDPAddr("udp", u.cfg.DestAddr)
	if err != nil {
		u.log.Error("resolving UDP destination", slog.String("error", err.Error()))
		return false
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		u.log.Error("dialing UDP destination", slog.String("error", err.Error()))
		return false
	}
	if u.cfg.TTL > 0 {
		_ = ipv4.NewPacketConn(conn).SetMulticastTTL(u.cfg.TTL)
	}
	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	return true
}

// Write implements switchengine.OutputPlugin, batching packets into
// fixed-size datagrams.
func (u *UDPOutput) Write(packets []switchengine.Packet) bool {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return false
	}

	batch := make([]byte, 0, u.cfg.PacketsPerDatagram*switchengine.PacketSize)
	for i := 0; i < len(packets); i++ {
		batch = append(batch, packets[i][:]...)
		if len(batch)/switchengine.PacketSize == u.cfg.PacketsPerDatagram || i == len(packets)-1 {
			if _, err := conn.Write(batch); err != nil {
				u.log.Warn("writing UDP datagram", slog.String("error", err.Error()))
			}
			batch = batch[:0]
		}
	}
	return true
}

// Stop implements switchengine.OutputPlugin.
func (u *UDPOutput) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}
