package switchengine

import "sync"

// PacketRing is a bounded circular buffer of fixed-size packets plus
// parallel metadata, with exactly one writer and one reader. The writer
// either blocks on a full ring (flow control) or overwrites the oldest
// packets (overwrite policy); the policy decision is made by the caller,
// not by the ring itself.
//
// Grounded on the producer/consumer signalling shape of CyclicBuffer, but
// reworked for a single reader: CyclicBuffer fans out to many clients via
// per-client wait channels, PacketRing has exactly one reader and needs a
// writer that can block, so it uses a plain mutex with two condition
// variables (notEmpty for the reader, notFull for the writer) instead.
type PacketRing struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	capacity int
	packets  []Packet
	metas    []PacketMeta

	outFirst    int
	outCount    int
	outputInUse bool
}

// NewPacketRing allocates a ring holding up to capacity packets.
func NewPacketRing(capacity int) *PacketRing {
	if capacity <= 0 {
		capacity = 1
	}
	r := &PacketRing{
		capacity: capacity,
		packets:  make([]Packet, capacity),
		metas:    make([]PacketMeta, capacity),
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Capacity returns the ring's fixed packet capacity.
func (r *PacketRing) Capacity() int { return r.capacity }

// Lock and Unlock expose the ring's mutex so callers can sequence a wait
// loop and a reserve/commit call atomically, matching the pseudocode in
// the InputExecutor session loop ("lock ring: while full ... reserveWrite").
func (r *PacketRing) Lock()   { r.mu.Lock() }
func (r *PacketRing) Unlock() { r.mu.Unlock() }

// Full reports whether the ring holds capacity packets. Caller must hold
// the lock.
func (r *PacketRing) Full() bool { return r.outCount >= r.capacity }

// Len returns the number of packets currently held. Caller must hold the
// lock.
func (r *PacketRing) Len() int { return r.outCount }

// OutputInUse reports whether a read borrow is outstanding. Caller must
// hold the lock.
func (r *PacketRing) OutputInUse() bool { return r.outputInUse }

// OutFirst returns the current read cursor. Caller must hold the lock.
func (r *PacketRing) OutFirst() int { return r.outFirst }

// WaitNotFull blocks until the ring has free space or is signalled.
// Caller must hold the lock; it is released while blocked.
func (r *PacketRing) WaitNotFull() { r.notFull.Wait() }

// WaitNotEmpty blocks until the ring has data or is signalled. Caller
// must hold the lock; it is released while blocked.
func (r *PacketRing) WaitNotEmpty() { r.notEmpty.Wait() }

// SignalNotFull wakes any writer blocked in WaitNotFull without changing
// ring state. Used by InputExecutor to unblock a writer on stop/terminate.
func (r *PacketRing) SignalNotFull() { r.notFull.Broadcast() }

// ReserveWrite returns a contiguous writable span no longer than maxN,
// bounded by available space and by distance to the end of the
// underlying array (a single span never wraps). Caller must hold the
// lock.
func (r *PacketRing) ReserveWrite(maxN int) (first, room int) {
	first = (r.outFirst + r.outCount) % r.capacity
	spaceLeft := r.capacity - r.outCount
	distToEnd := r.capacity - first
	room = maxN
	if room > spaceLeft {
		room = spaceLeft
	}
	if room > distToEnd {
		room = distToEnd
	}
	if room < 0 {
		room = 0
	}
	return first, room
}

// CommitWrite grows the ring by n packets just written into the span
// returned by the preceding ReserveWrite, and wakes a waiting reader.
// Caller must hold the lock. n must not exceed the previously reported
// room.
func (r *PacketRing) CommitWrite(n int) {
	r.outCount += n
	if n > 0 {
		r.notEmpty.Signal()
	}
}

// ReserveRead returns the current readable span and marks it borrowed.
// Caller must hold the lock.
func (r *PacketRing) ReserveRead() (first, n int) {
	n = r.outCount
	if rem := r.capacity - r.outFirst; n > rem {
		n = rem
	}
	if n > 0 {
		r.outputInUse = true
	}
	return r.outFirst, n
}

// ReleaseRead returns a borrowed span of n packets to the ring, advancing
// the read cursor and clearing the borrow flag. Caller must hold the
// lock. n must not exceed the previously reported readable length.
func (r *PacketRing) ReleaseRead(n int) {
	r.outFirst = (r.outFirst + n) % r.capacity
	r.outCount -= n
	r.outputInUse = false
	if n > 0 {
		r.notFull.Signal()
	}
}

// OverwriteOldest drops the oldest n packets without transferring them to
// a reader. Forbidden while a read is borrowed. Caller must hold the
// lock.
func (r *PacketRing) OverwriteOldest(n int) {
	if r.outputInUse {
		return
	}
	if n > r.outCount {
		n = r.outCount
	}
	r.outFirst = (r.outFirst + n) % r.capacity
	r.outCount -= n
	if n > 0 {
		r.notFull.Signal()
	}
}

// Slice returns the packet storage for [first, first+n) for the writer to
// fill in place. The span must not wrap, as guaranteed by ReserveWrite.
func (r *PacketRing) Slice(first, n int) []Packet { return r.packets[first : first+n] }

// MetaSlice returns the metadata storage for [first, first+n).
func (r *PacketRing) MetaSlice(first, n int) []PacketMeta { return r.metas[first : first+n] }

// ResetMeta clears metadata for [first, first+n) to the empty state,
// matching the session loop's "reset metadata" step before every receive.
func (r *PacketRing) ResetMeta(first, n int) {
	for i := first; i < first+n; i++ {
		r.metas[i].reset()
	}
}

// Reset returns the ring to its empty initial state, used between
// sessions of the same InputExecutor. Caller must hold the lock.
func (r *PacketRing) Reset() {
	r.outFirst = 0
	r.outCount = 0
	r.outputInUse = false
}
