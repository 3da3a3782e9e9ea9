// Package arena implements a slab-based memory manager for in-flight
// pipeline buffers.
//
// Sustained ingestion allocates and frees many variable-size buffers in
// roughly FIFO order. Carving them out of a small number of fixed-size
// arenas bounds memory growth to whole-arena increments and avoids the
// fragmentation churn of allocating every buffer individually.
package arena

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/driftfs/driftfs/internal/bytesize"
)

// DefaultArenaSize is the capacity of a single arena (128 MiB).
const DefaultArenaSize = int(128 * bytesize.MiB)

// Buffer is a byte region carved out of an arena. The caller owns Data
// until it hands the buffer back via Allocator.Release. The owning arena
// is tracked by id rather than recovered from the slice address.
type Buffer struct {
	Data []byte

	arenaID  uint64
	released bool
}

// arena is a fixed-capacity slab with bump-pointer allocation. Space is
// reclaimed only when the last outstanding buffer is released, which is
// cheap and sufficient for the pipeline's FIFO-ish allocation pattern.
type arena struct {
	id     uint64
	buf    []byte
	offset int
	live   int
}

func (a *arena) allocate(size int) []byte {
	if a.offset+size > len(a.buf) {
		return nil
	}
	p := a.buf[a.offset : a.offset+size : a.offset+size]
	a.offset += size
	a.live++
	return p
}

func (a *arena) isEmpty() bool { return a.live == 0 }

// Allocator hands out buffers from an ordered list of arenas (oldest
// first). All operations are serialized by a single mutex; the live-byte
// counter is scoped to the instance so independent allocators never
// contaminate each other.
type Allocator struct {
	mu        sync.Mutex
	arenaSize int
	arenas    []*arena
	nextID    uint64

	reservedBytes atomic.Int64
}

// New creates an Allocator with the given arena capacity. A first arena
// is created eagerly; at least one arena exists for the allocator's
// whole lifetime. arenaSize <= 0 selects DefaultArenaSize.
func New(arenaSize int) *Allocator {
	if arenaSize <= 0 {
		arenaSize = DefaultArenaSize
	}
	al := &Allocator{arenaSize: arenaSize}
	al.arenas = append(al.arenas, al.newArena())
	return al
}

func (al *Allocator) newArena() *arena {
	al.nextID++
	al.reservedBytes.Add(int64(al.arenaSize))
	return &arena{id: al.nextID, buf: make([]byte, al.arenaSize)}
}

// Allocate returns a buffer of exactly size bytes. The newest arena is
// tried first; if it cannot satisfy the request a fresh arena is
// appended and the allocation retried.
//
// A request that does not fit a fresh arena is a programming or
// configuration error (callers must cap item size below the arena
// capacity before submission) and panics.
func (al *Allocator) Allocate(size int) *Buffer {
	if size <= 0 || size > al.arenaSize {
		panic(fmt.Sprintf("arena: allocation of %d bytes exceeds arena capacity %d", size, al.arenaSize))
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	// Buffers are allocated and freed roughly FIFO relative to arena
	// creation, so the newest arena is the one with free space.
	a := al.arenas[len(al.arenas)-1]
	p := a.allocate(size)
	if p == nil {
		a = al.newArena()
		al.arenas = append(al.arenas, a)
		p = a.allocate(size)
		if p == nil {
			panic(fmt.Sprintf("arena: fresh arena cannot satisfy %d bytes", size))
		}
	}
	return &Buffer{Data: p, arenaID: a.id}
}

// Release returns a buffer to its owning arena. An arena that becomes
// empty is destroyed, unless it is the last one remaining: keeping a
// single arena alive prevents alloc/free churn at the empty boundary
// from repeatedly creating and destroying arenas.
func (al *Allocator) Release(buf *Buffer) {
	if buf == nil || buf.released {
		panic("arena: release of nil or already-released buffer")
	}
	buf.released = true
	buf.Data = nil

	al.mu.Lock()
	defer al.mu.Unlock()

	for i, a := range al.arenas {
		if a.id != buf.arenaID {
			continue
		}
		a.live--
		if a.live < 0 {
			panic("arena: release count underflow")
		}
		if a.live == 0 {
			a.offset = 0
			if len(al.arenas) > 1 {
				al.arenas = append(al.arenas[:i], al.arenas[i+1:]...)
				al.reservedBytes.Add(-int64(al.arenaSize))
			}
		}
		return
	}
	panic("arena: buffer does not belong to any live arena")
}

// ReservedBytes reports the total bytes currently reserved across all
// live arenas (whole arenas, not outstanding allocation sizes).
func (al *Allocator) ReservedBytes() int64 {
	return al.reservedBytes.Load()
}

// NumArenas reports the number of live arenas.
func (al *Allocator) NumArenas() int {
	al.mu.Lock()
	defer al.mu.Unlock()
	return len(al.arenas)
}

// ArenaSize reports the configured per-arena capacity.
func (al *Allocator) ArenaSize() int { return al.arenaSize }
