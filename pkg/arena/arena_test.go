package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateRelease(t *testing.T) {
	al := New(1024)

	buf := al.Allocate(100)
	require.NotNil(t, buf)
	assert.Len(t, buf.Data, 100)
	assert.Equal(t, 1, al.NumArenas())
	assert.Equal(t, int64(1024), al.ReservedBytes())

	al.Release(buf)
	assert.Equal(t, 1, al.NumArenas())
	assert.Equal(t, int64(1024), al.ReservedBytes())
}

func TestGrowsIntoNewArena(t *testing.T) {
	al := New(1024)

	a := al.Allocate(600)
	b := al.Allocate(600) // does not fit arena 1
	assert.Equal(t, 2, al.NumArenas())
	assert.Equal(t, int64(2048), al.ReservedBytes())

	al.Release(a)
	al.Release(b)
	assert.Equal(t, 1, al.NumArenas())
}

func TestReclamationFIFO(t *testing.T) {
	const (
		arenaSize = 4096
		size      = 1000
		n         = 10 // 10 * 1000 spans at least 3 arenas of 4096
	)
	al := New(arenaSize)

	bufs := make([]*Buffer, 0, n)
	for i := 0; i < n; i++ {
		bufs = append(bufs, al.Allocate(size))
	}
	require.GreaterOrEqual(t, al.NumArenas(), 2)

	for _, b := range bufs {
		al.Release(b)
	}

	assert.Equal(t, 1, al.NumArenas())
	assert.Equal(t, int64(arenaSize), al.ReservedBytes())
}

func TestArenaSpaceReusedAfterDrain(t *testing.T) {
	al := New(1024)

	a := al.Allocate(800)
	al.Release(a)

	// The sole arena was reset, so the next allocation fits without
	// growing a second arena.
	b := al.Allocate(800)
	assert.Equal(t, 1, al.NumArenas())
	al.Release(b)
}

func TestOversizeAllocationPanics(t *testing.T) {
	al := New(1024)
	assert.Panics(t, func() { al.Allocate(1025) })
	assert.Panics(t, func() { al.Allocate(0) })
}

func TestDoubleReleasePanics(t *testing.T) {
	al := New(1024)
	buf := al.Allocate(10)
	al.Release(buf)
	assert.Panics(t, func() { al.Release(buf) })
}

func TestBuffersDoNotOverlap(t *testing.T) {
	al := New(1024)

	a := al.Allocate(16)
	b := al.Allocate(16)
	for i := range a.Data {
		a.Data[i] = 0xAA
	}
	for i := range b.Data {
		b.Data[i] = 0xBB
	}
	for _, v := range a.Data {
		assert.Equal(t, byte(0xAA), v)
	}

	al.Release(a)
	al.Release(b)
}

func TestConcurrentAllocateRelease(t *testing.T) {
	al := New(1 << 16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf := al.Allocate(512)
				buf.Data[0] = 1
				al.Release(buf)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, al.NumArenas())
	assert.Equal(t, int64(1<<16), al.ReservedBytes())
}

func TestIndependentAllocators(t *testing.T) {
	a := New(1024)
	b := New(2048)

	buf := a.Allocate(512)
	assert.Equal(t, int64(1024), a.ReservedBytes())
	assert.Equal(t, int64(2048), b.ReservedBytes())
	a.Release(buf)
}
