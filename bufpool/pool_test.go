package bufpool_test

import (
	"encoding/json"
	"testing"

	"github.com/embeddedkit/nvstore"
	"github.com/embeddedkit/nvstore/bufpool"
	"github.com/embeddedkit/nvstore/heap"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, bufferCount, bufferSize int) *bufpool.Pool {
	t.Helper()

	backingHeap, err := heap.NewBlockHeap(4096, heap.CreateOptions{})
	require.NoError(t, err)

	pool, err := bufpool.New(nil, backingHeap, bufferCount, bufferSize, bufpool.CreateOptions{})
	require.NoError(t, err)

	return pool
}

func TestPoolSingleBuffer(t *testing.T) {
	pool := newTestPool(t, 4, 32)
	require.Equal(t, 32, pool.BufferLength())
	require.Equal(t, 4, pool.BufferCount())
	require.Equal(t, 4, pool.AvailableBuffers())

	buf := pool.GetBuffer(10)
	require.NotNil(t, buf)
	require.Equal(t, 10, buf.Size())
	require.Nil(t, buf.Next())
	require.False(t, buf.IsStandalone())
	require.Equal(t, 3, pool.AvailableBuffers())
	require.NoError(t, pool.Validate())

	pool.ReleaseBuffer(buf)
	require.Equal(t, 4, pool.AvailableBuffers())
	require.NoError(t, pool.Validate())
}

func TestPoolChainedBuffers(t *testing.T) {
	pool := newTestPool(t, 4, 32)

	// 100 bytes needs four 32-byte buffers
	buf := pool.GetBuffer(100)
	require.NotNil(t, buf)
	require.Equal(t, 100, buf.Size())
	require.Equal(t, 0, pool.AvailableBuffers())

	var nodes int
	for node := buf; node != nil; node = node.Next() {
		nodes++
	}
	require.Equal(t, 4, nodes)

	pool.ReleaseBuffer(buf)
	require.Equal(t, 4, pool.AvailableBuffers())
}

func TestPoolAllOrNothing(t *testing.T) {
	pool := newTestPool(t, 4, 32)

	buf1 := pool.GetBuffer(64)
	require.NotNil(t, buf1)
	require.Equal(t, 2, pool.AvailableBuffers())

	// Three buffers are needed but only two are free; the pool must stay unchanged
	require.Nil(t, pool.GetBuffer(65))
	require.Equal(t, 2, pool.AvailableBuffers())
	require.NoError(t, pool.Validate())

	// A request larger than the whole pool can never succeed
	require.Nil(t, pool.GetBuffer(129))

	pool.ReleaseBuffer(buf1)
	buf2 := pool.GetBuffer(128)
	require.NotNil(t, buf2)
	require.Equal(t, 0, pool.AvailableBuffers())
	pool.ReleaseBuffer(buf2)
}

func TestPoolCopyRoundTrip(t *testing.T) {
	pool := newTestPool(t, 4, 32)

	src := make([]byte, 100)
	for i := range src {
		src[i] = byte(i + 1)
	}

	buf := pool.GetBuffer(100)
	require.NotNil(t, buf)
	require.Equal(t, 100, buf.CopyFromMemory(src, 0))

	dst := make([]byte, 100)
	require.Equal(t, 100, buf.CopyToMemory(dst, 0))
	require.Equal(t, src, dst)

	// Partial copy starting mid-chain
	part := make([]byte, 20)
	require.Equal(t, 20, buf.CopyToMemory(part, 40))
	require.Equal(t, src[40:60], part)

	// Copies are clamped to the chain's logical size
	long := make([]byte, 200)
	require.Equal(t, 60, buf.CopyToMemory(long, 40))
	require.Equal(t, src[40:], long[:60])
	require.Equal(t, 0, buf.CopyToMemory(dst, 100))

	pool.ReleaseBuffer(buf)
}

func TestPoolCopyAtEveryOffset(t *testing.T) {
	pool := newTestPool(t, 5, 32)

	// Chains of two to five buffers, including sizes that are not a multiple of
	// the buffer length
	for _, size := range []int{33, 64, 70, 100, 128, 130, 160} {
		buf := pool.GetBuffer(size)
		require.NotNil(t, buf, "size %d", size)

		src := make([]byte, size)
		for i := range src {
			src[i] = byte(i%251 + 1)
		}
		require.Equal(t, size, buf.CopyFromMemory(src, 0))

		for offset := 0; offset < size; offset++ {
			dst := make([]byte, size-offset)
			require.Equal(t, size-offset, buf.CopyToMemory(dst, offset))
			require.Equal(t, src[offset:], dst, "size %d offset %d", size, offset)
		}

		// Patch three bytes at every offset and check the rest of the chain is
		// untouched
		for offset := 0; offset < size; offset++ {
			patch := []byte{0xa5, 0x5a, 0xc3}
			expected := append([]byte(nil), src...)
			patched := copy(expected[offset:], patch)
			require.Equal(t, patched, buf.CopyFromMemory(patch, offset))

			full := make([]byte, size)
			require.Equal(t, size, buf.CopyToMemory(full, 0))
			require.Equal(t, expected, full, "size %d offset %d", size, offset)

			require.Equal(t, size, buf.CopyFromMemory(src, 0))
		}

		pool.ReleaseBuffer(buf)
	}
}

func TestPoolZeroesOnRelease(t *testing.T) {
	pool := newTestPool(t, 2, 32)

	buf := pool.GetBuffer(64)
	require.NotNil(t, buf)

	src := make([]byte, 64)
	for i := range src {
		src[i] = 0xa5
	}
	buf.CopyFromMemory(src, 0)
	pool.ReleaseBuffer(buf)

	buf = pool.GetBuffer(64)
	require.NotNil(t, buf)

	dst := make([]byte, 64)
	buf.CopyToMemory(dst, 0)
	require.Equal(t, make([]byte, 64), dst)

	pool.ReleaseBuffer(buf)
}

func TestStandaloneBuffer(t *testing.T) {
	mem := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	var buf bufpool.Buffer
	bufpool.InitStandalone(&buf, mem)
	require.True(t, buf.IsStandalone())
	require.Equal(t, 8, buf.Size())
	require.Nil(t, buf.Next())

	dst := make([]byte, 4)
	require.Equal(t, 4, buf.CopyToMemory(dst, 2))
	require.Equal(t, []byte{3, 4, 5, 6}, dst)

	require.Equal(t, 2, buf.CopyFromMemory([]byte{9, 9}, 6))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 9, 9}, mem)

	// Releasing a standalone buffer through a pool is ignored
	pool := newTestPool(t, 2, 32)
	pool.ReleaseBuffer(&buf)
	require.Equal(t, 2, pool.AvailableBuffers())
}

func TestPoolDestroy(t *testing.T) {
	backingHeap, err := heap.NewBlockHeap(4096, heap.CreateOptions{})
	require.NoError(t, err)

	pool, err := bufpool.New(nil, backingHeap, 4, 32, bufpool.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, 128, backingHeap.SpaceUsed())

	buf := pool.GetBuffer(10)
	require.NotNil(t, buf)
	require.Error(t, pool.Destroy())

	pool.ReleaseBuffer(buf)
	require.NoError(t, pool.Destroy())
	require.Equal(t, 0, backingHeap.SpaceUsed())
}

func TestNewPoolErrors(t *testing.T) {
	backingHeap, err := heap.NewBlockHeap(256, heap.CreateOptions{})
	require.NoError(t, err)

	_, err = bufpool.New(nil, nil, 4, 32, bufpool.CreateOptions{})
	require.Error(t, err)
	_, err = bufpool.New(nil, backingHeap, 0, 32, bufpool.CreateOptions{})
	require.Error(t, err)
	_, err = bufpool.New(nil, backingHeap, 4, 0, bufpool.CreateOptions{})
	require.Error(t, err)
	_, err = bufpool.New(nil, backingHeap, 4, 32, bufpool.CreateOptions{Alignment: 5})
	require.Error(t, err)

	// The backing heap is too small for 16 buffers
	_, err = bufpool.New(nil, backingHeap, 16, 32, bufpool.CreateOptions{})
	require.Error(t, err)
}

func TestPoolStatistics(t *testing.T) {
	pool := newTestPool(t, 4, 32)

	buf := pool.GetBuffer(64)
	require.NotNil(t, buf)

	var stats nvstore.DetailedStatistics
	stats.Clear()
	pool.AddDetailedStatistics(&stats)

	require.Equal(t, nvstore.DetailedStatistics{
		Statistics: nvstore.Statistics{
			BlockCount:      1,
			BlockBytes:      128,
			AllocationCount: 2,
			AllocationBytes: 64,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  32,
		AllocationSizeMax:  32,
		UnusedRangeSizeMin: 32,
		UnusedRangeSizeMax: 32,
	}, stats)

	writer := jwriter.NewWriter()
	pool.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var parsed struct {
		BufferLength     int
		BufferCount      int
		AvailableBuffers int
		Buffers          []struct {
			Index   int
			Claimed bool
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &parsed))
	require.Equal(t, 32, parsed.BufferLength)
	require.Equal(t, 4, parsed.BufferCount)
	require.Equal(t, 2, parsed.AvailableBuffers)
	require.Len(t, parsed.Buffers, 4)

	pool.ReleaseBuffer(buf)
}
