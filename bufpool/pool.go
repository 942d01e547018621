package bufpool

import (
	"context"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/embeddedkit/nvstore"
	"github.com/embeddedkit/nvstore/heap"
	"github.com/embeddedkit/nvstore/internal/utils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// defaultAlignment is the boundary buffer sizes are rounded up to when none is
// provided via CreateOptions.
const defaultAlignment uint = 4

// CreateOptions contains optional settings when creating a buffer pool
type CreateOptions struct {
	// Alignment is the power-of-two boundary the buffer size is rounded up to.
	// When 0, an alignment of 4 is used.
	Alignment uint

	// ExternallySynchronized ensures the pool will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism, but performance may improve because internal
	// mutexes are not used.
	ExternallySynchronized bool
}

// Pool manages a fixed number of equal-size buffers over one contiguous backing region.
// Logical allocations larger than a single buffer are satisfied by chaining several
// physical buffers together; allocation is all-or-nothing, so a request that cannot be
// fully satisfied has no side effects.
//
// The backing region and the descriptor array are allocated once, at creation time,
// from the provided heap. The heap is not touched again afterwards.
type Pool struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	backingHeap heap.Heap
	backing     heap.Allocation

	buffers   []Buffer
	available int
	bufferLen int
}

// New creates a Pool of bufferCount buffers of bufferSize bytes each. bufferSize is
// rounded up to the configured alignment and the whole backing region is taken from
// backingHeap as a single allocation.
func New(logger *slog.Logger, backingHeap heap.Heap, bufferCount, bufferSize int, options CreateOptions) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backingHeap == nil {
		return nil, cerrors.New("a backing heap is required to create a buffer pool")
	}
	if bufferCount <= 0 {
		return nil, cerrors.Newf("buffer count must be positive, but is %d", bufferCount)
	}
	if bufferSize <= 0 {
		return nil, cerrors.Newf("buffer size must be positive, but is %d", bufferSize)
	}

	alignment := options.Alignment
	if alignment == 0 {
		alignment = defaultAlignment
	}
	err := nvstore.CheckPow2(alignment, "Alignment")
	if err != nil {
		return nil, err
	}

	bufferLen := nvstore.AlignUp(bufferSize, alignment)
	stride := bufferLen + nvstore.DebugMargin

	backing, ok := backingHeap.Alloc(bufferCount * stride)
	if !ok {
		return nil, cerrors.Newf("the backing heap cannot hold %d buffers of %d bytes", bufferCount, bufferLen)
	}

	// The heap does not zero reclaimed memory
	region := backing.Data
	for i := range region {
		region[i] = 0
	}

	pool := &Pool{
		logger: logger,
		mutex: utils.OptionalMutex{
			UseMutex: !options.ExternallySynchronized,
		},
		backingHeap: backingHeap,
		backing:     backing,
		buffers:     make([]Buffer, bufferCount),
		available:   bufferCount,
		bufferLen:   bufferLen,
	}

	for i := 0; i < bufferCount; i++ {
		pool.buffers[i] = Buffer{
			data: region[i*stride : i*stride+bufferLen : i*stride+bufferLen],
			size: bufferLen,
		}
		nvstore.WriteMagicValue(region, i*stride+bufferLen)
	}

	nvstore.DebugValidate(pool)
	return pool, nil
}

// Destroy returns the pool's backing region to the heap it was created from. It is an
// error to destroy a pool while any of its buffers are still claimed.
func (p *Pool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.available != len(p.buffers) {
		return cerrors.Newf("%d of the pool's %d buffers are still claimed", len(p.buffers)-p.available, len(p.buffers))
	}

	p.backingHeap.Free(p.backing)
	p.backing = heap.Allocation{}
	p.buffers = nil
	p.available = 0

	return nil
}

// GetBuffer claims enough buffers to hold requestedBytes and links them into a chain.
// The chain's root size is set to requestedBytes. When fewer buffers are free than the
// request needs, GetBuffer returns nil and the pool is left unchanged.
func (p *Pool) GetBuffer(requestedBytes int) *Buffer {
	if requestedBytes <= 0 {
		return nil
	}

	buffersNeeded := nvstore.CeilDiv(requestedBytes, p.bufferLen)
	if buffersNeeded > len(p.buffers) {
		return nil
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.available < buffersNeeded {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Buffer pool exhausted",
			slog.Int("requested", requestedBytes),
			slog.Int("available", p.available))
		return nil
	}
	p.available -= buffersNeeded

	// Claim free descriptors in array-index order and link them in claim order
	var root, prev *Buffer
	for i := 0; buffersNeeded > 0; i++ {
		if p.buffers[i].pool != nil {
			continue
		}

		buf := &p.buffers[i]
		buf.pool = p
		if root == nil {
			root = buf
		} else {
			prev.next = buf
		}
		prev = buf
		buffersNeeded--
	}

	prev.next = nil
	root.size = requestedBytes

	return root
}

// ReleaseBuffer returns every node of a chain to its pool. Each node's memory is zeroed
// before it becomes claimable again, so no data is retained across reuse. Standalone
// buffers and nil chains are ignored.
func (p *Pool) ReleaseBuffer(buf *Buffer) {
	if buf == nil || buf.pool == nil {
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for buf != nil {
		if buf.pool != p {
			panic(fmt.Sprintf("a chain node at %p belongs to a different pool", buf))
		}

		data := buf.data
		for i := range data {
			data[i] = 0
		}

		buf.size = p.bufferLen
		buf.pool = nil
		next := buf.next
		buf.next = nil
		p.available++

		buf = next
	}
}

// AvailableBuffers returns the number of buffers not currently claimed by any chain.
func (p *Pool) AvailableBuffers() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.available
}

// BufferLength returns the usable size in bytes of a single pool buffer, after
// alignment rounding.
func (p *Pool) BufferLength() int {
	return p.bufferLen
}

// BufferCount returns the fixed number of buffers managed by this pool.
func (p *Pool) BufferCount() int {
	return len(p.buffers)
}

// Validate performs internal consistency checks on the pool bookkeeping.
func (p *Pool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var free int
	for i := 0; i < len(p.buffers); i++ {
		if p.buffers[i].pool == nil {
			free++
		} else if p.buffers[i].pool != p {
			return cerrors.Newf("the descriptor at index %d references a different pool", i)
		}
	}

	if free != p.available {
		return cerrors.Newf("counted %d free buffers, but the pool reports %d available", free, p.available)
	}

	if nvstore.DebugMargin > 0 {
		region := p.backing.Data
		stride := p.bufferLen + nvstore.DebugMargin
		for i := 0; i < len(p.buffers); i++ {
			if !nvstore.ValidateMagicValue(region, i*stride+p.bufferLen) {
				return cerrors.Newf("memory corruption detected after the buffer at index %d", i)
			}
		}
	}

	return nil
}

// AddStatistics sums this pool's occupancy into the statistics currently present in
// the provided nvstore.Statistics object.
func (p *Pool) AddStatistics(stats *nvstore.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	claimed := len(p.buffers) - p.available
	stats.BlockCount++
	stats.BlockBytes += len(p.buffers) * p.bufferLen
	stats.AllocationCount += claimed
	stats.AllocationBytes += claimed * p.bufferLen
}

// AddDetailedStatistics sums this pool's occupancy into the statistics currently
// present in the provided nvstore.DetailedStatistics object.
func (p *Pool) AddDetailedStatistics(stats *nvstore.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats.BlockCount++
	stats.BlockBytes += len(p.buffers) * p.bufferLen

	for i := 0; i < len(p.buffers); i++ {
		if p.buffers[i].pool != nil {
			stats.AddAllocation(p.bufferLen)
		} else {
			stats.AddUnusedRange(p.bufferLen)
		}
	}
}

// PrintDetailedMap writes a json object describing every buffer in the pool
func (p *Pool) PrintDetailedMap(writer *jwriter.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("BufferLength").Int(p.bufferLen)
	obj.Name("BufferCount").Int(len(p.buffers))
	obj.Name("AvailableBuffers").Int(p.available)

	arrayState := obj.Name("Buffers").Array()
	defer arrayState.End()

	for i := 0; i < len(p.buffers); i++ {
		bufObj := arrayState.Object()
		bufObj.Name("Index").Int(i)
		bufObj.Name("Claimed").Bool(p.buffers[i].pool != nil)
		bufObj.End()
	}
}
