package heap

import (
	"github.com/embeddedkit/nvstore"
	"github.com/embeddedkit/nvstore/internal/utils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// BumpHeap is the degenerate Heap implementation: a monotonic index into the arena.
// Alloc advances the index and Free is a no-op, so memory is never reclaimed. It suits
// setup-time allocations on systems that tear nothing down.
type BumpHeap struct {
	mutex     utils.OptionalMutex
	alignment uint

	arena []byte
	index int
}

var _ Heap = &BumpHeap{}

// NewBumpHeap creates a BumpHeap over a fresh arena of arenaSize bytes.
func NewBumpHeap(arenaSize int, options CreateOptions) (*BumpHeap, error) {
	alignment, err := options.alignment()
	if err != nil {
		return nil, err
	}

	if arenaSize <= 0 {
		return nil, errors.Errorf("arena size must be positive, but is %d", arenaSize)
	}

	return &BumpHeap{
		mutex: utils.OptionalMutex{
			UseMutex: !options.ExternallySynchronized,
		},
		alignment: alignment,
		arena:     make([]byte, arenaSize),
	}, nil
}

// Alloc reserves size bytes by advancing the arena index. It returns false once the
// remaining tail of the arena is too small.
func (h *BumpHeap) Alloc(size int) (Allocation, bool) {
	if size <= 0 {
		return Allocation{}, false
	}

	alignedSize := nvstore.AlignUp(size, h.alignment)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.index+alignedSize > len(h.arena) {
		return Allocation{}, false
	}

	offset := h.index
	h.index += alignedSize

	return Allocation{
		Data:   h.arena[offset : offset+size : offset+alignedSize],
		offset: offset,
	}, true
}

// Free is a no-op: a bump heap reclaims nothing.
func (h *BumpHeap) Free(alloc Allocation) {
}

func (h *BumpHeap) SpaceUsed() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.index
}

func (h *BumpHeap) SpaceLeft() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.arena) - h.index
}

func (h *BumpHeap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.index < 0 || h.index > len(h.arena) {
		return errors.Errorf("the arena index %d is out of bounds for an arena of %d bytes", h.index, len(h.arena))
	}

	return nil
}

// VisitAllRegions reports at most two regions: the reserved prefix and the free tail.
func (h *BumpHeap) VisitAllRegions(handleRegion func(offset, size int, free bool) error) error {
	h.mutex.Lock()
	index := h.index
	h.mutex.Unlock()

	if index > 0 {
		err := handleRegion(0, index, false)
		if err != nil {
			return err
		}
	}

	if index < len(h.arena) {
		return handleRegion(index, len(h.arena)-index, true)
	}

	return nil
}

// AddStatistics sums this heap's allocation statistics into the statistics currently
// present in the provided nvstore.Statistics object. The reserved prefix counts as a
// single allocation.
func (h *BumpHeap) AddStatistics(stats *nvstore.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.BlockCount++
	stats.BlockBytes += len(h.arena)
	if h.index > 0 {
		stats.AllocationCount++
		stats.AllocationBytes += h.index
	}
}

// AddDetailedStatistics sums this heap's allocation statistics into the statistics
// currently present in the provided nvstore.DetailedStatistics object.
func (h *BumpHeap) AddDetailedStatistics(stats *nvstore.DetailedStatistics) {
	addDetailedStatistics(h, len(h.arena), stats)
}

// PrintDetailedMap writes a json object describing every region in the arena
func (h *BumpHeap) PrintDetailedMap(writer *jwriter.Writer) {
	printDetailedMap(h, len(h.arena), writer)
}
