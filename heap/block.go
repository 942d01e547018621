package heap

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/embeddedkit/nvstore"
	"github.com/embeddedkit/nvstore/internal/utils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// reservedBit marks an area header as allocated. It lives in the high bit of the
// header's block count, so a free area's count can be compared and added directly.
const reservedBit uint32 = 1 << 31

// areaHeader describes a run of one or more consecutive arena blocks. Only the first
// block of a run has a meaningful header. The prev/next links stitch free areas into a
// circular doubly-linked list rooted at the sentinel and are valid only while the area
// is free.
type areaHeader struct {
	blocks uint32
	prev   int32
	next   int32
}

// BlockHeap is a Heap implementation that manages a fixed arena as runs of
// BlockSize-byte blocks linked into a circular free list with a sentinel.
//
// Allocation is first-fit: the free list is scanned from the sentinel's successor, and
// while scanning, each candidate area is merged with any free areas that immediately
// follow it before being tested against the request. This makes coalescing a lazy
// byproduct of allocation - Free is O(1) and performs no merging, it only reinserts
// the area at the head of the free list. Since the free list is not kept sorted, there
// is less of a tendency for small areas to accumulate at the head of the free list.
//
// The arena is partitioned lazily on the first Alloc and is never torn down.
type BlockHeap struct {
	mutex     utils.OptionalMutex
	alignment uint

	arena     []byte
	headers   []areaHeader
	numBlocks int
	sentinel  int32

	initialized bool
	usedBlocks  int

	// live maps payload offsets to their reserved block counts, so Free can reject
	// offsets that don't correspond to a live allocation.
	live *swiss.Map[int, uint32]
}

var _ Heap = &BlockHeap{}

// NewBlockHeap creates a BlockHeap over a fresh arena of arenaSize bytes. arenaSize is
// rounded down to a whole number of blocks and must leave room for at least one
// allocatable block.
func NewBlockHeap(arenaSize int, options CreateOptions) (*BlockHeap, error) {
	alignment, err := options.alignment()
	if err != nil {
		return nil, err
	}

	numBlocks := arenaSize / BlockSize
	if numBlocks < 1 {
		return nil, errors.Errorf("arena size %d cannot hold a single %d-byte block", arenaSize, BlockSize)
	}

	return &BlockHeap{
		mutex: utils.OptionalMutex{
			UseMutex: !options.ExternallySynchronized,
		},
		alignment: alignment,
		arena:     make([]byte, numBlocks*BlockSize),
		headers:   make([]areaHeader, numBlocks+1),
		numBlocks: numBlocks,
		sentinel:  int32(numBlocks),
		live:      swiss.NewMap[int, uint32](42),
	}, nil
}

// Alloc reserves size bytes from the arena. The returned Allocation's Data has length
// size and capacity equal to the full reserved run of blocks. Alloc returns false when
// no free area can satisfy the request; live allocations are unaffected.
func (h *BlockHeap) Alloc(size int) (Allocation, bool) {
	if size <= 0 {
		return Allocation{}, false
	}

	alignedSize := nvstore.AlignUp(size, h.alignment)
	blocksRequired := nvstore.CeilDiv(alignedSize, BlockSize)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		h.initArena()
	}

	// First-fit scan with eager coalescing: each candidate absorbs its free successors
	// before the fit test, so the scan may succeed where the raw free list could not.
	area := h.headers[h.sentinel].next
	for ; area != h.sentinel; area = h.headers[area].next {
		h.mergeWithSuccessors(area)

		if int(h.headers[area].blocks) >= blocksRequired {
			break
		}
	}

	if area == h.sentinel {
		return Allocation{}, false
	}

	if int(h.headers[area].blocks) > blocksRequired {
		h.splitArea(area, blocksRequired)
	}

	h.unlinkArea(area)
	h.headers[area].blocks |= reservedBit
	h.usedBlocks += blocksRequired

	offset := int(area) * BlockSize
	h.live.Put(offset, uint32(blocksRequired))

	return Allocation{
		Data:   h.arena[offset : offset+size : offset+blocksRequired*BlockSize],
		offset: offset,
	}, true
}

// Free returns an allocation to the arena in constant time. The area is reinserted at
// the head of the free list without coalescing; merging with neighbors happens during
// some later allocation scan. Allocations whose offsets fall outside the arena are
// ignored; an in-arena offset that does not match a live allocation indicates a
// double free or a corrupted Allocation and panics.
func (h *BlockHeap) Free(alloc Allocation) {
	if alloc.IsNil() {
		return
	}
	if alloc.offset < 0 || alloc.offset >= len(h.arena) || alloc.offset%BlockSize != 0 {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	blocks, ok := h.live.Get(alloc.offset)
	if !ok {
		panic(fmt.Sprintf("attempted to free arena offset %d, which does not correspond to a live allocation", alloc.offset))
	}
	h.live.Delete(alloc.offset)

	area := int32(alloc.offset / BlockSize)
	if h.headers[area].blocks != blocks|reservedBit {
		panic(fmt.Sprintf("area header at block %d holds %d blocks but the allocation was reserved with %d - the arena is corrupted", area, h.headers[area].blocks&^reservedBit, blocks))
	}

	h.headers[area].blocks &^= reservedBit
	h.insertAfterSentinel(area)
	h.usedBlocks -= int(blocks)
}

// SpaceUsed returns the number of arena bytes currently reserved, rounded up to whole
// blocks.
func (h *BlockHeap) SpaceUsed() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.usedBlocks * BlockSize
}

// SpaceLeft returns the number of arena bytes not currently reserved.
func (h *BlockHeap) SpaceLeft() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return (h.numBlocks - h.usedBlocks) * BlockSize
}

// Validate performs internal consistency checks on the arena partition, the free list
// and the live-allocation index.
func (h *BlockHeap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		if h.usedBlocks != 0 {
			return errors.Errorf("the arena has not been partitioned but reports %d used blocks", h.usedBlocks)
		}
		return nil
	}

	if h.headers[h.sentinel].blocks != reservedBit {
		return errors.New("the sentinel area must remain reserved and empty")
	}

	// Walk the physical partition
	var walkedBlocks, walkedUsed, liveAreas int
	for area := int32(0); area != h.sentinel; {
		header := h.headers[area]
		count := int(header.blocks &^ reservedBit)

		if count == 0 {
			return errors.Errorf("area at block %d has a zero block count", area)
		}
		if int(area)+count > h.numBlocks {
			return errors.Errorf("area at block %d spans %d blocks, past the end of the arena", area, count)
		}

		if header.blocks&reservedBit != 0 {
			offset := int(area) * BlockSize
			recorded, ok := h.live.Get(offset)
			if !ok {
				return errors.Errorf("reserved area at offset %d is missing from the live-allocation index", offset)
			}
			if int(recorded) != count {
				return errors.Errorf("reserved area at offset %d spans %d blocks but was indexed with %d", offset, count, recorded)
			}
			walkedUsed += count
			liveAreas++
		}

		walkedBlocks += count
		area += int32(count)
	}

	if walkedBlocks != h.numBlocks {
		return errors.Errorf("the arena partition covers %d blocks, expected %d", walkedBlocks, h.numBlocks)
	}
	if walkedUsed != h.usedBlocks {
		return errors.Errorf("counted %d reserved blocks, but the heap reports %d", walkedUsed, h.usedBlocks)
	}
	if liveAreas != h.live.Count() {
		return errors.Errorf("counted %d reserved areas, but the live-allocation index holds %d", liveAreas, h.live.Count())
	}

	// Walk the free list
	for area := h.headers[h.sentinel].next; area != h.sentinel; area = h.headers[area].next {
		header := h.headers[area]
		if header.blocks&reservedBit != 0 {
			return errors.Errorf("reserved area at block %d is linked into the free list", area)
		}
		if h.headers[header.next].prev != area {
			return errors.Errorf("free-list links are broken at block %d", area)
		}
	}

	return nil
}

// VisitAllRegions will call the provided callback once for each reserved and free
// region in the arena, in address order.
func (h *BlockHeap) VisitAllRegions(handleRegion func(offset, size int, free bool) error) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return handleRegion(0, len(h.arena), true)
	}

	for area := int32(0); area != h.sentinel; {
		header := h.headers[area]
		count := int(header.blocks &^ reservedBit)

		err := handleRegion(int(area)*BlockSize, count*BlockSize, header.blocks&reservedBit == 0)
		if err != nil {
			return err
		}

		area += int32(count)
	}

	return nil
}

// AddStatistics sums this heap's allocation statistics into the statistics currently
// present in the provided nvstore.Statistics object.
func (h *BlockHeap) AddStatistics(stats *nvstore.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.BlockCount++
	stats.BlockBytes += len(h.arena)
	stats.AllocationCount += h.live.Count()
	stats.AllocationBytes += h.usedBlocks * BlockSize
}

// AddDetailedStatistics sums this heap's allocation statistics into the statistics
// currently present in the provided nvstore.DetailedStatistics object.
func (h *BlockHeap) AddDetailedStatistics(stats *nvstore.DetailedStatistics) {
	addDetailedStatistics(h, len(h.arena), stats)
}

// PrintDetailedMap writes a json object describing every region in the arena
func (h *BlockHeap) PrintDetailedMap(writer *jwriter.Writer) {
	printDetailedMap(h, len(h.arena), writer)
}

// initArena partitions the arena into one giant free area plus the terminating
// sentinel. The sentinel is flagged reserved so it can never be allocated and never
// merges, and it points back at the single free area.
func (h *BlockHeap) initArena() {
	sentinel := &h.headers[h.sentinel]
	sentinel.blocks = reservedBit
	sentinel.prev = h.sentinel
	sentinel.next = h.sentinel

	h.headers[0].blocks = uint32(h.numBlocks)
	h.insertAfterSentinel(0)

	h.initialized = true
}

func (h *BlockHeap) insertAfterSentinel(area int32) {
	successor := h.headers[h.sentinel].next
	h.headers[h.sentinel].next = area
	h.headers[area].prev = h.sentinel
	h.headers[area].next = successor
	h.headers[successor].prev = area
}

func (h *BlockHeap) unlinkArea(area int32) {
	prev := h.headers[area].prev
	next := h.headers[area].next
	h.headers[prev].next = next
	h.headers[next].prev = prev
}

// mergeWithSuccessors absorbs every free area immediately following the given free
// area. Free successors are also on the free list, so they can be unlinked in constant
// time. The loop terminates at the first reserved area; in terminal cases that is the
// sentinel.
func (h *BlockHeap) mergeWithSuccessors(area int32) {
	successor := area + int32(h.headers[area].blocks)

	for h.headers[successor].blocks&reservedBit == 0 {
		h.unlinkArea(successor)
		h.headers[area].blocks += h.headers[successor].blocks
		successor = area + int32(h.headers[area].blocks)
	}
}

// splitArea carves blocksRequired blocks off the front of a free area. The remainder
// becomes a new free area reinserted right after the sentinel.
func (h *BlockHeap) splitArea(area int32, blocksRequired int) {
	remainder := area + int32(blocksRequired)
	h.headers[remainder].blocks = h.headers[area].blocks - uint32(blocksRequired)
	h.headers[area].blocks = uint32(blocksRequired)
	h.insertAfterSentinel(remainder)
}
