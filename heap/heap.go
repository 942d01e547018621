package heap

import (
	"github.com/embeddedkit/nvstore"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

const (
	// BlockSize is the granularity of the free-list allocator in bytes. Areas handed out
	// by a BlockHeap always span a whole number of blocks.
	BlockSize = 64

	// defaultAlignment is the alignment applied to allocation sizes when none is provided
	// via CreateOptions.
	defaultAlignment uint = 8
)

// Allocation is a live region of arena memory handed out by a Heap. The zero value
// represents no allocation.
type Allocation struct {
	// Data is the payload of the allocation, sliced out of the heap's arena. Its length
	// is the requested size; its capacity is the full reserved area.
	Data []byte

	offset int
}

// Offset returns the payload's offset in bytes within the owning heap's arena.
func (a Allocation) Offset() int {
	return a.offset
}

// IsNil returns true if this Allocation does not represent live arena memory.
func (a Allocation) IsNil() bool {
	return a.Data == nil
}

// Heap is a dynamic-memory manager over a fixed arena. Implementations never block and
// never grow the arena: when the arena cannot satisfy a request, Alloc reports failure
// and the caller is expected to treat the failure as out-of-memory rather than as an
// error condition.
type Heap interface {
	// Alloc reserves size bytes from the arena and returns the resulting Allocation.
	// The second return value is false if the arena cannot satisfy the request. A failed
	// Alloc has no side effects on live allocations.
	Alloc(size int) (Allocation, bool)
	// Free returns an Allocation's memory to the arena. Implementations that do not
	// support reclamation treat Free as a no-op.
	Free(alloc Allocation)

	// SpaceUsed returns the number of arena bytes currently reserved, including
	// rounding to the implementation's granularity.
	SpaceUsed() int
	// SpaceLeft returns the number of arena bytes not currently reserved. Fragmentation
	// may prevent a single allocation of this size from succeeding.
	SpaceLeft() int

	// Validate performs internal consistency checks on the heap. These checks may be
	// expensive. When the implementation is functioning correctly, it should not be
	// possible for this method to return an error, but this may assist in diagnosing
	// issues with the implementation.
	Validate() error
	// VisitAllRegions will call the provided callback once for each reserved and free
	// region in the arena, in address order.
	VisitAllRegions(handleRegion func(offset, size int, free bool) error) error

	// AddStatistics sums this heap's allocation statistics into the statistics currently
	// present in the provided nvstore.Statistics object.
	AddStatistics(stats *nvstore.Statistics)
	// AddDetailedStatistics sums this heap's allocation statistics into the statistics
	// currently present in the provided nvstore.DetailedStatistics object.
	AddDetailedStatistics(stats *nvstore.DetailedStatistics)
	// PrintDetailedMap writes a json object describing every region in the arena
	PrintDetailedMap(writer *jwriter.Writer)
}

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Alignment is the power-of-two boundary allocation sizes are rounded up to.
	// When 0, an alignment of 8 is used.
	Alignment uint

	// ExternallySynchronized ensures the heap will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism, but performance may improve because internal
	// mutexes are not used.
	ExternallySynchronized bool
}

func (o *CreateOptions) alignment() (uint, error) {
	alignment := o.Alignment
	if alignment == 0 {
		alignment = defaultAlignment
	}

	err := nvstore.CheckPow2(alignment, "Alignment")
	if err != nil {
		return 0, err
	}

	return alignment, nil
}

func addDetailedStatistics(h Heap, arenaBytes int, stats *nvstore.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += arenaBytes

	_ = h.VisitAllRegions(
		func(offset, size int, free bool) error {
			if free {
				stats.AddUnusedRange(size)
			} else {
				stats.AddAllocation(size)
			}

			return nil
		})
}

func printDetailedMap(h Heap, arenaBytes int, writer *jwriter.Writer) {
	var allocCount, unusedRangeCount, usedBytes int
	_ = h.VisitAllRegions(
		func(offset, size int, free bool) error {
			if free {
				unusedRangeCount++
			} else {
				allocCount++
				usedBytes += size
			}

			return nil
		})

	obj := writer.Object()
	defer obj.End()

	obj.Name("TotalBytes").Int(arenaBytes)
	obj.Name("UnusedBytes").Int(arenaBytes - usedBytes)
	obj.Name("Allocations").Int(allocCount)
	obj.Name("UnusedRanges").Int(unusedRangeCount)

	arrayState := obj.Name("Regions").Array()
	defer arrayState.End()

	_ = h.VisitAllRegions(
		func(offset, size int, free bool) error {
			regionObj := arrayState.Object()
			defer regionObj.End()

			regionObj.Name("Offset").Int(offset)
			regionObj.Name("Size").Int(size)
			if free {
				regionObj.Name("Type").String("Free")
			} else {
				regionObj.Name("Type").String("Allocated")
			}

			return nil
		})
}
