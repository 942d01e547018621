package bufpool

// Buffer is one node in a chain of fixed-size buffers that together represent a single
// contiguous logical byte range. The chain's root carries the logical size of the whole
// range, which may be smaller than the combined backing capacity; tail nodes keep their
// full backing capacity as their size.
//
// A Buffer whose pool reference is nil and that was initialized through InitStandalone
// wraps caller-owned memory instead. Standalone buffers are always single-node chains
// and never participate in pool bookkeeping.
type Buffer struct {
	data []byte
	size int
	next *Buffer
	pool *Pool
}

// InitStandalone initializes a single chain node wrapping caller-owned memory. The node
// is not tracked by any pool and must never be passed to Pool.ReleaseBuffer.
func InitStandalone(buf *Buffer, mem []byte) {
	if buf == nil || len(mem) == 0 {
		return
	}

	buf.data = mem
	buf.size = len(mem)
	buf.next = nil
	buf.pool = nil
}

// Size returns the logical size in bytes of the chain rooted at this node.
func (b *Buffer) Size() int {
	return b.size
}

// Next returns the following node in the chain, or nil for the last node.
func (b *Buffer) Next() *Buffer {
	return b.next
}

// IsStandalone returns true if this node wraps caller-owned memory rather than pool
// backing.
func (b *Buffer) IsStandalone() bool {
	return b.pool == nil
}

// singleBufferLen is the stride used to locate an offset within the chain: the pool's
// buffer length for pooled chains, or the node's own size for a standalone buffer.
func (b *Buffer) singleBufferLen() int {
	if b.pool != nil {
		return b.pool.bufferLen
	}

	return b.size
}

// CopyToMemory copies bytes out of the chain into dst, starting at srcOffset within
// the chain's logical range. The amount copied is min(len(dst), Size()-srcOffset); the
// number of bytes actually copied is returned.
//
// Copying takes no lock: the caller must not release the chain while a copy is in
// progress.
func (b *Buffer) CopyToMemory(dst []byte, srcOffset int) int {
	if b == nil || len(dst) == 0 || srcOffset < 0 || srcOffset >= b.size {
		return 0
	}

	dataLen := len(dst)
	if srcOffset+dataLen > b.size {
		dataLen = b.size - srcOffset
	}
	copied := dataLen

	singleLen := b.singleBufferLen()

	// Walk to the node holding srcOffset
	node := b
	nodeEnd := singleLen
	for srcOffset >= nodeEnd {
		node = node.next
		nodeEnd += singleLen
	}

	// First chunk may start mid-node
	inner := srcOffset - (nodeEnd - singleLen)
	copySize := singleLen - inner
	if copySize > dataLen {
		copySize = dataLen
	}
	copy(dst[:copySize], node.data[inner:inner+copySize])
	dataLen -= copySize

	dstPos := copySize
	for dataLen > 0 {
		node = node.next
		copySize = singleLen
		if dataLen < copySize {
			copySize = dataLen
		}
		copy(dst[dstPos:dstPos+copySize], node.data[:copySize])
		dstPos += copySize
		dataLen -= copySize
	}

	return copied
}

// CopyFromMemory copies bytes from src into the chain, starting at dstOffset within
// the chain's logical range. The amount copied is min(len(src), Size()-dstOffset); the
// number of bytes actually copied is returned.
//
// Copying takes no lock: the caller must not release the chain while a copy is in
// progress.
func (b *Buffer) CopyFromMemory(src []byte, dstOffset int) int {
	if b == nil || len(src) == 0 || dstOffset < 0 || dstOffset >= b.size {
		return 0
	}

	dataLen := len(src)
	if dstOffset+dataLen > b.size {
		dataLen = b.size - dstOffset
	}
	copied := dataLen

	singleLen := b.singleBufferLen()

	// Walk to the node holding dstOffset
	node := b
	nodeEnd := singleLen
	for dstOffset >= nodeEnd {
		node = node.next
		nodeEnd += singleLen
	}

	// First chunk may start mid-node
	inner := dstOffset - (nodeEnd - singleLen)
	copySize := singleLen - inner
	if copySize > dataLen {
		copySize = dataLen
	}
	copy(node.data[inner:inner+copySize], src[:copySize])
	dataLen -= copySize

	srcPos := copySize
	for dataLen > 0 {
		node = node.next
		copySize = singleLen
		if dataLen < copySize {
			copySize = dataLen
		}
		copy(node.data[:copySize], src[srcPos:srcPos+copySize])
		srcPos += copySize
		dataLen -= copySize
	}

	return copied
}
