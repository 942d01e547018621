package nv

import (
	"context"

	"github.com/embeddedkit/nvstore/bufpool"
	"golang.org/x/exp/slog"
)

// Memory is one NV memory exposed through a MemDevice: an address map paired with
// the physical driver that services it. Create memories with NewMemory and hand them
// to NewMemDevice; operations panic until the memory is attached to an initialized
// device.
type Memory struct {
	parent     *MemDevice
	addressMap AddressMap
	ops        DeviceOps
}

// NewMemory builds a detached memory. It performs no I/O; the driver's Init runs
// when the memory is attached to a device.
func NewMemory(addressMap AddressMap, ops DeviceOps) *Memory {
	return &Memory{
		addressMap: addressMap,
		ops:        ops,
	}
}

// Device returns the device this memory is attached to, or nil.
func (m *Memory) Device() *MemDevice {
	return m.parent
}

// AddressMap returns the memory's address map.
func (m *Memory) AddressMap() AddressMap {
	return m.addressMap
}

func (m *Memory) assertReady() *MemDevice {
	if m == nil {
		panic("nv: attempt to operate on a nil Memory")
	}
	device := m.parent
	if device == nil || !device.initialized {
		panic("nv: attempt to operate on a Memory that is not attached to an initialized MemDevice")
	}

	return device
}

// ReadSync reads size bytes starting at addr into dst and blocks until the data is
// available. On a device with a worker the read is queued and the caller waits on a
// notification semaphore; on a synchronous device the driver is called inline.
func (m *Memory) ReadSync(addr, size int, dst []byte) Result {
	device := m.assertReady()

	if size <= 0 || len(dst) < size || !m.addressMap.contains(addr, size) {
		return ResultBadRequest
	}
	if device.locked.Load() {
		return ResultLocked
	}

	if device.synchronous {
		if err := m.ops.Read(addr, size, dst[:size]); err != nil {
			device.logger.LogAttrs(context.Background(), slog.LevelError, "Physical read failed",
				slog.Int("addr", addr),
				slog.Int("size", size),
				slog.Any("error", err))
			return ResultReadErr
		}
		return ResultOK
	}

	return device.syncRequest(request{
		mem:    m,
		op:     opRead,
		addr:   addr,
		length: size,
		raw:    dst[:size],
	})
}

// WriteSync writes src at addr and blocks until the write has been programmed. The
// payload is not copied: a standalone staging buffer wraps the caller's slice, which
// is safe because the caller is parked until the worker finishes with it.
func (m *Memory) WriteSync(addr int, src []byte) Result {
	device := m.assertReady()

	if len(src) == 0 || !m.addressMap.contains(addr, len(src)) {
		return ResultBadRequest
	}
	if device.locked.Load() {
		return ResultLocked
	}

	var staging bufpool.Buffer
	bufpool.InitStandalone(&staging, src)

	if device.synchronous {
		result := ResultOK
		req := request{
			mem:    m,
			op:     opSyncWrite,
			addr:   addr,
			length: len(src),
			chain:  &staging,
			result: &result,
		}
		device.processWriteRequest(&req)
		return result
	}

	return device.syncRequest(request{
		mem:    m,
		op:     opSyncWrite,
		addr:   addr,
		length: len(src),
		chain:  &staging,
	})
}

// WriteAsync queues a write of src at addr and returns without waiting for it to be
// programmed. The payload is copied into buffers claimed from the device's staging
// pool, so the caller may reuse src immediately. The final outcome is published to
// result, which reads ResultInProgress until the worker completes the request.
// WriteAsync requires a device with a worker queue.
func (m *Memory) WriteAsync(addr int, src []byte, result *AsyncResult) Result {
	device := m.assertReady()
	if device.synchronous {
		panic("nv: WriteAsync called on a synchronous MemDevice")
	}

	if len(src) == 0 || !m.addressMap.contains(addr, len(src)) {
		assign(result, ResultBadRequest)
		return ResultBadRequest
	}
	if device.locked.Load() {
		assign(result, ResultLocked)
		return ResultLocked
	}

	assign(result, ResultInProgress)

	chain := device.bufPool.GetBuffer(len(src))
	if chain == nil {
		assign(result, ResultNoBufAvail)
		return ResultNoBufAvail
	}
	chain.CopyFromMemory(src, 0)

	res := device.enqueue(request{
		mem:         m,
		op:          opAsyncWrite,
		addr:        addr,
		length:      len(src),
		chain:       chain,
		asyncResult: result,
	})
	if res != ResultOK {
		device.bufPool.ReleaseBuffer(chain)
		assign(result, res)
	}

	return res
}

// Erase wipes the entire memory and blocks until the driver reports completion.
func (m *Memory) Erase() Result {
	device := m.assertReady()

	if device.locked.Load() {
		return ResultLocked
	}

	if device.synchronous {
		if err := m.ops.Erase(); err != nil {
			device.logger.LogAttrs(context.Background(), slog.LevelError, "Physical erase failed",
				slog.Any("error", err))
			return ResultEraseErr
		}
		return ResultOK
	}

	return device.syncRequest(request{
		mem: m,
		op:  opErase,
	})
}

// Flush queues a no-op request and blocks until the worker services it. Because the
// queue is FIFO, every request queued before the Flush has completed by the time it
// returns. Flush requires a device with a worker queue.
func (m *Memory) Flush() Result {
	device := m.assertReady()
	if device.synchronous {
		panic("nv: Flush called on a synchronous MemDevice")
	}

	if device.locked.Load() {
		return ResultLocked
	}

	return device.syncRequest(request{
		mem: m,
		op:  opFlush,
	})
}
