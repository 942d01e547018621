package nv_test

import (
	"context"
	"testing"
	"time"

	"github.com/embeddedkit/nvstore/bufpool"
	"github.com/embeddedkit/nvstore/heap"
	"github.com/embeddedkit/nvstore/nv"
	"github.com/embeddedkit/nvstore/nv/memdriver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

func newTestPool(t *testing.T, bufferCount, bufferSize int) *bufpool.Pool {
	t.Helper()

	backingHeap, err := heap.NewBlockHeap(4096, heap.CreateOptions{})
	require.NoError(t, err)

	pool, err := bufpool.New(nil, backingHeap, bufferCount, bufferSize, bufpool.CreateOptions{})
	require.NoError(t, err)

	return pool
}

// newQueuedDevice builds a device with a request queue but no running worker, so
// tests can inspect queued requests before they are serviced.
func newQueuedDevice(t *testing.T, options nv.CreateOptions, memories ...*nv.Memory) *nv.MemDevice {
	t.Helper()

	if options.RequestQueueLength == 0 {
		options.RequestQueueLength = 8
	}
	if options.SemaphorePoolSize == 0 {
		options.SemaphorePoolSize = 4
	}
	if options.BufferPool == nil {
		options.BufferPool = newTestPool(t, 8, 32)
	}

	device, err := nv.NewMemDevice(nil, memories, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		device.Unlock()
		require.NoError(t, device.Close())
	})

	return device
}

// newServedDevice builds a device and runs its worker on a background goroutine for
// the duration of the test.
func newServedDevice(t *testing.T, options nv.CreateOptions, memories ...*nv.Memory) *nv.MemDevice {
	t.Helper()

	options.UseIdleWait = true
	device := newQueuedDevice(t, options, memories...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		device.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return device
}

func TestWriteSyncReadSyncRoundTrip(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 1023, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	require.Equal(t, nv.ResultOK, memory.WriteSync(3, []byte{1, 2, 3, 4, 5}))

	// A 5-byte write inside one 16-byte unit is a single read-modify-write
	require.Equal(t, 1, driver.WriteCount())
	require.Equal(t, 1, driver.ReadCount())

	dst := make([]byte, 16)
	require.Equal(t, nv.ResultOK, memory.ReadSync(0, 16, dst))
	require.Equal(t, []byte{
		0xff, 0xff, 0xff, 1, 2, 3, 4, 5,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}, dst)
}

func TestWriteSpanningUnits(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 1023, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	src := make([]byte, 40)
	for i := range src {
		src[i] = byte(i + 1)
	}
	require.Equal(t, nv.ResultOK, memory.WriteSync(8, src))

	// Units 0..2 are programmed; only the leading partial unit needs a read, the
	// trailing 16 bytes cover their unit exactly
	require.Equal(t, 3, driver.WriteCount())
	require.Equal(t, 1, driver.ReadCount())

	require.Equal(t, byte(0xff), driver.Bytes()[7])
	require.Equal(t, src, driver.Bytes()[8:48])
	require.Equal(t, byte(0xff), driver.Bytes()[48])
}

func TestReadWriteAtNonZeroStart(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 512, EndAddr: 1023, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	require.Equal(t, nv.ResultBadRequest, memory.WriteSync(0, []byte{1}))
	require.Equal(t, nv.ResultOK, memory.WriteSync(515, []byte{7, 8, 9}))

	dst := make([]byte, 3)
	require.Equal(t, nv.ResultOK, memory.ReadSync(515, 3, dst))
	require.Equal(t, []byte{7, 8, 9}, dst)
	require.Equal(t, []byte{7, 8, 9}, driver.Bytes()[3:6])
}

func TestWriteAsync(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 1023, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	src := []byte{10, 20, 30, 40}
	var result nv.AsyncResult
	require.Equal(t, nv.ResultOK, memory.WriteAsync(100, src, &result))

	// The payload was staged, so the caller's slice may be reused immediately
	src[0] = 0

	require.Equal(t, nv.ResultOK, memory.Flush())
	require.Equal(t, nv.ResultOK, result.Load())

	dst := make([]byte, 4)
	require.Equal(t, nv.ResultOK, memory.ReadSync(100, 4, dst))
	require.Equal(t, []byte{10, 20, 30, 40}, dst)
}

func TestRequestsCompleteInOrder(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	var first, second nv.AsyncResult
	require.Equal(t, nv.ResultOK, memory.WriteAsync(0, []byte{1, 1, 1, 1}, &first))
	require.Equal(t, nv.ResultOK, memory.WriteAsync(0, []byte{2, 2, 2, 2}, &second))

	// Flush queues behind both writes, so returning means both have completed
	require.Equal(t, nv.ResultOK, memory.Flush())
	require.Equal(t, nv.ResultOK, first.Load())
	require.Equal(t, nv.ResultOK, second.Load())
	require.Equal(t, []byte{2, 2, 2, 2}, driver.Bytes()[:4])
}

func TestBadRequests(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	memory := nv.NewMemory(addressMap, memdriver.NewRAM(addressMap))
	newServedDevice(t, nv.CreateOptions{}, memory)

	dst := make([]byte, 16)
	require.Equal(t, nv.ResultBadRequest, memory.ReadSync(250, 8, dst))
	require.Equal(t, nv.ResultBadRequest, memory.ReadSync(0, 0, dst))
	require.Equal(t, nv.ResultBadRequest, memory.ReadSync(0, 16, make([]byte, 4)))
	require.Equal(t, nv.ResultBadRequest, memory.WriteSync(250, make([]byte, 8)))
	require.Equal(t, nv.ResultBadRequest, memory.WriteSync(0, nil))

	var result nv.AsyncResult
	require.Equal(t, nv.ResultBadRequest, memory.WriteAsync(256, []byte{1}, &result))
	require.Equal(t, nv.ResultBadRequest, result.Load())
}

func TestErase(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	require.Equal(t, nv.ResultOK, memory.WriteSync(0, []byte{1, 2, 3, 4}))
	require.Equal(t, nv.ResultOK, memory.Erase())
	require.Equal(t, 1, driver.EraseCount())

	dst := make([]byte, 4)
	require.Equal(t, nv.ResultOK, memory.ReadSync(0, 4, dst))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, dst)
}

func TestDriverErrorsPropagate(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)
	newServedDevice(t, nv.CreateOptions{}, memory)

	driver.FailRead = errors.New("read fault")
	dst := make([]byte, 4)
	require.Equal(t, nv.ResultReadErr, memory.ReadSync(0, 4, dst))

	// A partial-unit write needs the existing contents, so the read fault surfaces
	// before anything is programmed
	require.Equal(t, nv.ResultReadErr, memory.WriteSync(0, []byte{1, 2}))
	require.Equal(t, 0, driver.WriteCount())
	driver.FailRead = nil

	driver.FailWrite = errors.New("write fault")
	require.Equal(t, nv.ResultWriteErr, memory.WriteSync(0, []byte{1, 2}))

	var result nv.AsyncResult
	require.Equal(t, nv.ResultOK, memory.WriteAsync(0, []byte{1, 2}, &result))
	require.Equal(t, nv.ResultOK, memory.Flush())
	require.Equal(t, nv.ResultWriteErr, result.Load())
	driver.FailWrite = nil

	driver.FailErase = errors.New("erase fault")
	require.Equal(t, nv.ResultEraseErr, memory.Erase())
}

func TestMultipleMemoriesOnOneDevice(t *testing.T) {
	mapA := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	mapB := nv.AddressMap{StartAddr: 0, EndAddr: 511, WriteLenUnit: 32}
	driverA := memdriver.NewRAM(mapA)
	driverB := memdriver.NewRAM(mapB)
	memoryA := nv.NewMemory(mapA, driverA)
	memoryB := nv.NewMemory(mapB, driverB)
	device := newServedDevice(t, nv.CreateOptions{}, memoryA, memoryB)

	require.Same(t, device, memoryA.Device())
	require.Same(t, device, memoryB.Device())

	require.Equal(t, nv.ResultOK, memoryA.WriteSync(1, []byte{0xaa}))
	require.Equal(t, nv.ResultOK, memoryB.WriteSync(1, []byte{0xbb}))

	require.Equal(t, byte(0xaa), driverA.Bytes()[1])
	require.Equal(t, byte(0xbb), driverB.Bytes()[1])
}

func TestSynchronousDevice(t *testing.T) {
	addressMap := nv.AddressMap{StartAddr: 0, EndAddr: 255, WriteLenUnit: 16}
	driver := memdriver.NewRAM(addressMap)
	memory := nv.NewMemory(addressMap, driver)

	device, err := nv.NewMemDevice(nil, []*nv.Memory{memory}, nv.CreateOptions{Synchronous: true})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, device.Close())
	}()

	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(i)
	}
	require.Equal(t, nv.ResultOK, memory.WriteSync(0, src))
	require.Equal(t, 1, driver.WriteCount())
	require.Equal(t, 0, driver.ReadCount())

	dst := make([]byte, 16)
	require.Equal(t, nv.ResultOK, memory.ReadSync(0, 16, dst))
	require.Equal(t, src, dst)

	require.Equal(t, nv.ResultOK, memory.Erase())

	var result nv.AsyncResult
	require.Panics(t, func() {
		memory.WriteAsync(0, []byte{1}, &result)
	})
	require.Panics(t, func() {
		memory.Flush()
	})
	require.Panics(t, func() {
		device.ProcessRequests()
	})
}
