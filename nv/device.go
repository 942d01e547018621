package nv

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/embeddedkit/nvstore/bufpool"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

const (
	defaultSyncWaitTimeout = 10 * time.Second
	servePollInterval      = time.Millisecond
)

// CreateOptions configures a MemDevice.
type CreateOptions struct {
	// RequestQueueLength is the capacity of the FIFO request queue. Required unless
	// Synchronous is set.
	RequestQueueLength int
	// SemaphorePoolSize is the number of notification semaphores, which bounds how
	// many synchronous requests may be in flight at once. Required unless Synchronous
	// is set.
	SemaphorePoolSize int
	// BufferPool stages the payloads of asynchronous writes. Required unless
	// Synchronous is set.
	BufferPool *bufpool.Pool
	// UseIdleWait makes the worker block on an idle channel between requests instead
	// of polling the queue.
	UseIdleWait bool
	// SyncWaitTimeout bounds how long a synchronous caller waits for the worker
	// before the engine treats the system as wedged and panics. Defaults to 10
	// seconds.
	SyncWaitTimeout time.Duration
	// Synchronous makes every operation run the driver inline on the caller's
	// goroutine. No queue, semaphore pool, or buffer pool is created, and WriteAsync
	// and Flush become unavailable. A synchronous device must be driven from one
	// goroutine at a time.
	Synchronous bool
}

// MemDevice coordinates access to a set of NV memories. Requests from any number of
// goroutines are funneled through a FIFO queue and serviced one at a time by a
// worker, so driver code never runs concurrently. See NewMemDevice.
type MemDevice struct {
	logger  *slog.Logger
	devices []*Memory

	// pageBuffer holds one write unit during read-modify-write, sized for the
	// largest unit among the attached memories. Only the worker touches it.
	pageBuffer []byte

	synchronous     bool
	syncWaitTimeout time.Duration

	locked       atomic.Bool
	opInProgress atomic.Bool

	// bookkeeping guards the queue and semaphore pool only, never physical I/O
	bookkeeping sync.Mutex
	queue       *requestQueue
	semPool     *semaphorePool
	bufPool     *bufpool.Pool
	idle        chan struct{}

	initialized bool
}

// NewMemDevice initializes every memory's driver and returns a device ready to
// accept requests. Unless options.Synchronous is set the caller must also run the
// worker, either by calling Serve on a dedicated goroutine or by calling
// ProcessRequests from its own loop.
func NewMemDevice(logger *slog.Logger, devices []*Memory, options CreateOptions) (*MemDevice, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(devices) == 0 {
		return nil, cerrors.New("attempted to create a MemDevice with no memories")
	}

	maxUnit := 0
	for i, mem := range devices {
		if mem == nil {
			return nil, cerrors.Newf("the memory at index %d is nil", i)
		}
		if mem.parent != nil {
			return nil, cerrors.Newf("the memory at index %d is already attached to a device", i)
		}
		if mem.ops == nil {
			return nil, cerrors.Newf("the memory at index %d has no driver", i)
		}
		if mem.addressMap.WriteLenUnit <= 0 {
			return nil, cerrors.Newf("the memory at index %d has an invalid write unit %d", i, mem.addressMap.WriteLenUnit)
		}
		if mem.addressMap.EndAddr < mem.addressMap.StartAddr {
			return nil, cerrors.Newf("the memory at index %d has an empty address map [%d, %d]", i, mem.addressMap.StartAddr, mem.addressMap.EndAddr)
		}
		if mem.addressMap.WriteLenUnit > maxUnit {
			maxUnit = mem.addressMap.WriteLenUnit
		}
	}

	device := &MemDevice{
		logger:          logger,
		devices:         devices,
		pageBuffer:      make([]byte, maxUnit),
		synchronous:     options.Synchronous,
		syncWaitTimeout: options.SyncWaitTimeout,
	}
	if device.syncWaitTimeout <= 0 {
		device.syncWaitTimeout = defaultSyncWaitTimeout
	}

	if !options.Synchronous {
		if options.RequestQueueLength <= 0 {
			return nil, cerrors.Newf("invalid request queue length %d", options.RequestQueueLength)
		}
		if options.SemaphorePoolSize <= 0 {
			return nil, cerrors.Newf("invalid semaphore pool size %d", options.SemaphorePoolSize)
		}
		if options.BufferPool == nil {
			return nil, cerrors.New("a buffer pool is required to stage asynchronous writes")
		}

		device.queue = newRequestQueue(options.RequestQueueLength)
		device.semPool = newSemaphorePool(options.SemaphorePoolSize)
		device.bufPool = options.BufferPool
		if options.UseIdleWait {
			device.idle = make(chan struct{}, options.RequestQueueLength)
		}
	}

	for i, mem := range devices {
		if err := mem.ops.Init(); err != nil {
			for _, attached := range devices[:i] {
				_ = attached.ops.Deinit()
				attached.parent = nil
			}
			return nil, cerrors.Wrapf(err, "failed to initialize the driver of the memory at index %d", i)
		}
		mem.parent = device
	}

	device.initialized = true
	return device, nil
}

// Close drains the queue, deinitializes every memory's driver, and detaches the
// memories. Once Close returns the device and its memories panic on further use.
func (d *MemDevice) Close() error {
	if d == nil {
		panic("nv: attempt to close a nil MemDevice")
	}
	if !d.initialized {
		return nil
	}

	for d.Lock(true) == ResultInProgress {
		time.Sleep(servePollInterval)
	}

	var err error
	for _, mem := range d.devices {
		if deinitErr := mem.ops.Deinit(); deinitErr != nil {
			err = cerrors.CombineErrors(err, deinitErr)
		}
		mem.parent = nil
	}

	d.initialized = false
	return err
}

// Lock puts the device into a state where every new request is rejected with
// ResultLocked. With flush set, Lock also drains the queue on the calling goroutine
// so that the device is quiescent when it returns; if the worker is mid-request the
// drain cannot proceed and Lock returns ResultInProgress, in which case the caller
// should retry.
func (d *MemDevice) Lock(flush bool) Result {
	if d == nil {
		panic("nv: attempt to lock a nil MemDevice")
	}

	d.locked.Store(true)

	if !flush || d.queue == nil {
		return ResultOK
	}

	// opInProgress is checked under bookkeeping because the worker sets it in the
	// same critical section as its queue pop. Checking it outside would leave a
	// window where the drain and the worker both run requests against the shared
	// page buffer.
	for {
		d.bookkeeping.Lock()
		if d.opInProgress.Load() {
			d.bookkeeping.Unlock()
			return ResultInProgress
		}
		req, ok := d.queue.pop()
		d.bookkeeping.Unlock()
		if !ok {
			break
		}
		d.processRequest(&req)
	}

	return ResultOK
}

// Unlock lifts a Lock. Requests rejected while the device was locked are not
// replayed.
func (d *MemDevice) Unlock() {
	if d == nil {
		panic("nv: attempt to unlock a nil MemDevice")
	}
	d.locked.Store(false)
}

// Locked reports whether the device is currently rejecting new requests.
func (d *MemDevice) Locked() bool {
	return d.locked.Load()
}

// PendingRequests returns the number of queued requests the worker has not yet
// picked up.
func (d *MemDevice) PendingRequests() int {
	if d.queue == nil {
		return 0
	}

	d.bookkeeping.Lock()
	defer d.bookkeeping.Unlock()
	return d.queue.len()
}

// ProcessRequests services at most one queued request on the calling goroutine. It
// is the building block for applications that run the worker from their own loop
// rather than through Serve. With UseIdleWait set it blocks until a request is
// queued; otherwise it returns immediately when the queue is empty.
func (d *MemDevice) ProcessRequests() {
	if d == nil || d.queue == nil {
		panic("nv: ProcessRequests requires a MemDevice with a request queue")
	}

	if d.locked.Load() {
		return
	}
	if d.idle != nil {
		<-d.idle
	}

	d.processOne()
}

// Serve runs the worker until ctx is canceled. Run it on a dedicated goroutine.
func (d *MemDevice) Serve(ctx context.Context) {
	if d == nil || d.queue == nil {
		panic("nv: Serve requires a MemDevice with a request queue")
	}

	for {
		if d.locked.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(servePollInterval):
			}
			continue
		}

		if d.idle != nil {
			select {
			case <-ctx.Done():
				return
			case <-d.idle:
			}
			d.processOne()
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !d.processOne() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(servePollInterval):
			}
		}
	}
}

func (d *MemDevice) processOne() bool {
	d.bookkeeping.Lock()
	if d.locked.Load() {
		// A lock landed after the caller's locked check. Leave the request for the
		// lock holder's drain, and restore the wakeup token so the request is not
		// stranded if the device is unlocked without one.
		d.bookkeeping.Unlock()
		if d.idle != nil {
			select {
			case d.idle <- struct{}{}:
			default:
			}
		}
		return false
	}
	req, ok := d.queue.pop()
	if ok {
		// Set under bookkeeping so Lock's flush drain can never see an empty queue
		// while this request is still being serviced
		d.opInProgress.Store(true)
	}
	d.bookkeeping.Unlock()
	if !ok {
		return false
	}

	d.processRequest(&req)
	d.opInProgress.Store(false)

	return true
}

func (d *MemDevice) enqueue(req request) Result {
	d.bookkeeping.Lock()
	ok := d.queue.push(req)
	d.bookkeeping.Unlock()
	if !ok {
		d.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Request queue full",
			slog.String("op", req.op.String()),
			slog.Int("addr", req.addr))
		return ResultTooManyRequests
	}

	if d.idle != nil {
		// Dropping the token when the channel is full is fine: the channel holds at
		// least as many tokens as there are pending requests
		select {
		case d.idle <- struct{}{}:
		default:
		}
	}

	return ResultOK
}

// syncRequest claims a notification semaphore, queues the request, and parks the
// caller until the worker publishes the outcome.
func (d *MemDevice) syncRequest(req request) Result {
	d.bookkeeping.Lock()
	sem := d.semPool.acquire()
	d.bookkeeping.Unlock()
	if sem == nil {
		return ResultNoSemAvail
	}

	result := ResultOK
	req.notification = sem
	req.result = &result

	res := d.enqueue(req)
	if res == ResultOK {
		d.waitSync(sem)
		res = result
	}

	d.bookkeeping.Lock()
	d.semPool.release(sem)
	d.bookkeeping.Unlock()

	return res
}

func (d *MemDevice) waitSync(sem *semaphore) {
	select {
	case <-sem.ch:
	case <-time.After(d.syncWaitTimeout):
		panic("nv: timed out waiting for the worker to complete a synchronous request - is the worker running?")
	}
}

// PrintDetailedMap writes a JSON snapshot of the device's state for debugging.
func (d *MemDevice) PrintDetailedMap(writer *jwriter.Writer) {
	obj := writer.Object()

	obj.Name("Locked").Bool(d.locked.Load())
	obj.Name("OpInProgress").Bool(d.opInProgress.Load())
	obj.Name("PendingRequests").Int(d.PendingRequests())

	memories := obj.Name("Memories").Array()
	for _, mem := range d.devices {
		memObj := memories.Object()
		memObj.Name("StartAddr").Int(mem.addressMap.StartAddr)
		memObj.Name("EndAddr").Int(mem.addressMap.EndAddr)
		memObj.Name("WriteLenUnit").Int(mem.addressMap.WriteLenUnit)
		memObj.End()
	}
	memories.End()

	obj.End()
}
