package nv

import "sync/atomic"

// Result is the outcome of an NV operation. Every public operation in this package
// reports its outcome as a Result; physical driver failures are passed through as the
// ResultReadErr/ResultWriteErr/ResultEraseErr codes and are never retried at this
// layer.
type Result uint32

const (
	// ResultOK indicates the operation completed.
	ResultOK Result = iota
	// ResultInProgress indicates the operation has been accepted but has not completed.
	// Lock also returns it when a flush was requested while the worker is mid-operation;
	// the caller is expected to retry.
	ResultInProgress
	// ResultBadRequest indicates invalid caller data: an empty payload or an address
	// range outside the memory's address map.
	ResultBadRequest
	// ResultNoSemAvail indicates every notification semaphore is claimed by another
	// in-flight synchronous request. Recoverable by backoff and retry.
	ResultNoSemAvail
	// ResultNoBufAvail indicates the staging buffer pool could not hold the payload of
	// an asynchronous write. Recoverable by backoff and retry.
	ResultNoBufAvail
	// ResultTooManyRequests indicates the request queue is full. Recoverable by backoff
	// and retry.
	ResultTooManyRequests
	// ResultReadErr is a physical read failure reported by the driver.
	ResultReadErr
	// ResultWriteErr is a physical write failure reported by the driver.
	ResultWriteErr
	// ResultEraseErr is a physical erase failure reported by the driver.
	ResultEraseErr
	// ResultLocked indicates the device is locked and rejecting new requests.
	ResultLocked
)

var resultMapping = map[Result]string{
	ResultOK:              "ResultOK",
	ResultInProgress:      "ResultInProgress",
	ResultBadRequest:      "ResultBadRequest",
	ResultNoSemAvail:      "ResultNoSemAvail",
	ResultNoBufAvail:      "ResultNoBufAvail",
	ResultTooManyRequests: "ResultTooManyRequests",
	ResultReadErr:         "ResultReadErr",
	ResultWriteErr:        "ResultWriteErr",
	ResultEraseErr:        "ResultEraseErr",
	ResultLocked:          "ResultLocked",
}

func (r Result) String() string {
	return resultMapping[r]
}

// AsyncResult is the result slot of an asynchronous write. The engine stores
// ResultInProgress when the request is accepted and the final Result when the worker
// completes it; the caller polls with Load.
type AsyncResult struct {
	value atomic.Uint32
}

// Load returns the most recently published Result.
func (r *AsyncResult) Load() Result {
	return Result(r.value.Load())
}

func (r *AsyncResult) store(res Result) {
	r.value.Store(uint32(res))
}

// assign mirrors the guard the engine applies everywhere a result slot may be nil:
// callers that don't care about the outcome may pass no slot.
func assign(result *AsyncResult, res Result) {
	if result != nil {
		result.store(res)
	}
}
