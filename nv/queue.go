package nv

import (
	"github.com/embeddedkit/nvstore/bufpool"
)

type opType uint32

const (
	opNop opType = iota
	opRead
	opSyncWrite
	opAsyncWrite
	opErase
	opFlush
)

var opTypeMapping = map[opType]string{
	opNop:        "Nop",
	opRead:       "Read",
	opSyncWrite:  "SyncWrite",
	opAsyncWrite: "AsyncWrite",
	opErase:      "Erase",
	opFlush:      "Flush",
}

func (o opType) String() string {
	return opTypeMapping[o]
}

// request is one queued NV operation. The payload field in use depends on op: reads
// fill raw, writes drain chain. Synchronous requests carry a notification semaphore
// and a result slot on the caller's stack; asynchronous writes carry an AsyncResult
// instead.
type request struct {
	mem    *Memory
	op     opType
	addr   int
	length int

	raw   []byte
	chain *bufpool.Buffer

	notification *semaphore
	result       *Result
	asyncResult  *AsyncResult
}

// requestQueue is a fixed-capacity FIFO ring. It is not internally synchronized: the
// owning device guards it with its bookkeeping mutex.
type requestQueue struct {
	requests []request
	pending  int
	head     int
	tail     int
}

func newRequestQueue(length int) *requestQueue {
	return &requestQueue{
		requests: make([]request, length),
	}
}

func (q *requestQueue) push(req request) bool {
	if q.pending == len(q.requests) {
		return false
	}

	q.requests[q.tail] = req
	q.tail++
	if q.tail == len(q.requests) {
		q.tail = 0
	}
	q.pending++

	return true
}

func (q *requestQueue) pop() (request, bool) {
	if q.pending == 0 {
		return request{}, false
	}

	req := q.requests[q.head]
	// Clear the slot so it does not pin the payload until the ring wraps around
	q.requests[q.head] = request{}
	q.head++
	if q.head == len(q.requests) {
		q.head = 0
	}
	q.pending--

	return req, true
}

func (q *requestQueue) len() int {
	return q.pending
}
