package nv

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"
)

func (d *MemDevice) processRequest(req *request) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Processing request",
		slog.String("op", req.op.String()),
		slog.Int("addr", req.addr),
		slog.Int("length", req.length))

	switch req.op {
	case opNop, opFlush:
		d.complete(req, ResultOK)

	case opRead:
		result := ResultOK
		if err := req.mem.ops.Read(req.addr, req.length, req.raw); err != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelError, "Physical read failed",
				slog.Int("addr", req.addr),
				slog.Int("size", req.length),
				slog.Any("error", err))
			result = ResultReadErr
		}
		d.complete(req, result)

	case opSyncWrite, opAsyncWrite:
		d.processWriteRequest(req)

	case opErase:
		result := ResultOK
		if err := req.mem.ops.Erase(); err != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelError, "Physical erase failed",
				slog.Any("error", err))
			result = ResultEraseErr
		}
		d.complete(req, result)

	default:
		panic(fmt.Sprintf("nv: attempt to process request of unknown type %d", req.op))
	}
}

// processWriteRequest programs the request's payload one write unit at a time. Units
// that the payload only partially covers are read first so the surrounding device
// contents survive the write. The loop halts at the first driver error.
func (d *MemDevice) processWriteRequest(req *request) {
	mem := req.mem
	unitLen := mem.addressMap.WriteLenUnit
	page := d.pageBuffer[:unitLen]

	addr := req.addr
	remaining := req.length
	srcOffset := 0
	result := ResultOK

	for {
		unitAddr := mem.addressMap.unitFloor(addr)

		if addr != unitAddr || remaining < unitLen {
			if err := mem.ops.Read(unitAddr, unitLen, page); err != nil {
				d.logger.LogAttrs(context.Background(), slog.LevelError, "Physical read failed during read-modify-write",
					slog.Int("addr", unitAddr),
					slog.Int("size", unitLen),
					slog.Any("error", err))
				result = ResultReadErr
				break
			}
		}

		copyLen := unitLen - (addr - unitAddr)
		if remaining < copyLen {
			copyLen = remaining
		}
		req.chain.CopyToMemory(page[addr-unitAddr:addr-unitAddr+copyLen], srcOffset)

		if err := mem.ops.Write(unitAddr, page); err != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelError, "Physical write failed",
				slog.Int("addr", unitAddr),
				slog.Int("size", unitLen),
				slog.Any("error", err))
			result = ResultWriteErr
		}

		addr += copyLen
		srcOffset += copyLen
		remaining -= copyLen

		if result != ResultOK || remaining == 0 {
			break
		}
	}

	if req.op == opAsyncWrite {
		// Return the staging chain before publishing so a caller that retries on the
		// published result can claim the buffers again
		d.bufPool.ReleaseBuffer(req.chain)
	}
	d.complete(req, result)
}

// complete publishes the outcome of a request through whichever channel the caller
// provided: the synchronous result slot plus notification semaphore, or the
// asynchronous result.
func (d *MemDevice) complete(req *request, result Result) {
	if req.result != nil {
		*req.result = result
	}
	assign(req.asyncResult, result)
	if req.notification != nil {
		req.notification.give()
	}
}
