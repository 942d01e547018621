package memdriver

import (
	"github.com/embeddedkit/nvstore/nv"
	"github.com/pkg/errors"
)

// EraseValue is the byte every cell reads as after an erase, matching NOR-flash
// behavior.
const EraseValue byte = 0xff

// RAM implements nv.DeviceOps on top of a plain byte slice. It is intended for
// simulation and tests: it keeps per-operation counters and exposes injectable
// failures so callers can exercise error paths without real hardware.
type RAM struct {
	mem        []byte
	addressMap nv.AddressMap

	initialized bool

	readCount  int
	writeCount int
	eraseCount int

	// When non-nil, the matching operation fails with the given error instead of
	// touching the backing slice.
	FailRead  error
	FailWrite error
	FailErase error
}

var _ nv.DeviceOps = &RAM{}

// NewRAM builds a driver covering addressMap with every cell in the erased state.
func NewRAM(addressMap nv.AddressMap) *RAM {
	driver := &RAM{
		mem:        make([]byte, addressMap.Size()),
		addressMap: addressMap,
	}
	for i := range driver.mem {
		driver.mem[i] = EraseValue
	}

	return driver
}

func (r *RAM) Init() error {
	if r.initialized {
		return errors.New("the driver is already initialized")
	}
	r.initialized = true
	return nil
}

func (r *RAM) Deinit() error {
	if !r.initialized {
		return errors.New("the driver is not initialized")
	}
	r.initialized = false
	return nil
}

func (r *RAM) Read(addr, size int, dst []byte) error {
	if !r.initialized {
		return errors.New("the driver is not initialized")
	}
	if r.FailRead != nil {
		return r.FailRead
	}

	r.readCount++
	copy(dst[:size], r.mem[addr-r.addressMap.StartAddr:])
	return nil
}

func (r *RAM) Write(addr int, unit []byte) error {
	if !r.initialized {
		return errors.New("the driver is not initialized")
	}
	if r.FailWrite != nil {
		return r.FailWrite
	}

	r.writeCount++
	copy(r.mem[addr-r.addressMap.StartAddr:], unit)
	return nil
}

func (r *RAM) Erase() error {
	if !r.initialized {
		return errors.New("the driver is not initialized")
	}
	if r.FailErase != nil {
		return r.FailErase
	}

	r.eraseCount++
	for i := range r.mem {
		r.mem[i] = EraseValue
	}
	return nil
}

// Bytes exposes the backing slice so tests can inspect device contents directly.
func (r *RAM) Bytes() []byte {
	return r.mem
}

// ReadCount returns the number of successful physical reads.
func (r *RAM) ReadCount() int {
	return r.readCount
}

// WriteCount returns the number of successful physical writes.
func (r *RAM) WriteCount() int {
	return r.writeCount
}

// EraseCount returns the number of successful erases.
func (r *RAM) EraseCount() int {
	return r.eraseCount
}
