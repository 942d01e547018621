package nv

// DeviceOps is the contract a physical NV driver implements for one memory. The
// engine serializes all calls into a DeviceOps instance, so implementations do not
// need to be safe for concurrent use.
type DeviceOps interface {
	// Init prepares the physical device. The engine calls it once when the memory's
	// device is created.
	Init() error
	// Deinit shuts the physical device down. The engine calls it once when the
	// memory's device is closed.
	Deinit() error
	// Read copies size bytes starting at addr into dst. dst is always at least size
	// bytes long.
	Read(addr, size int, dst []byte) error
	// Write programs exactly one write unit. addr is always aligned to the memory's
	// WriteLenUnit and unit is always WriteLenUnit bytes long.
	Write(addr int, unit []byte) error
	// Erase wipes the entire memory.
	Erase() error
}
