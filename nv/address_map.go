package nv

// AddressMap describes the addressable window and write geometry of one NV memory.
type AddressMap struct {
	// StartAddr is the first valid byte address of the memory.
	StartAddr int
	// EndAddr is the last valid byte address of the memory, inclusive.
	EndAddr int
	// WriteLenUnit is the number of bytes the device programs in one physical write.
	// Writes smaller than a unit are serviced read-modify-write.
	WriteLenUnit int
}

// Size returns the addressable capacity of the memory in bytes.
func (m AddressMap) Size() int {
	return m.EndAddr - m.StartAddr + 1
}

func (m AddressMap) contains(addr, size int) bool {
	if size == 0 {
		return true
	}

	return addr >= m.StartAddr && addr+size-1 <= m.EndAddr
}

// unitFloor rounds addr down to the start of the write unit containing it.
func (m AddressMap) unitFloor(addr int) int {
	return m.WriteLenUnit * (addr / m.WriteLenUnit)
}
