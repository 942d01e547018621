//go:build debug_nvstore

package nvstore

const (
	// DebugMargin is the number of bytes of debug data that should be placed between allocations
	// in arenas managed by nvstore
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied into debug data placed
	// between allocations in arenas managed by nvstore
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided offset.
// This method no-ops unless the debug_nvstore build tag is present.
func WriteMagicValue(data []byte, offset int) {
	dest := data[offset : offset+DebugMargin]
	for i := 0; i < DebugMargin; i += 4 {
		dest[i] = byte(corruptionDetectionMagicValue)
		dest[i+1] = byte(corruptionDetectionMagicValue >> 8)
		dest[i+2] = byte(corruptionDetectionMagicValue >> 16)
		dest[i+3] = byte(corruptionDetectionMagicValue >> 24)
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_nvstore build tag is present.
func ValidateMagicValue(data []byte, offset int) bool {
	source := data[offset : offset+DebugMargin]
	for i := 0; i < DebugMargin; i += 4 {
		value := uint32(source[i]) | uint32(source[i+1])<<8 | uint32(source[i+2])<<16 | uint32(source[i+3])<<24
		if value != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_nvstore build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_nvstore build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
