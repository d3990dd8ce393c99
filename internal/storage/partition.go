// Package storage provides the partition abstraction the adapter issues
// raw byte-range I/O against. A partition is an addressable, block-
// erasable storage region; the concrete medium (flash chip, host file,
// memory) is opaque to the layers above.
package storage

// TypeLittleFS is the partition subtype the adapter accepts.
const TypeLittleFS = "littlefs"

// Partition is a borrowed storage region. The adapter does not create or
// destroy partitions; one is injected at construction and must outlive
// the adapter.
type Partition interface {
	// Read fills buf from the given byte address.
	Read(addr int64, buf []byte) error

	// Write programs buf at the given byte address. The target range
	// must have been erased since it was last programmed.
	Write(addr int64, data []byte) error

	// EraseRange resets a byte range to the erased state (0xFF). addr
	// and size must be aligned to the erase block size.
	EraseRange(addr int64, size int64) error

	// Sync flushes any buffered writes to the medium.
	Sync() error

	// Size is the partition capacity in bytes.
	Size() int64

	// Type identifies the partition subtype.
	Type() string
}

const erasedByte = 0xFF
