// Package engine defines the contract between the filesystem adapter and
// the underlying log-structured, copy-on-write storage engine. Block
// allocation, wear leveling and crash-consistent metadata logging are a
// black box behind these interfaces; the adapter only supplies a block
// device and consumes the handle-based API.
package engine

import "errors"

// Errno is the engine's native error space: a small set of negative
// integers. The zero value means success. The IORead/IOWrite/IOErase
// codes are synthetic: they are produced by the adapter's block-device
// bridge, never by the engine itself, so that partition faults remain
// distinguishable from generic I/O failures.
type Errno int

const (
	ErrNoEnt       Errno = -2  // no directory entry
	ErrIO          Errno = -5  // error during device operation
	ErrBadF        Errno = -9  // bad file number
	ErrNoMem       Errno = -12 // no more memory available
	ErrExist       Errno = -17 // entry already exists
	ErrNotDir      Errno = -20 // entry is not a dir
	ErrIsDir       Errno = -21 // entry is a dir
	ErrInval       Errno = -22 // invalid parameter
	ErrFBig        Errno = -27 // file too large
	ErrNoSpc       Errno = -28 // no space left on device
	ErrNameTooLong Errno = -36 // file name too long
	ErrNotEmpty    Errno = -39 // dir is not empty
	ErrNoAttr      Errno = -61 // no data/attr available
	ErrCorrupt     Errno = -84 // corrupted

	ErrIORead  Errno = -101 // device read fault
	ErrIOWrite Errno = -102 // device program fault
	ErrIOErase Errno = -103 // device erase fault
)

func (e Errno) Error() string {
	switch e {
	case ErrNoEnt:
		return "NOENT"
	case ErrIO:
		return "IO"
	case ErrBadF:
		return "BADF"
	case ErrNoMem:
		return "NOMEM"
	case ErrExist:
		return "EXIST"
	case ErrNotDir:
		return "NOTDIR"
	case ErrIsDir:
		return "ISDIR"
	case ErrInval:
		return "INVAL"
	case ErrFBig:
		return "FBIG"
	case ErrNoSpc:
		return "NOSPC"
	case ErrNameTooLong:
		return "NAMETOOLONG"
	case ErrNotEmpty:
		return "NOTEMPTY"
	case ErrNoAttr:
		return "NOATTR"
	case ErrCorrupt:
		return "CORRUPT"
	case ErrIORead:
		return "IO_READ"
	case ErrIOWrite:
		return "IO_WRITE"
	case ErrIOErase:
		return "IO_ERASE"
	default:
		return "ERR"
	}
}

// AsErrno extracts an engine error code from an error chain.
func AsErrno(err error) (Errno, bool) {
	var e Errno
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}

// OpenFlag is the engine's native open mode bitset.
type OpenFlag uint32

const (
	ORdOnly OpenFlag = 0x0001
	OWrOnly OpenFlag = 0x0002
	ORdWr   OpenFlag = ORdOnly | OWrOnly
	OCreat  OpenFlag = 0x0100
	OExcl   OpenFlag = 0x0200
	OTrunc  OpenFlag = 0x0400
	OAppend OpenFlag = 0x0800
)

// Seek origins, matching the engine's native whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// NameMax is the longest entry name the engine accepts.
const NameMax = 255

// BlockDevice is the callback contract the engine issues storage through.
// Addressing is block index plus intra-block offset; Prog may assume the
// target range has been erased. All faults are reported as Errno values.
type BlockDevice interface {
	Read(block, off uint32, buf []byte) error
	Prog(block, off uint32, data []byte) error
	Erase(block uint32) error
	Sync() error
}

// Config describes the volume geometry handed to Mount and Format. The
// device and all sizes are fixed for the lifetime of a mount.
type Config struct {
	Device BlockDevice

	ReadSize      uint32
	ProgSize      uint32
	BlockSize     uint32
	BlockCount    uint32
	BlockCycles   uint32
	CacheSize     uint32
	LookaheadSize uint32
}

// EntryType distinguishes files from directories in engine-native info.
type EntryType uint8

const (
	TypeRegular EntryType = iota
	TypeDirectory
)

// Info is the engine-native record for one entry: name, size and type
// only. Higher-level metadata lives in the attribute store.
type Info struct {
	Name string
	Type EntryType
	Size int64
	ID   uint32
}

// BlockInfo resolves a byte position within an open file to physical
// storage. Inline content lives inside the metadata log and has no
// dedicated block address.
type BlockInfo struct {
	Block  uint32
	Off    uint32
	Inline bool
}

// Engine is the narrow surface of the storage engine the adapter
// consumes. Paths use '/' separators; "" names the root directory.
// Every failure is an error chain containing an Errno.
type Engine interface {
	// Mount attaches to a formatted volume described by cfg. A corrupt
	// or unformatted volume fails with ErrCorrupt.
	Mount(cfg *Config) error
	Unmount() error

	// Format writes a fresh, empty volume. The engine is left
	// unmounted; data on the device is destroyed.
	Format(cfg *Config) error

	// UsedBlocks reports the number of blocks currently in use,
	// including metadata overhead.
	UsedBlocks() (uint32, error)

	// Open opens a file. cache is the caller-owned per-file I/O buffer
	// the engine uses for this handle.
	Open(path string, flags OpenFlag, cache []byte) (File, error)

	Stat(path string) (Info, error)
	Mkdir(path string) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	OpenDir(path string) (Dir, error)

	// Path-scoped attribute store, keyed by a one-byte tag. GetAttr
	// returns the attribute size; a missing attribute is ErrNoAttr.
	GetAttr(path string, tag uint8, buf []byte) (int, error)
	SetAttr(path string, tag uint8, data []byte) error
	RemoveAttr(path string, tag uint8) error
}

// File is one open engine file handle.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error

	Size() (int64, error)
	Tell() (int64, error)
	ID() uint32

	// Handle-scoped attribute store.
	GetAttr(tag uint8, buf []byte) (int, error)
	SetAttr(tag uint8, data []byte) error
	RemoveAttr(tag uint8) error

	// ListAttrs returns the tags of every attribute physically stored
	// on the handle, in ascending order.
	ListAttrs() ([]uint8, error)

	// BlockInfo resolves pos to physical storage for extent discovery.
	BlockInfo(pos int64) (BlockInfo, error)
}

// Dir is one open directory cursor. Read fills info and reports false
// when the cursor is exhausted; the synthetic "." and ".." entries occupy
// positions 0 and 1.
type Dir interface {
	Read(info *Info) (bool, error)
	Seek(pos int64) error
	Tell() (int64, error)
	Rewind() error
	Close() error
}
