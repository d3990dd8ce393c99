package types

import (
	"encoding/binary"
	"strings"
	"time"
)

// Tag identifies the semantic type of a metadata attribute attached to a
// file or directory entry. Tags below UserStart are system-reserved and
// carry a fixed on-disk size; tags from UserStart through TagMax are
// available for caller-defined attributes of arbitrary size.
type Tag uint8

const (
	TagModifiedTime   Tag = 0
	TagFileAttributes Tag = 1
	TagReadAce        Tag = 2
	TagWriteAce       Tag = 3
	TagCompression    Tag = 4
	TagComment        Tag = 5

	// TagUserStart is the first caller-defined tag value.
	TagUserStart Tag = 16

	// TagMax is the highest tag value accepted on the wire. The range
	// above it is reserved for future system use.
	TagMax Tag = 0x7F
)

// Reserved reports whether the tag is system-reserved. Reserved tags
// cannot be removed and enforce an exact size on writes.
func (t Tag) Reserved() bool {
	return t < TagUserStart
}

// Size returns the fixed on-disk size of a reserved tag, or 0 for tags
// whose size is caller-defined.
func (t Tag) Size() int {
	switch t {
	case TagModifiedTime:
		return TimeSize
	case TagFileAttributes:
		return 1
	case TagReadAce, TagWriteAce:
		return 1
	case TagCompression:
		return CompressionSize
	default:
		return 0
	}
}

func (t Tag) String() string {
	switch t {
	case TagModifiedTime:
		return "ModifiedTime"
	case TagFileAttributes:
		return "FileAttributes"
	case TagReadAce:
		return "ReadAce"
	case TagWriteAce:
		return "WriteAce"
	case TagCompression:
		return "Compression"
	case TagComment:
		return "Comment"
	default:
		if t >= TagUserStart {
			return "User"
		}
		return "Reserved"
	}
}

// OpenFlags is the adapter-level open mode bitset. Unknown bits are
// rejected before any descriptor is allocated.
type OpenFlags uint8

const (
	OpenRead OpenFlags = 1 << iota
	OpenWrite
	OpenCreate
	OpenTruncate
	OpenAppend
)

// OpenReadWrite combines read and write access.
const OpenReadWrite = OpenRead | OpenWrite

// knownOpenFlags covers every bit the adapter understands.
const knownOpenFlags = OpenRead | OpenWrite | OpenCreate | OpenTruncate | OpenAppend

// Has reports whether all bits in mask are set.
func (f OpenFlags) Has(mask OpenFlags) bool {
	return f&mask == mask
}

// Unknown returns the flag bits the adapter does not recognise.
func (f OpenFlags) Unknown() OpenFlags {
	return f &^ knownOpenFlags
}

func (f OpenFlags) String() string {
	var parts []string
	add := func(mask OpenFlags, name string) {
		if f&mask != 0 {
			parts = append(parts, name)
		}
	}
	add(OpenRead, "Read")
	add(OpenWrite, "Write")
	add(OpenCreate, "Create")
	add(OpenTruncate, "Truncate")
	add(OpenAppend, "Append")
	if f.Unknown() != 0 {
		parts = append(parts, "Unknown")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// FileAttributes is the generic per-entry attribute bitset stored under
// TagFileAttributes.
type FileAttributes uint8

const (
	AttrReadOnly FileAttributes = 1 << iota
	AttrArchive
	AttrCompressed
	AttrDirectory
	AttrMountPoint
)

func (a FileAttributes) Has(mask FileAttributes) bool {
	return a&mask != 0
}

func (a FileAttributes) String() string {
	var parts []string
	add := func(mask FileAttributes, name string) {
		if a&mask != 0 {
			parts = append(parts, name)
		}
	}
	add(AttrReadOnly, "ReadOnly")
	add(AttrArchive, "Archive")
	add(AttrCompressed, "Compressed")
	add(AttrDirectory, "Directory")
	add(AttrMountPoint, "MountPoint")
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// UserRole is one half of an access-control entry.
type UserRole uint8

const (
	RoleNone UserRole = iota
	RoleGuest
	RoleUser
	RoleManager
	RoleAdmin
)

func (r UserRole) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "invalid"
	}
}

// ACL pairs the read and write access roles for an entry. The root
// directory has no ordinary entry, so its ACL is cached by the adapter
// and mirrored to the engine's root-path attributes.
type ACL struct {
	ReadAccess  UserRole `json:"read_access"`
	WriteAccess UserRole `json:"write_access"`
}

func (a ACL) String() string {
	return a.ReadAccess.String() + "/" + a.WriteAccess.String()
}

// CompressionType identifies how a file's content is encoded on disk.
type CompressionType uint8

const (
	CompressNone CompressionType = iota
	CompressLZ4
)

func (c CompressionType) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// CompressionSize is the fixed encoded size of a Compression descriptor.
const CompressionSize = 8

// Compression describes the content encoding of a file. OriginalSize is
// the decompressed length; the stat-family calls report a Compressed
// attribute bit whenever Type differs from CompressNone.
type Compression struct {
	Type         CompressionType `json:"type"`
	OriginalSize uint32          `json:"original_size"`
}

// Marshal encodes the descriptor into its fixed 8-byte wire form:
// type byte, three reserved bytes, then the original size little-endian.
func (c Compression) Marshal() []byte {
	buf := make([]byte, CompressionSize)
	buf[0] = byte(c.Type)
	binary.LittleEndian.PutUint32(buf[4:], c.OriginalSize)
	return buf
}

// UnmarshalCompression decodes a fixed-size compression descriptor.
func UnmarshalCompression(data []byte) (Compression, bool) {
	if len(data) < CompressionSize {
		return Compression{}, false
	}
	return Compression{
		Type:         CompressionType(data[0]),
		OriginalSize: binary.LittleEndian.Uint32(data[4:]),
	}, true
}

// TimeSize is the fixed encoded size of a modification timestamp.
const TimeSize = 8

// MarshalTime encodes a timestamp as little-endian unix seconds.
func MarshalTime(t time.Time) []byte {
	buf := make([]byte, TimeSize)
	binary.LittleEndian.PutUint64(buf, uint64(t.Unix()))
	return buf
}

// UnmarshalTime decodes a little-endian unix-seconds timestamp.
func UnmarshalTime(data []byte) (time.Time, bool) {
	if len(data) < TimeSize {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.LittleEndian.Uint64(data)), 0).UTC(), true
}

// Stat is the aggregated entry-status record returned by the stat-family
// calls. It is always assembled fresh from engine-reported name, size and
// type plus the attribute overlay; it is never persisted.
type Stat struct {
	Name        string         `json:"name"`
	Size        int64          `json:"size"`
	ID          uint32         `json:"id"`
	Attr        FileAttributes `json:"attr"`
	ACL         ACL            `json:"acl"`
	Compression Compression    `json:"compression"`
	MTime       time.Time      `json:"mtime"`
}

// IsDir reports whether the entry is a directory.
func (s *Stat) IsDir() bool {
	return s.Attr.Has(AttrDirectory)
}

// VolumeAttributes is the bitset reported by GetInfo.
type VolumeAttributes uint8

const (
	VolumeMounted VolumeAttributes = 1 << iota
	VolumeReadOnly
)

// Info is the volume-level information record returned by GetInfo.
type Info struct {
	Type          string           `json:"type"`
	Attr          VolumeAttributes `json:"attr"`
	MaxNameLength int              `json:"max_name_length"`
	VolumeSize    int64            `json:"volume_size"`
	Used          int64            `json:"used"`
	FreeSpace     int64            `json:"free_space"`
	BlockSize     int              `json:"block_size"`
}

// AttrInfo is one attribute record yielded during attribute enumeration.
// Data aliases the enumeration scratch buffer and is only valid for the
// duration of the callback.
type AttrInfo struct {
	Tag  Tag
	Size int
	Data []byte
}

// Extent is one contiguous run of physical storage occupied by file
// content, reported by extent enumeration.
type Extent struct {
	Address int64 `json:"address"`
	Length  int64 `json:"length"`
}
