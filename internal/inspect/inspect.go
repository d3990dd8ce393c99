// Package inspect decodes on-disk volume structures for host-side
// debugging. It understands the engine's metadata-pair layout well
// enough to list commits without mounting: tags are parsed and walked
// read-only, so a corrupt image that refuses to mount can still be
// examined.
package inspect

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flashfs/flashfs/internal/storage"
)

// Tag field widths within the packed 32-bit on-disk tag: one valid bit,
// an 11-bit type, a 10-bit id and a 10-bit length.
const (
	tagTypeBits = 11
	tagIDBits   = 10
	tagSizeBits = 10

	tagTypeShift = tagIDBits + tagSizeBits
	tagIDShift   = tagSizeBits

	tagTypeMask = 1<<tagTypeBits - 1
	tagIDMask   = 1<<tagIDBits - 1
	tagSizeMask = 1<<tagSizeBits - 1

	// A length field of all ones marks a deletion record with no
	// payload.
	sizeDeleted = tagSizeMask

	// An id field of all ones addresses the metadata block itself
	// rather than an entry in it.
	idNone = tagIDMask
)

// Entry type codes stored in the tag's type field.
const (
	TypeRegFile     = 0x001
	TypeDirectory   = 0x002
	TypeSuperBlock  = 0x0FF
	TypeDirStruct   = 0x200
	TypeInlineData  = 0x201
	TypeSkipList    = 0x202
	TypeUserAttr    = 0x300
	TypeCreate      = 0x401
	TypeDelete      = 0x4FF
	TypeChecksum    = 0x500
	TypeForwardCRC  = 0x501
	TypeSoftTail    = 0x600
	TypeHardTail    = 0x601
	TypeGlobalState = 0x7FF
)

// Tag is one decoded metadata tag.
type Tag struct {
	Type uint16
	ID   uint16
	Size uint16
}

// Deleted reports whether the tag is a deletion record without payload.
func (t Tag) Deleted() bool { return t.Size == sizeDeleted }

// PayloadLen is the number of data bytes following the tag on disk.
func (t Tag) PayloadLen() int {
	if t.Deleted() {
		return 0
	}
	return int(t.Size)
}

func (t Tag) String() string {
	name := typeName(t.Type)
	id := fmt.Sprintf("%d", t.ID)
	if t.ID == idNone {
		id = "-"
	}
	if t.Deleted() {
		return fmt.Sprintf("%s id=%s deleted", name, id)
	}
	return fmt.Sprintf("%s id=%s len=%d", name, id, t.Size)
}

func typeName(typ uint16) string {
	switch typ {
	case TypeRegFile:
		return "file"
	case TypeDirectory:
		return "dir"
	case TypeSuperBlock:
		return "superblock"
	case TypeDirStruct:
		return "dirstruct"
	case TypeInlineData:
		return "inline"
	case TypeSkipList:
		return "skiplist"
	case TypeCreate:
		return "create"
	case TypeDelete:
		return "delete"
	case TypeChecksum, TypeForwardCRC:
		return "crc"
	case TypeSoftTail:
		return "softtail"
	case TypeHardTail:
		return "hardtail"
	case TypeGlobalState:
		return "gstate"
	}
	if typ&0x700 == TypeUserAttr {
		return fmt.Sprintf("attr(%#02x)", typ&0xFF)
	}
	return fmt.Sprintf("type(%#03x)", typ)
}

// packTag assembles the on-disk tag word from its fields.
func packTag(typ, id, size uint16) uint32 {
	return uint32(typ&tagTypeMask)<<tagTypeShift |
		uint32(id&tagIDMask)<<tagIDShift |
		uint32(size&tagSizeMask)
}

func unpackTag(word uint32) Tag {
	return Tag{
		Type: uint16(word >> tagTypeShift & tagTypeMask),
		ID:   uint16(word >> tagIDShift & tagIDMask),
		Size: uint16(word & tagSizeMask),
	}
}

// SuperBlock is the decoded contents of a superblock inline record.
type SuperBlock struct {
	Version    uint32
	BlockSize  uint32
	BlockCount uint32
	NameMax    uint32
	FileMax    uint32
	AttrMax    uint32
}

const superBlockLen = 24

func decodeSuperBlock(data []byte) (SuperBlock, bool) {
	if len(data) < superBlockLen {
		return SuperBlock{}, false
	}
	sb := SuperBlock{
		Version:    binary.LittleEndian.Uint32(data[0:]),
		BlockSize:  binary.LittleEndian.Uint32(data[4:]),
		BlockCount: binary.LittleEndian.Uint32(data[8:]),
		NameMax:    binary.LittleEndian.Uint32(data[12:]),
		FileMax:    binary.LittleEndian.Uint32(data[16:]),
		AttrMax:    binary.LittleEndian.Uint32(data[20:]),
	}
	return sb, true
}

// Reference-engine snapshot images start with this header in block 0
// instead of a metadata pair.
const (
	snapshotMagic     = "TFE1"
	snapshotHeaderLen = 16
)

// SnapshotHeader describes a reference-engine volume snapshot image.
type SnapshotHeader struct {
	Version    uint32
	PayloadLen uint64
}

// DetectSnapshot reports whether the partition holds a reference-engine
// snapshot rather than a metadata-pair layout.
func DetectSnapshot(part storage.Partition) (SnapshotHeader, bool, error) {
	buf := make([]byte, snapshotHeaderLen)
	if err := part.Read(0, buf); err != nil {
		return SnapshotHeader{}, false, err
	}
	if string(buf[:4]) != snapshotMagic {
		return SnapshotHeader{}, false, nil
	}
	hdr := SnapshotHeader{
		Version:    binary.LittleEndian.Uint32(buf[4:]),
		PayloadLen: binary.LittleEndian.Uint64(buf[8:]),
	}
	return hdr, true, nil
}

// Record is one tag with its payload, as found in a metadata block.
type Record struct {
	Offset int
	Tag    Tag
	Data   []byte
}

// BlockDump is the decoded view of one metadata block.
type BlockDump struct {
	Block    uint32
	Revision uint32
	Records  []Record

	// Super is set when the block carries a superblock record.
	Super *SuperBlock
}

// ParseBlock walks the tag chain of one metadata block. Tags are stored
// big-endian and each is XORed with its predecessor, the chain starting
// from all-ones; the first tag with the valid bit still set ends the
// walk. Payloads alias the input buffer.
func ParseBlock(block uint32, data []byte) (*BlockDump, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("block %d: too short for a revision count", block)
	}

	d := &BlockDump{
		Block:    block,
		Revision: binary.LittleEndian.Uint32(data),
	}

	ptag := uint32(0xFFFFFFFF)
	off := 4
	for off+4 <= len(data) {
		word := binary.BigEndian.Uint32(data[off:]) ^ ptag
		if word&(1<<31) != 0 {
			break
		}
		ptag = word

		tag := unpackTag(word)
		payload := tag.PayloadLen()
		if off+4+payload > len(data) {
			return d, fmt.Errorf("block %d: tag at %d overruns the block", block, off)
		}

		rec := Record{Offset: off, Tag: tag, Data: data[off+4 : off+4+payload]}
		d.Records = append(d.Records, rec)

		if tag.Type == TypeInlineData && d.Super == nil && superPreceding(d.Records) {
			if sb, ok := decodeSuperBlock(rec.Data); ok {
				d.Super = &sb
			}
		}

		off += 4 + payload
	}
	return d, nil
}

// superPreceding reports whether the record before the latest one is a
// superblock name record.
func superPreceding(recs []Record) bool {
	return len(recs) >= 2 && recs[len(recs)-2].Tag.Type == TypeSuperBlock
}

// Dump reads the metadata pair at blocks 0 and 1 from the partition and
// writes a human-readable listing. The block with the higher revision
// count is the live one; both are shown.
func Dump(part storage.Partition, blockSize uint32, out io.Writer) error {
	// Snapshot images have no tag chains; dumping them as metadata
	// pairs would list garbage records.
	if hdr, ok, err := DetectSnapshot(part); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(out, "reference-engine snapshot image (version %d, payload %d bytes); use --list to browse it\n",
			hdr.Version, hdr.PayloadLen)
		return nil
	}

	live, err := LiveBlock(part, blockSize)
	if err != nil {
		return err
	}

	for block := uint32(0); block < 2; block++ {
		data := make([]byte, blockSize)
		if err := part.Read(int64(block)*int64(blockSize), data); err != nil {
			return fmt.Errorf("reading block %d: %w", block, err)
		}

		d, perr := ParseBlock(block, data)
		marker := " "
		if block == live {
			marker = "*"
		}
		fmt.Fprintf(out, "%s block %d rev %d (%d records)\n", marker, d.Block, d.Revision, len(d.Records))
		for _, rec := range d.Records {
			fmt.Fprintf(out, "    %04x %s\n", rec.Offset, rec.Tag)
		}
		if d.Super != nil {
			sb := d.Super
			fmt.Fprintf(out, "    version %#x, block_size %d, block_count %d, name_max %d\n",
				sb.Version, sb.BlockSize, sb.BlockCount, sb.NameMax)
		}
		if perr != nil {
			fmt.Fprintf(out, "    parse stopped: %v\n", perr)
		}
	}
	return nil
}

// LiveBlock returns which of the two metadata pair blocks holds the
// higher revision count.
func LiveBlock(part storage.Partition, blockSize uint32) (uint32, error) {
	var revs [2]uint32
	buf := make([]byte, 4)
	for block := uint32(0); block < 2; block++ {
		if err := part.Read(int64(block)*int64(blockSize), buf); err != nil {
			return 0, fmt.Errorf("reading block %d: %w", block, err)
		}
		revs[block] = binary.LittleEndian.Uint32(buf)
	}
	if revs[1] > revs[0] {
		return 1, nil
	}
	return 0, nil
}
