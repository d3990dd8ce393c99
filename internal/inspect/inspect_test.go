package inspect

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/flashfs/flashfs/internal/storage"
)

// blockWriter builds a metadata block the way the on-disk format lays
// one out: a little-endian revision count followed by XOR-chained
// big-endian tags.
type blockWriter struct {
	buf  bytes.Buffer
	ptag uint32
}

func newBlockWriter(rev uint32) *blockWriter {
	w := &blockWriter{ptag: 0xFFFFFFFF}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], rev)
	w.buf.Write(hdr[:])
	return w
}

func (w *blockWriter) tag(typ, id, size uint16, data []byte) {
	word := packTag(typ, id, size)
	var enc [4]byte
	binary.BigEndian.PutUint32(enc[:], word^w.ptag)
	w.ptag = word
	w.buf.Write(enc[:])
	w.buf.Write(data)
}

func (w *blockWriter) bytes(blockSize int) []byte {
	out := make([]byte, blockSize)
	for i := range out {
		out[i] = 0xFF
	}
	copy(out, w.buf.Bytes())
	return out
}

func superBlockData() []byte {
	data := make([]byte, superBlockLen)
	binary.LittleEndian.PutUint32(data[0:], 0x00020000)
	binary.LittleEndian.PutUint32(data[4:], 4096)
	binary.LittleEndian.PutUint32(data[8:], 64)
	binary.LittleEndian.PutUint32(data[12:], 255)
	binary.LittleEndian.PutUint32(data[16:], 0x7FFFFFFF)
	binary.LittleEndian.PutUint32(data[20:], 1022)
	return data
}

func TestParseBlock(t *testing.T) {
	w := newBlockWriter(7)
	w.tag(TypeSuperBlock, 0, 8, []byte("littlefs"))
	w.tag(TypeInlineData, 0, superBlockLen, superBlockData())
	w.tag(TypeCreate, 1, 0, nil)
	w.tag(TypeRegFile, 1, 5, []byte("hello"))
	w.tag(TypeDelete, 1, sizeDeleted, nil)

	d, err := ParseBlock(0, w.bytes(512))
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if d.Revision != 7 {
		t.Fatalf("revision = %d, want 7", d.Revision)
	}
	if len(d.Records) != 5 {
		t.Fatalf("got %d records, want 5", len(d.Records))
	}

	if got := d.Records[0].Tag.Type; got != TypeSuperBlock {
		t.Errorf("record 0 type = %#x, want superblock", got)
	}
	if got := string(d.Records[0].Data); got != "littlefs" {
		t.Errorf("record 0 data = %q", got)
	}
	if got := string(d.Records[3].Data); got != "hello" {
		t.Errorf("record 3 data = %q", got)
	}
	if !d.Records[4].Tag.Deleted() {
		t.Error("record 4 should be a deletion record")
	}
	if d.Records[4].Tag.PayloadLen() != 0 {
		t.Error("deletion record must carry no payload")
	}

	if d.Super == nil {
		t.Fatal("superblock not decoded")
	}
	if d.Super.BlockSize != 4096 || d.Super.BlockCount != 64 || d.Super.NameMax != 255 {
		t.Errorf("superblock fields = %+v", d.Super)
	}
}

func TestParseBlockStopsAtErased(t *testing.T) {
	w := newBlockWriter(1)
	w.tag(TypeCreate, 0, 0, nil)

	d, err := ParseBlock(0, w.bytes(256))
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if len(d.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(d.Records))
	}
}

func TestParseBlockOverrun(t *testing.T) {
	w := newBlockWriter(1)
	w.tag(TypeRegFile, 0, 5, []byte("hello"))
	full := w.buf.Bytes()

	// Cut the block off mid-payload. The tag itself still parses.
	_, err := ParseBlock(0, full[:len(full)-2])
	if err == nil {
		t.Fatal("expected an overrun error")
	}
}

func TestParseBlockTooShort(t *testing.T) {
	if _, err := ParseBlock(0, []byte{1, 2}); err == nil {
		t.Fatal("expected an error for a truncated revision")
	}
}

func TestTagRoundTrip(t *testing.T) {
	cases := []Tag{
		{Type: TypeRegFile, ID: 0, Size: 0},
		{Type: TypeSuperBlock, ID: 3, Size: 8},
		{Type: TypeGlobalState, ID: idNone, Size: sizeDeleted},
		{Type: TypeUserAttr | 0x10, ID: 1023, Size: 1022},
	}
	for _, tc := range cases {
		got := unpackTag(packTag(tc.Type, tc.ID, tc.Size))
		if got != tc {
			t.Errorf("round trip %+v = %+v", tc, got)
		}
	}
}

func TestTagString(t *testing.T) {
	cases := []struct {
		tag  Tag
		want string
	}{
		{Tag{Type: TypeRegFile, ID: 2, Size: 5}, "file id=2 len=5"},
		{Tag{Type: TypeDelete, ID: 1, Size: sizeDeleted}, "delete id=1 deleted"},
		{Tag{Type: TypeGlobalState, ID: idNone, Size: 0}, "gstate id=- len=0"},
		{Tag{Type: TypeUserAttr | 0x10, ID: 0, Size: 4}, "attr(0x10) id=0 len=4"},
	}
	for _, tc := range cases {
		if got := tc.tag.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func writeMetaPair(t *testing.T, part storage.Partition, blockSize uint32) {
	t.Helper()

	w0 := newBlockWriter(3)
	w0.tag(TypeSuperBlock, 0, 8, []byte("littlefs"))
	w0.tag(TypeInlineData, 0, superBlockLen, superBlockData())
	if err := part.Write(0, w0.bytes(int(blockSize))); err != nil {
		t.Fatalf("writing block 0: %v", err)
	}

	w1 := newBlockWriter(4)
	w1.tag(TypeCreate, 0, 0, nil)
	w1.tag(TypeRegFile, 0, 3, []byte("cfg"))
	if err := part.Write(int64(blockSize), w1.bytes(int(blockSize))); err != nil {
		t.Fatalf("writing block 1: %v", err)
	}
}

func TestLiveBlock(t *testing.T) {
	const blockSize = 512
	part := storage.NewMem(4 * blockSize)
	writeMetaPair(t, part, blockSize)

	live, err := LiveBlock(part, blockSize)
	if err != nil {
		t.Fatalf("LiveBlock: %v", err)
	}
	if live != 1 {
		t.Fatalf("live block = %d, want 1 (rev 4 beats rev 3)", live)
	}
}

func TestDump(t *testing.T) {
	const blockSize = 512
	part := storage.NewMem(4 * blockSize)
	writeMetaPair(t, part, blockSize)

	var out strings.Builder
	if err := Dump(part, blockSize, &out); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"block 0 rev 3",
		"* block 1 rev 4",
		"superblock",
		"block_count 64",
		"file id=0 len=3",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("dump missing %q:\n%s", want, text)
		}
	}
}

func TestDumpSnapshotImage(t *testing.T) {
	const blockSize = 512
	part := storage.NewMem(4 * blockSize)

	hdr := make([]byte, snapshotHeaderLen)
	copy(hdr, snapshotMagic)
	binary.LittleEndian.PutUint32(hdr[4:], 1)
	binary.LittleEndian.PutUint64(hdr[8:], 321)
	if err := part.Write(0, hdr); err != nil {
		t.Fatalf("writing header: %v", err)
	}

	got, ok, err := DetectSnapshot(part)
	if err != nil || !ok {
		t.Fatalf("DetectSnapshot() = %v, %v", ok, err)
	}
	if got.Version != 1 || got.PayloadLen != 321 {
		t.Errorf("header = %+v", got)
	}

	var out strings.Builder
	if err := Dump(part, blockSize, &out); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "snapshot image") || !strings.Contains(text, "payload 321 bytes") {
		t.Errorf("dump did not announce the snapshot:\n%s", text)
	}
	if strings.Contains(text, "rev ") {
		t.Errorf("snapshot image dumped as metadata pairs:\n%s", text)
	}

	// A metadata-pair image must not trip the detector.
	part2 := storage.NewMem(4 * blockSize)
	writeMetaPair(t, part2, blockSize)
	if _, ok, err := DetectSnapshot(part2); err != nil || ok {
		t.Errorf("DetectSnapshot(metadata pair) = %v, %v", ok, err)
	}
}
