package testengine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/flashfs/flashfs/internal/blockdev"
	"github.com/flashfs/flashfs/internal/engine"
	"github.com/flashfs/flashfs/internal/storage"
)

const (
	blockSize  = 4096
	blockCount = 64
)

func newConfig(part *storage.MemPartition) *engine.Config {
	return &engine.Config{
		Device:        blockdev.New(part, blockSize),
		ReadSize:      16,
		ProgSize:      16,
		BlockSize:     blockSize,
		BlockCount:    blockCount,
		BlockCycles:   500,
		CacheSize:     32,
		LookaheadSize: 16,
	}
}

func newVolume(t *testing.T) (*Engine, *engine.Config, *storage.MemPartition) {
	t.Helper()
	part := storage.NewMem(blockCount * blockSize)
	cfg := newConfig(part)
	e := New()
	if err := e.Format(cfg); err != nil {
		t.Fatalf("Format() = %v", err)
	}
	if err := e.Mount(cfg); err != nil {
		t.Fatalf("Mount() = %v", err)
	}
	return e, cfg, part
}

func create(t *testing.T, e *Engine, path string, data []byte) {
	t.Helper()
	f, err := e.Open(path, engine.ORdWr|engine.OCreat, make([]byte, 32))
	if err != nil {
		t.Fatalf("Open(%q) = %v", path, err)
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			t.Fatalf("Write(%q) = %v", path, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close(%q) = %v", path, err)
	}
}

func TestMountUnformatted(t *testing.T) {
	part := storage.NewMem(blockCount * blockSize)
	e := New()
	if err := e.Mount(newConfig(part)); !errors.Is(err, engine.ErrCorrupt) {
		t.Errorf("Mount() = %v, want ErrCorrupt", err)
	}
}

func TestFormatThenMount(t *testing.T) {
	e, _, _ := newVolume(t)
	used, err := e.UsedBlocks()
	if err != nil {
		t.Fatalf("UsedBlocks() = %v", err)
	}
	if used == 0 || used > 2 {
		t.Errorf("fresh volume uses %d blocks", used)
	}
	if err := e.Unmount(); err != nil {
		t.Fatalf("Unmount() = %v", err)
	}
}

func TestPersistenceAcrossRemount(t *testing.T) {
	e, cfg, part := newVolume(t)

	big := bytes.Repeat([]byte("0123456789abcdef"), 320) // 5120 bytes, spills to data blocks
	if err := e.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir() = %v", err)
	}
	create(t, e, "/docs/big.bin", big)
	create(t, e, "/note", []byte("inline"))
	if err := e.SetAttr("/docs/big.bin", 16, []byte("custom")); err != nil {
		t.Fatalf("SetAttr() = %v", err)
	}
	if err := e.SetAttr("/", 2, []byte{3}); err != nil {
		t.Fatalf("SetAttr(root) = %v", err)
	}
	if err := e.Unmount(); err != nil {
		t.Fatalf("Unmount() = %v", err)
	}

	// A brand-new engine over the same partition sees everything.
	e2 := New()
	if err := e2.Mount(newConfig(part)); err != nil {
		t.Fatalf("remount = %v", err)
	}

	f, err := e2.Open("/docs/big.bin", engine.ORdOnly, make([]byte, cfg.CacheSize))
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	got := make([]byte, len(big))
	if _, err := f.Read(got); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Error("large file content lost across remount")
	}
	buf := make([]byte, 8)
	if n, err := f.GetAttr(16, buf); err != nil || string(buf[:n]) != "custom" {
		t.Errorf("GetAttr() = %d, %v, %q", n, err, buf[:n])
	}
	f.Close()

	info, err := e2.Stat("/note")
	if err != nil || info.Size != 6 {
		t.Errorf("Stat(note) = %+v, %v", info, err)
	}
	if n, err := e2.GetAttr("/", 2, buf); err != nil || n != 1 || buf[0] != 3 {
		t.Errorf("root attr = %d, %v, %v", n, err, buf[0])
	}
}

func TestOpenErrors(t *testing.T) {
	e, _, _ := newVolume(t)
	if err := e.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	create(t, e, "/f", []byte("x"))

	tests := []struct {
		name  string
		path  string
		flags engine.OpenFlag
		want  engine.Errno
	}{
		{"root is a directory", "/", engine.ORdOnly, engine.ErrIsDir},
		{"directory entry", "/d", engine.ORdWr, engine.ErrIsDir},
		{"missing without create", "/ghost", engine.ORdOnly, engine.ErrNoEnt},
		{"exclusive on existing", "/f", engine.ORdWr | engine.OCreat | engine.OExcl, engine.ErrExist},
		{"no access mode", "/f", engine.OCreat, engine.ErrInval},
		{"missing parent", "/nodir/f", engine.ORdWr | engine.OCreat, engine.ErrNoEnt},
		{"parent is a file", "/f/sub", engine.ORdWr | engine.OCreat, engine.ErrNotDir},
		{"name too long", "/" + strings.Repeat("n", 256), engine.ORdWr | engine.OCreat, engine.ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Open(tt.path, tt.flags, nil); !errors.Is(err, tt.want) {
				t.Errorf("Open(%q) = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestReadWriteSeek(t *testing.T) {
	e, _, _ := newVolume(t)
	f, err := e.Open("/f", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	if _, err := f.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if pos, err := f.Seek(6, engine.SeekSet); err != nil || pos != 6 {
		t.Fatalf("Seek() = %d, %v", pos, err)
	}
	buf := make([]byte, 5)
	if n, err := f.Read(buf); err != nil || n != 5 || string(buf) != "world" {
		t.Fatalf("Read() = %d, %v, %q", n, err, buf)
	}

	// Sparse write past the end zero-fills the gap.
	if _, err := f.Seek(20, engine.SeekSet); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("tail")); err != nil {
		t.Fatal(err)
	}
	if size, _ := f.Size(); size != 24 {
		t.Errorf("Size() = %d, want 24", size)
	}
	if _, err := f.Seek(11, engine.SeekSet); err != nil {
		t.Fatal(err)
	}
	gap := make([]byte, 9)
	f.Read(gap)
	for _, b := range gap {
		if b != 0 {
			t.Errorf("gap byte = %#x, want 0", b)
		}
	}

	if _, err := f.Seek(-1, engine.SeekSet); !errors.Is(err, engine.ErrInval) {
		t.Errorf("negative seek = %v, want ErrInval", err)
	}
	f.Close()
}

func TestAppendMode(t *testing.T) {
	e, _, _ := newVolume(t)
	create(t, e, "/log", []byte("one\n"))

	f, err := e.Open("/log", engine.ORdWr|engine.OAppend, nil)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer f.Close()
	if _, err := f.Seek(0, engine.SeekSet); err != nil {
		t.Fatal(err)
	}
	// Append mode repositions to the end on every write.
	if _, err := f.Write([]byte("two\n")); err != nil {
		t.Fatal(err)
	}
	f.Seek(0, engine.SeekSet)
	buf := make([]byte, 8)
	f.Read(buf)
	if string(buf) != "one\ntwo\n" {
		t.Errorf("content = %q", buf)
	}
}

func TestAccessModeEnforcement(t *testing.T) {
	e, _, _ := newVolume(t)
	create(t, e, "/f", []byte("data"))

	ro, err := e.Open("/f", engine.ORdOnly, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if _, err := ro.Write([]byte("x")); !errors.Is(err, engine.ErrBadF) {
		t.Errorf("write on read-only handle = %v, want ErrBadF", err)
	}
	if err := ro.Truncate(0); !errors.Is(err, engine.ErrBadF) {
		t.Errorf("truncate on read-only handle = %v, want ErrBadF", err)
	}

	wo, err := e.Open("/f", engine.OWrOnly, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer wo.Close()
	if _, err := wo.Read(make([]byte, 4)); !errors.Is(err, engine.ErrBadF) {
		t.Errorf("read on write-only handle = %v, want ErrBadF", err)
	}
}

func TestTruncate(t *testing.T) {
	e, _, _ := newVolume(t)
	f, err := e.Open("/f", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.Write([]byte("0123456789"))

	if err := f.Truncate(4); err != nil {
		t.Fatalf("Truncate(4) = %v", err)
	}
	if size, _ := f.Size(); size != 4 {
		t.Errorf("Size() = %d, want 4", size)
	}
	if err := f.Truncate(8); err != nil {
		t.Fatalf("Truncate(8) = %v", err)
	}
	f.Seek(0, engine.SeekSet)
	buf := make([]byte, 8)
	f.Read(buf)
	if string(buf) != "0123\x00\x00\x00\x00" {
		t.Errorf("content = %q", buf)
	}
	if err := f.Truncate(-1); !errors.Is(err, engine.ErrInval) {
		t.Errorf("Truncate(-1) = %v", err)
	}
}

func TestClosedHandle(t *testing.T) {
	e, _, _ := newVolume(t)
	f, err := e.Open("/f", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, engine.ErrBadF) {
		t.Errorf("Read() after close = %v, want ErrBadF", err)
	}
	if err := f.Close(); !errors.Is(err, engine.ErrBadF) {
		t.Errorf("double Close() = %v, want ErrBadF", err)
	}
}

func TestMkdirRemove(t *testing.T) {
	e, _, _ := newVolume(t)
	if err := e.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir() = %v", err)
	}
	if err := e.Mkdir("/d"); !errors.Is(err, engine.ErrExist) {
		t.Errorf("second Mkdir() = %v, want ErrExist", err)
	}
	create(t, e, "/d/f", []byte("x"))

	if err := e.Remove("/d"); !errors.Is(err, engine.ErrNotEmpty) {
		t.Errorf("Remove(non-empty) = %v, want ErrNotEmpty", err)
	}
	if err := e.Remove("/d/f"); err != nil {
		t.Fatalf("Remove(file) = %v", err)
	}
	if err := e.Remove("/d"); err != nil {
		t.Fatalf("Remove(empty dir) = %v", err)
	}
	if err := e.Remove("/d"); !errors.Is(err, engine.ErrNoEnt) {
		t.Errorf("Remove(gone) = %v, want ErrNoEnt", err)
	}
}

func TestRename(t *testing.T) {
	e, _, _ := newVolume(t)
	create(t, e, "/a", []byte("content"))

	if err := e.Rename("/a", "/b"); err != nil {
		t.Fatalf("Rename() = %v", err)
	}
	if _, err := e.Stat("/a"); !errors.Is(err, engine.ErrNoEnt) {
		t.Error("source still present")
	}
	if info, err := e.Stat("/b"); err != nil || info.Size != 7 {
		t.Errorf("Stat(b) = %+v, %v", info, err)
	}

	// Renaming a directory carries its subtree.
	e.Mkdir("/d1")
	create(t, e, "/d1/inner", []byte("x"))
	if err := e.Rename("/d1", "/d2"); err != nil {
		t.Fatalf("Rename(dir) = %v", err)
	}
	if _, err := e.Stat("/d2/inner"); err != nil {
		t.Errorf("subtree not moved: %v", err)
	}

	// A file cannot replace a directory.
	if err := e.Rename("/b", "/d2"); !errors.Is(err, engine.ErrIsDir) {
		t.Errorf("file over dir = %v, want ErrIsDir", err)
	}
	// A file target is replaced.
	create(t, e, "/c", []byte("old"))
	if err := e.Rename("/b", "/c"); err != nil {
		t.Fatalf("replace = %v", err)
	}
	if info, _ := e.Stat("/c"); info.Size != 7 {
		t.Errorf("replacement size = %d, want 7", info.Size)
	}
}

func TestDirCursor(t *testing.T) {
	e, _, _ := newVolume(t)
	e.Mkdir("/d")
	create(t, e, "/d/bravo", nil)
	create(t, e, "/d/alpha", nil)

	d, err := e.OpenDir("/d")
	if err != nil {
		t.Fatalf("OpenDir() = %v", err)
	}
	defer d.Close()

	var names []string
	var info engine.Info
	for {
		more, err := d.Read(&info)
		if err != nil {
			t.Fatalf("Read() = %v", err)
		}
		if !more {
			break
		}
		names = append(names, info.Name)
	}
	want := []string{".", "..", "alpha", "bravo"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	// Seeking past the synthetic entries resumes at real names.
	if err := d.Seek(2); err != nil {
		t.Fatal(err)
	}
	if more, _ := d.Read(&info); !more || info.Name != "alpha" {
		t.Errorf("after Seek(2): %q", info.Name)
	}

	if err := d.Rewind(); err != nil {
		t.Fatal(err)
	}
	if more, _ := d.Read(&info); !more || info.Name != "." {
		t.Errorf("after Rewind: %q", info.Name)
	}
}

func TestOpenDirErrors(t *testing.T) {
	e, _, _ := newVolume(t)
	create(t, e, "/f", nil)
	if _, err := e.OpenDir("/ghost"); !errors.Is(err, engine.ErrNoEnt) {
		t.Errorf("OpenDir(missing) = %v", err)
	}
	if _, err := e.OpenDir("/f"); !errors.Is(err, engine.ErrNotDir) {
		t.Errorf("OpenDir(file) = %v", err)
	}
}

func TestAttrs(t *testing.T) {
	e, _, _ := newVolume(t)
	create(t, e, "/f", nil)

	if err := e.SetAttr("/f", 16, []byte("value")); err != nil {
		t.Fatalf("SetAttr() = %v", err)
	}
	buf := make([]byte, 16)
	n, err := e.GetAttr("/f", 16, buf)
	if err != nil || n != 5 || string(buf[:n]) != "value" {
		t.Errorf("GetAttr() = %d, %v, %q", n, err, buf[:n])
	}

	// Truncated reads still report the stored size.
	short := make([]byte, 2)
	if n, err := e.GetAttr("/f", 16, short); err != nil || n != 5 {
		t.Errorf("short GetAttr() = %d, %v", n, err)
	}

	if _, err := e.GetAttr("/f", 17, buf); !errors.Is(err, engine.ErrNoAttr) {
		t.Errorf("missing attr = %v, want ErrNoAttr", err)
	}
	if err := e.RemoveAttr("/f", 16); err != nil {
		t.Fatalf("RemoveAttr() = %v", err)
	}
	if err := e.RemoveAttr("/f", 16); !errors.Is(err, engine.ErrNoAttr) {
		t.Errorf("second RemoveAttr() = %v, want ErrNoAttr", err)
	}
	if err := e.SetAttr("/ghost", 16, nil); !errors.Is(err, engine.ErrNoEnt) {
		t.Errorf("SetAttr(missing) = %v, want ErrNoEnt", err)
	}
}

func TestFileAttrList(t *testing.T) {
	e, _, _ := newVolume(t)
	f, err := e.Open("/f", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.SetAttr(5, []byte("comment"))
	f.SetAttr(1, []byte{2})
	f.SetAttr(16, []byte("user"))

	tags, err := f.ListAttrs()
	if err != nil {
		t.Fatalf("ListAttrs() = %v", err)
	}
	if len(tags) != 3 || tags[0] != 1 || tags[1] != 5 || tags[2] != 16 {
		t.Errorf("tags = %v, want [1 5 16]", tags)
	}
}

func TestBlockInfo(t *testing.T) {
	e, _, _ := newVolume(t)

	small, err := e.Open("/small", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	small.Write([]byte("short"))
	bi, err := small.BlockInfo(0)
	if err != nil {
		t.Fatalf("BlockInfo() = %v", err)
	}
	if !bi.Inline {
		t.Error("short file not inline")
	}
	small.Close()

	big, err := e.Open("/big", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	big.Write(bytes.Repeat([]byte{0xAB}, 2*blockSize))
	defer big.Close()

	first, err := big.BlockInfo(0)
	if err != nil {
		t.Fatalf("BlockInfo(0) = %v", err)
	}
	if first.Inline {
		t.Fatal("large file reported inline")
	}
	// Data blocks are handed out from the top of the volume.
	if first.Block < blockCount-4 {
		t.Errorf("first block = %d, expected near %d", first.Block, blockCount)
	}
	second, err := big.BlockInfo(blockSize + 100)
	if err != nil {
		t.Fatalf("BlockInfo(second) = %v", err)
	}
	if second.Block != first.Block+1 || second.Off != 100 {
		t.Errorf("second = %+v, first = %+v", second, first)
	}

	if _, err := big.BlockInfo(-1); !errors.Is(err, engine.ErrInval) {
		t.Errorf("BlockInfo(-1) = %v", err)
	}
}

func TestUsedBlocksGrow(t *testing.T) {
	e, _, _ := newVolume(t)
	before, err := e.UsedBlocks()
	if err != nil {
		t.Fatal(err)
	}
	create(t, e, "/big", bytes.Repeat([]byte{1}, 3*blockSize))
	after, err := e.UsedBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if after < before+3 {
		t.Errorf("UsedBlocks() = %d -> %d, want at least +3", before, after)
	}
}

func TestVolumeFull(t *testing.T) {
	e, _, _ := newVolume(t)
	f, err := e.Open("/huge", engine.ORdWr|engine.OCreat, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.Write(bytes.Repeat([]byte{1}, (blockCount+1)*blockSize))
	if err := f.Sync(); !errors.Is(err, engine.ErrNoSpc) {
		t.Errorf("Sync() = %v, want ErrNoSpc", err)
	}
}

func TestCorruptHeader(t *testing.T) {
	e, _, part := newVolume(t)
	create(t, e, "/f", []byte("data"))
	if err := e.Unmount(); err != nil {
		t.Fatal(err)
	}

	// Scribble over the magic.
	copy(part.Bytes(), []byte("XXXX"))
	e2 := New()
	if err := e2.Mount(newConfig(part)); !errors.Is(err, engine.ErrCorrupt) {
		t.Errorf("Mount() = %v, want ErrCorrupt", err)
	}
}
