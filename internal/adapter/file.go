package adapter

import (
	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// Open opens path and allocates a descriptor slot for it. The write flag
// is checked against the entry's read-only attribute before the engine
// is involved, and recorded so later writes on a read-mode handle fail
// fast instead of reaching the engine.
func (fs *FileSystem) Open(path string, flags types.OpenFlags) (FileHandle, error) {
	if !fs.mounted {
		return 0, fserr.ErrNotMounted
	}

	if flags.Has(types.OpenWrite) {
		var attr [1]byte
		if n, err := fs.eng.GetAttr(path, uint8(types.TagFileAttributes), attr[:]); err == nil && n == 1 {
			if types.FileAttributes(attr[0]).Has(types.AttrReadOnly) {
				return 0, fserr.ErrReadOnly
			}
		}
	}

	oflags, ok := mapOpenFlags(flags)
	if !ok {
		fs.log.Warn("unknown open flags", "flags", uint8(flags.Unknown()))
		return 0, fserr.ErrNotSupported
	}

	slot := -1
	for i, fd := range fs.fds {
		if fd == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, fserr.ErrOutOfFileDescs
	}

	fd := &fileDesc{cache: make([]byte, fs.geom.CacheSize)}
	file, err := fs.eng.Open(path, oflags, fd.cache)
	if err != nil {
		return 0, translate(err)
	}
	fd.file = file
	fd.isRoot = isRootPath(path)
	fd.write = flags.Has(types.OpenWrite)

	// Metadata snapshot for FStat; the engine cannot report the open
	// path of a handle, so the bare name is derived here.
	fs.loadDescMeta(fd)
	fd.name = baseName(path)

	fs.fds[slot] = fd
	return FileHandle(fs.geom.HandleBase + slot), nil
}

// loadDescMeta populates the descriptor's cached attribute snapshot from
// the engine store. Missing attributes keep their zero values.
func (fs *FileSystem) loadDescMeta(fd *fileDesc) {
	var buf [types.TimeSize]byte
	if n, err := fd.file.GetAttr(uint8(types.TagModifiedTime), buf[:]); err == nil && n >= types.TimeSize {
		if t, ok := types.UnmarshalTime(buf[:]); ok {
			fd.mtime = t
		}
	}
	if n, err := fd.file.GetAttr(uint8(types.TagFileAttributes), buf[:1]); err == nil && n == 1 {
		fd.attr = types.FileAttributes(buf[0])
	}
	if n, err := fd.file.GetAttr(uint8(types.TagReadAce), buf[:1]); err == nil && n == 1 {
		fd.acl.ReadAccess = types.UserRole(buf[0])
	}
	if n, err := fd.file.GetAttr(uint8(types.TagWriteAce), buf[:1]); err == nil && n == 1 {
		fd.acl.WriteAccess = types.UserRole(buf[0])
	}
	var cbuf [types.CompressionSize]byte
	if n, err := fd.file.GetAttr(uint8(types.TagCompression), cbuf[:]); err == nil && n >= types.CompressionSize {
		if c, ok := types.UnmarshalCompression(cbuf[:]); ok {
			fd.comp = c
		}
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Close flushes pending metadata, closes the engine handle and releases
// the slot unconditionally; a slot is never leaked on error.
func (fs *FileSystem) Close(file FileHandle) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}

	metaErr := fs.flushMeta(fd)
	closeErr := translate(fd.file.Close())
	fs.fds[int(file)-fs.geom.HandleBase] = nil
	if closeErr != nil {
		return closeErr
	}
	return metaErr
}

func (fs *FileSystem) Read(file FileHandle, p []byte) (int, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}
	n, err := fd.file.Read(p)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// Write writes p at the current position and stamps the cached mtime.
// Handles opened without the write flag fail before the engine sees the
// call.
func (fs *FileSystem) Write(file FileHandle, p []byte) (int, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}
	if !fd.write {
		return 0, fserr.ErrReadOnly
	}
	n, err := fd.file.Write(p)
	if err != nil {
		return 0, translate(err)
	}
	fd.touch()
	return n, nil
}

func (fs *FileSystem) Seek(file FileHandle, offset int64, whence int) (int64, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}
	pos, err := fd.file.Seek(offset, whence)
	if err != nil {
		return 0, translate(err)
	}
	return pos, nil
}

// Eof reports whether the file position is at or past the end.
func (fs *FileSystem) Eof(file FileHandle) (bool, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return false, err
	}
	size, err := fd.file.Size()
	if err != nil {
		return false, translate(err)
	}
	pos, err := fd.file.Tell()
	if err != nil {
		return false, translate(err)
	}
	return pos >= size, nil
}

func (fs *FileSystem) Tell(file FileHandle) (int64, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}
	pos, err := fd.file.Tell()
	if err != nil {
		return 0, translate(err)
	}
	return pos, nil
}

func (fs *FileSystem) Truncate(file FileHandle, size int64) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}
	if !fd.write {
		return fserr.ErrReadOnly
	}
	if err := translate(fd.file.Truncate(size)); err != nil {
		return err
	}
	fd.touch()
	return nil
}

// Flush writes dirty cached metadata and syncs the handle to storage.
func (fs *FileSystem) Flush(file FileHandle) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}
	if err := fs.flushMeta(fd); err != nil {
		return err
	}
	return translate(fd.file.Sync())
}

// FRemove would delete the file behind an open handle. The engine cannot
// delete an open file, and marking the handle for deletion-on-close is
// deliberately not offered: callers close first, then Remove.
func (fs *FileSystem) FRemove(file FileHandle) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}
	if fd.attr.Has(types.AttrReadOnly) {
		return fserr.ErrReadOnly
	}
	return fserr.ErrNotImplemented
}

// Control routes device-specific control codes. None are recognised.
func (fs *FileSystem) Control(file FileHandle, code uint16, buf []byte) error {
	if _, err := fs.getFD(file); err != nil {
		return err
	}
	return fserr.ErrNotSupported
}

// FGetExtents walks the open file through the engine's block resolution
// and returns the physical (address, length) runs its content occupies.
// Files stored inline in the metadata log have no stable block address
// and are refused.
func (fs *FileSystem) FGetExtents(file FileHandle) ([]types.Extent, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return nil, err
	}
	size, err := fd.file.Size()
	if err != nil {
		return nil, translate(err)
	}

	blockSize := int64(fs.geom.BlockSize)
	var extents []types.Extent
	for pos := int64(0); pos < size; {
		bi, err := fd.file.BlockInfo(pos)
		if err != nil {
			return nil, translate(err)
		}
		if bi.Inline {
			return nil, fserr.ErrNotSupported
		}

		addr := int64(bi.Block)*blockSize + int64(bi.Off)
		run := blockSize - int64(bi.Off)
		if pos+run > size {
			run = size - pos
		}
		if n := len(extents); n > 0 && extents[n-1].Address+extents[n-1].Length == addr {
			extents[n-1].Length += run
		} else {
			extents = append(extents, types.Extent{Address: addr, Length: run})
		}
		pos += run
	}
	return extents, nil
}

// Seek origin values accepted by Seek.
const (
	SeekSet = engine.SeekSet
	SeekCur = engine.SeekCur
	SeekEnd = engine.SeekEnd
)
