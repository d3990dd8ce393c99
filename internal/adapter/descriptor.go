package adapter

import (
	"time"

	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// FileHandle identifies one open file. Values are offset by the handle
// base so they can be range-checked without a table lookup.
type FileHandle int

// fileDesc is one slot of the fixed-capacity descriptor table. It owns
// exactly one open engine handle plus lazily-flushed cached metadata:
// the modification time is written back on close or flush, not on every
// mutation, to avoid one engine write per file touch.
type fileDesc struct {
	name string
	file engine.File

	// Metadata snapshot taken at open, served by FStat.
	mtime time.Time
	attr  types.FileAttributes
	acl   types.ACL
	comp  types.Compression

	// cache is the slot's private engine I/O buffer, handed to the
	// engine when the handle is opened.
	cache []byte

	timeChanged bool
	isRoot      bool
	write       bool
}

// touch stamps the cached mtime and marks it dirty.
func (fd *fileDesc) touch() {
	fd.mtime = time.Now().UTC()
	fd.timeChanged = true
}

// getFD resolves a handle to its descriptor: out-of-range handles are
// InvalidHandle, vacant slots are FileNotOpen.
func (fs *FileSystem) getFD(file FileHandle) (*fileDesc, error) {
	idx := int(file) - fs.geom.HandleBase
	if idx < 0 || idx >= len(fs.fds) {
		return nil, fserr.ErrInvalidHandle
	}
	fd := fs.fds[idx]
	if fd == nil {
		return nil, fserr.ErrFileNotOpen
	}
	return fd, nil
}

// flushMeta writes dirty cached metadata through to the engine's
// attribute store. Invoked on close and flush, never from timers.
func (fs *FileSystem) flushMeta(fd *fileDesc) error {
	if !fd.timeChanged {
		return nil
	}
	if err := fd.file.SetAttr(uint8(types.TagModifiedTime), types.MarshalTime(fd.mtime)); err != nil {
		return translate(err)
	}
	fd.timeChanged = false
	return nil
}

// mapOpenFlags converts adapter open flags to engine flags. Any bit the
// adapter does not recognise fails the whole mapping so it is never
// silently misinterpreted.
func mapOpenFlags(flags types.OpenFlags) (engine.OpenFlag, bool) {
	if flags.Unknown() != 0 {
		return 0, false
	}
	var oflags engine.OpenFlag
	if flags.Has(types.OpenRead) {
		oflags |= engine.ORdOnly
	}
	if flags.Has(types.OpenWrite) {
		oflags |= engine.OWrOnly
	}
	if flags.Has(types.OpenCreate) {
		oflags |= engine.OCreat
	}
	if flags.Has(types.OpenTruncate) {
		oflags |= engine.OTrunc
	}
	if flags.Has(types.OpenAppend) {
		oflags |= engine.OAppend
	}
	return oflags, true
}
