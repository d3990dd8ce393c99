package adapter

import (
	"time"

	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// Mkdir creates a directory. An already-existing directory is not an
// error, so callers can establish a path without a stat probe first.
func (fs *FileSystem) Mkdir(path string) error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	if isRootPath(path) {
		return fserr.ErrBadParam
	}

	if err := fs.eng.Mkdir(path); err != nil {
		if errno, ok := engine.AsErrno(err); ok && errno == engine.ErrExist {
			return nil
		}
		return translate(err)
	}
	// Creation time doubles as the initial modification time.
	if err := fs.eng.SetAttr(path, uint8(types.TagModifiedTime), types.MarshalTime(time.Now().UTC())); err != nil {
		fs.log.Warn("mkdir timestamp failed", "path", path, "error", err)
	}
	return nil
}

// Rename moves an entry to a new path. The root directory can be neither
// source nor destination.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	if isRootPath(oldPath) || isRootPath(newPath) {
		return fserr.ErrBadParam
	}
	return translate(fs.eng.Rename(oldPath, newPath))
}

// Remove deletes the entry at path. Read-only entries are refused before
// the engine is involved; the root directory cannot be removed.
func (fs *FileSystem) Remove(path string) error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	if isRootPath(path) {
		return fserr.ErrBadParam
	}

	var attr [1]byte
	if n, err := fs.eng.GetAttr(path, uint8(types.TagFileAttributes), attr[:]); err == nil && n == 1 {
		if types.FileAttributes(attr[0]).Has(types.AttrReadOnly) {
			return fserr.ErrReadOnly
		}
	}
	return translate(fs.eng.Remove(path))
}
