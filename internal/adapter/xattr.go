package adapter

import (
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// checkAttrWrite validates a tag/data pair for writing. Fixed-size
// reserved tags enforce their exact size so a short ACL byte or a
// truncated timestamp can never land in the store; reserved tags
// without a fixed size, the comment among them, are caller-sized.
func checkAttrWrite(tag types.Tag, data []byte) error {
	if tag > types.TagMax {
		return fserr.ErrBadParam
	}
	if size := tag.Size(); size > 0 && len(data) != size {
		return fserr.ErrBadParam
	}
	return nil
}

// SetXattr writes an attribute on the entry at path. Writes addressed at
// the root directory keep the adapter's root ACL cache coherent.
func (fs *FileSystem) SetXattr(path string, tag types.Tag, data []byte) error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	if err := checkAttrWrite(tag, data); err != nil {
		return err
	}
	if err := translate(fs.eng.SetAttr(path, uint8(tag), data)); err != nil {
		return err
	}
	if isRootPath(path) {
		fs.checkRootACL(tag, data)
	}
	return nil
}

// GetXattr reads an attribute into buf and returns the attribute's full
// stored size. A buffer smaller than the attribute receives a truncated
// copy and still gets the full size back, so a zero-length probe is the
// idiom for discovering how much to allocate.
func (fs *FileSystem) GetXattr(path string, tag types.Tag, buf []byte) (int, error) {
	if !fs.mounted {
		return 0, fserr.ErrNotMounted
	}
	if tag > types.TagMax {
		return 0, fserr.ErrBadParam
	}
	n, err := fs.eng.GetAttr(path, uint8(tag), buf)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// RemoveXattr deletes an attribute from the entry at path. Reserved tags
// are part of the entry's fixed metadata and cannot be removed.
func (fs *FileSystem) RemoveXattr(path string, tag types.Tag) error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	if tag > types.TagMax {
		return fserr.ErrBadParam
	}
	if tag.Reserved() {
		return fserr.ErrNotSupported
	}
	return translate(fs.eng.RemoveAttr(path, uint8(tag)))
}

// FSetXattr writes an attribute on an open file. The modification time
// only updates the descriptor cache and is flushed lazily on close or
// flush; other reserved tags write through and refresh the descriptor's
// snapshot so FStat stays coherent.
func (fs *FileSystem) FSetXattr(file FileHandle, tag types.Tag, data []byte) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}
	if err := checkAttrWrite(tag, data); err != nil {
		return err
	}

	if tag == types.TagModifiedTime {
		t, ok := types.UnmarshalTime(data)
		if !ok {
			return fserr.ErrBadParam
		}
		fd.mtime = t
		fd.timeChanged = true
		return nil
	}

	if err := translate(fd.file.SetAttr(uint8(tag), data)); err != nil {
		return err
	}

	switch tag {
	case types.TagFileAttributes:
		fd.attr = types.FileAttributes(data[0])
	case types.TagReadAce:
		fd.acl.ReadAccess = types.UserRole(data[0])
	case types.TagWriteAce:
		fd.acl.WriteAccess = types.UserRole(data[0])
	case types.TagCompression:
		if c, ok := types.UnmarshalCompression(data); ok {
			fd.comp = c
		}
	}
	if fd.isRoot {
		fs.checkRootACL(tag, data)
	}
	return nil
}

// FGetXattr reads an attribute from an open file with the same probe
// semantics as GetXattr. The modification time is served from the
// descriptor cache, which may be newer than the stored copy.
func (fs *FileSystem) FGetXattr(file FileHandle, tag types.Tag, buf []byte) (int, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}
	if tag > types.TagMax {
		return 0, fserr.ErrBadParam
	}

	if tag == types.TagModifiedTime {
		copy(buf, types.MarshalTime(fd.mtime))
		return types.TimeSize, nil
	}

	n, err := fd.file.GetAttr(uint8(tag), buf)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// FRemoveXattr deletes a caller-defined attribute from an open file.
func (fs *FileSystem) FRemoveXattr(file FileHandle, tag types.Tag) error {
	fd, err := fs.getFD(file)
	if err != nil {
		return err
	}
	if tag > types.TagMax {
		return fserr.ErrBadParam
	}
	if tag.Reserved() {
		return fserr.ErrNotSupported
	}
	return translate(fd.file.RemoveAttr(uint8(tag)))
}

// FEnumXattr walks every attribute stored on an open file, invoking fn
// once per attribute with the tag, the stored size and as much data as
// fits in buf. Data aliases buf and is only valid inside the callback.
// Enumeration stops early when fn returns false. The return value is the
// number of attributes visited.
func (fs *FileSystem) FEnumXattr(file FileHandle, fn func(types.AttrInfo) bool, buf []byte) (int, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return 0, err
	}

	tags, err := fd.file.ListAttrs()
	if err != nil {
		return 0, translate(err)
	}

	count := 0
	for _, raw := range tags {
		tag := types.Tag(raw)
		var size int
		if tag == types.TagModifiedTime {
			size = types.TimeSize
			copy(buf, types.MarshalTime(fd.mtime))
		} else {
			size, err = fd.file.GetAttr(raw, buf)
			if err != nil {
				return count, translate(err)
			}
		}

		data := buf
		if size < len(data) {
			data = data[:size]
		}
		count++
		if !fn(types.AttrInfo{Tag: tag, Size: size, Data: data}) {
			break
		}
	}
	return count, nil
}
