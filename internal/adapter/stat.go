package adapter

import (
	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// Stat returns the status of the entry at path, combining the engine's
// name/size/type record with the attribute overlay. The root directory
// has no ordinary entry and is answered from the adapter's ACL cache.
func (fs *FileSystem) Stat(path string) (types.Stat, error) {
	if !fs.mounted {
		return types.Stat{}, fserr.ErrNotMounted
	}

	if isRootPath(path) {
		return types.Stat{
			Attr: types.AttrDirectory,
			ACL:  fs.rootACL,
		}, nil
	}

	info, err := fs.eng.Stat(path)
	if err != nil {
		return types.Stat{}, translate(err)
	}

	s := types.Stat{
		Name: info.Name,
		Size: info.Size,
		ID:   info.ID,
	}
	if info.Type == engine.TypeDirectory {
		s.Attr |= types.AttrDirectory
	}
	fs.readStatAttrs(path, &s)
	checkStat(&s)
	return s, nil
}

// FStat returns the status of an open file. The size is always read live
// from the handle; the rest comes from the descriptor's metadata
// snapshot, so attribute writes made through other paths since the open
// are not reflected.
func (fs *FileSystem) FStat(file FileHandle) (types.Stat, error) {
	fd, err := fs.getFD(file)
	if err != nil {
		return types.Stat{}, err
	}

	size, err := fd.file.Size()
	if err != nil {
		return types.Stat{}, translate(err)
	}

	s := types.Stat{
		Name:        fd.name,
		Size:        size,
		ID:          fd.file.ID(),
		Attr:        fd.attr,
		ACL:         fd.acl,
		Compression: fd.comp,
		MTime:       fd.mtime,
	}
	if fd.isRoot {
		s.Attr |= types.AttrDirectory
		s.ACL = fs.rootACL
	}
	checkStat(&s)
	return s, nil
}

// readStatAttrs fills the overlay fields of s from the path-scoped
// attribute store. Absent attributes keep their zero values.
func (fs *FileSystem) readStatAttrs(path string, s *types.Stat) {
	var buf [types.TimeSize]byte
	if n, err := fs.eng.GetAttr(path, uint8(types.TagModifiedTime), buf[:]); err == nil && n >= types.TimeSize {
		if t, ok := types.UnmarshalTime(buf[:]); ok {
			s.MTime = t
		}
	}
	if n, err := fs.eng.GetAttr(path, uint8(types.TagFileAttributes), buf[:1]); err == nil && n == 1 {
		s.Attr |= types.FileAttributes(buf[0])
	}
	if n, err := fs.eng.GetAttr(path, uint8(types.TagReadAce), buf[:1]); err == nil && n == 1 {
		s.ACL.ReadAccess = types.UserRole(buf[0])
	}
	if n, err := fs.eng.GetAttr(path, uint8(types.TagWriteAce), buf[:1]); err == nil && n == 1 {
		s.ACL.WriteAccess = types.UserRole(buf[0])
	}
	var cbuf [types.CompressionSize]byte
	if n, err := fs.eng.GetAttr(path, uint8(types.TagCompression), cbuf[:]); err == nil && n >= types.CompressionSize {
		if c, ok := types.UnmarshalCompression(cbuf[:]); ok {
			s.Compression = c
		}
	}
}

// checkStat reconciles the Compressed attribute bit with the compression
// descriptor, which is the authoritative record. Compressed entries
// report the original content length as their size.
func checkStat(s *types.Stat) {
	if s.Compression.Type == types.CompressNone {
		s.Attr &^= types.AttrCompressed
		return
	}
	s.Attr |= types.AttrCompressed
	s.Size = int64(s.Compression.OriginalSize)
}
