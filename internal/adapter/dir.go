package adapter

import (
	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// Directory is one open directory enumeration. Unlike file handles,
// directory handles are not slot-limited; the engine allocates them on
// demand.
type Directory struct {
	fs   *FileSystem
	d    engine.Dir
	path string
}

// OpenDir starts an enumeration of the entries under path.
func (fs *FileSystem) OpenDir(path string) (*Directory, error) {
	if !fs.mounted {
		return nil, fserr.ErrNotMounted
	}
	d, err := fs.eng.OpenDir(path)
	if err != nil {
		return nil, translate(err)
	}
	return &Directory{fs: fs, d: d, path: path}, nil
}

// ReadDir returns the next entry, skipping the synthetic "." and ".."
// positions. Exhaustion is reported as NoMoreFiles, never as a nil
// entry.
func (fs *FileSystem) ReadDir(dir *Directory) (types.Stat, error) {
	if dir == nil || dir.d == nil {
		return types.Stat{}, fserr.ErrInvalidHandle
	}

	var info engine.Info
	for {
		more, err := dir.d.Read(&info)
		if err != nil {
			return types.Stat{}, translate(err)
		}
		if !more {
			return types.Stat{}, fserr.ErrNoMoreFiles
		}
		if info.Name != "." && info.Name != ".." {
			break
		}
	}

	s := types.Stat{
		Name: info.Name,
		Size: info.Size,
		ID:   info.ID,
	}
	if info.Type == engine.TypeDirectory {
		s.Attr |= types.AttrDirectory
	}
	fs.readStatAttrs(joinPath(dir.path, info.Name), &s)
	checkStat(&s)
	return s, nil
}

// RewindDir restarts the enumeration from the first entry.
func (fs *FileSystem) RewindDir(dir *Directory) error {
	if dir == nil || dir.d == nil {
		return fserr.ErrInvalidHandle
	}
	return translate(dir.d.Rewind())
}

// CloseDir ends the enumeration and releases the engine cursor.
func (fs *FileSystem) CloseDir(dir *Directory) error {
	if dir == nil || dir.d == nil {
		return fserr.ErrInvalidHandle
	}
	err := translate(dir.d.Close())
	dir.d = nil
	return err
}

func joinPath(dir, name string) string {
	if isRootPath(dir) {
		return "/" + name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
