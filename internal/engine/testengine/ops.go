package testengine

import (
	"sort"
	"strings"

	"github.com/flashfs/flashfs/internal/engine"
)

func (e *Engine) Open(path string, flags engine.OpenFlag, cache []byte) (engine.File, error) {
	if !e.mounted {
		return nil, engine.ErrInval
	}
	path = clean(path)
	if path == "" {
		return nil, engine.ErrIsDir
	}
	if !validName(path) {
		return nil, engine.ErrNameTooLong
	}
	if flags&engine.ORdWr == 0 {
		return nil, engine.ErrInval
	}
	if err := e.lookupDir(parent(path)); err != nil {
		return nil, err
	}

	ent, ok := e.vol.Entries[path]
	switch {
	case ok && ent.Dir:
		return nil, engine.ErrIsDir
	case ok && flags&engine.OCreat != 0 && flags&engine.OExcl != 0:
		return nil, engine.ErrExist
	case !ok && flags&engine.OCreat == 0:
		return nil, engine.ErrNoEnt
	case !ok:
		ent = &entry{ID: e.vol.NextID}
		e.vol.NextID++
		e.vol.Entries[path] = ent
		e.stale = true
	}

	if flags&engine.OTrunc != 0 && len(ent.Data) > 0 {
		ent.Data = nil
		e.stale = true
	}

	f := &file{eng: e, path: path, ent: ent, flags: flags, cache: cache}
	return f, nil
}

func (e *Engine) Stat(path string) (engine.Info, error) {
	if !e.mounted {
		return engine.Info{}, engine.ErrInval
	}
	path = clean(path)
	if path == "" {
		return engine.Info{Name: "/", Type: engine.TypeDirectory}, nil
	}
	ent, ok := e.vol.Entries[path]
	if !ok {
		return engine.Info{}, engine.ErrNoEnt
	}
	return infoFor(base(path), ent), nil
}

func (e *Engine) Mkdir(path string) error {
	if !e.mounted {
		return engine.ErrInval
	}
	path = clean(path)
	if path == "" {
		return engine.ErrExist
	}
	if !validName(path) {
		return engine.ErrNameTooLong
	}
	if err := e.lookupDir(parent(path)); err != nil {
		return err
	}
	if _, ok := e.vol.Entries[path]; ok {
		return engine.ErrExist
	}
	e.vol.Entries[path] = &entry{ID: e.vol.NextID, Dir: true}
	e.vol.NextID++
	e.stale = true
	return e.persist()
}

func (e *Engine) Remove(path string) error {
	if !e.mounted {
		return engine.ErrInval
	}
	path = clean(path)
	if path == "" {
		return engine.ErrInval
	}
	ent, ok := e.vol.Entries[path]
	if !ok {
		return engine.ErrNoEnt
	}
	if ent.Dir && len(e.children(path)) > 0 {
		return engine.ErrNotEmpty
	}
	delete(e.vol.Entries, path)
	e.stale = true
	return e.persist()
}

func (e *Engine) Rename(oldPath, newPath string) error {
	if !e.mounted {
		return engine.ErrInval
	}
	oldPath = clean(oldPath)
	newPath = clean(newPath)
	if oldPath == "" || newPath == "" {
		return engine.ErrInval
	}
	if !validName(newPath) {
		return engine.ErrNameTooLong
	}
	src, ok := e.vol.Entries[oldPath]
	if !ok {
		return engine.ErrNoEnt
	}
	if err := e.lookupDir(parent(newPath)); err != nil {
		return err
	}

	if dst, ok := e.vol.Entries[newPath]; ok {
		if dst.Dir != src.Dir {
			if dst.Dir {
				return engine.ErrIsDir
			}
			return engine.ErrNotDir
		}
		if dst.Dir && len(e.children(newPath)) > 0 {
			return engine.ErrNotEmpty
		}
		delete(e.vol.Entries, newPath)
	}

	delete(e.vol.Entries, oldPath)
	e.vol.Entries[newPath] = src
	if src.Dir {
		// Carry the subtree along with the directory.
		prefix := oldPath + "/"
		moved := make(map[string]*entry)
		for p, ent := range e.vol.Entries {
			if strings.HasPrefix(p, prefix) {
				moved[newPath+"/"+p[len(prefix):]] = ent
				delete(e.vol.Entries, p)
			}
		}
		for p, ent := range moved {
			e.vol.Entries[p] = ent
		}
	}
	e.stale = true
	return e.persist()
}

func (e *Engine) OpenDir(path string) (engine.Dir, error) {
	if !e.mounted {
		return nil, engine.ErrInval
	}
	path = clean(path)
	if path != "" {
		ent, ok := e.vol.Entries[path]
		if !ok {
			return nil, engine.ErrNoEnt
		}
		if !ent.Dir {
			return nil, engine.ErrNotDir
		}
	}
	names := e.children(path)
	sort.Strings(names)
	return &dir{eng: e, path: path, names: names}, nil
}

func (e *Engine) GetAttr(path string, tag uint8, buf []byte) (int, error) {
	if !e.mounted {
		return 0, engine.ErrInval
	}
	attrs, err := e.attrsFor(clean(path))
	if err != nil {
		return 0, err
	}
	return getAttr(attrs, tag, buf)
}

func (e *Engine) SetAttr(path string, tag uint8, data []byte) error {
	if !e.mounted {
		return engine.ErrInval
	}
	path = clean(path)
	if path == "" {
		if e.vol.RootAttrs == nil {
			e.vol.RootAttrs = make(map[uint8][]byte)
		}
		e.vol.RootAttrs[tag] = append([]byte(nil), data...)
		e.stale = true
		return e.persist()
	}
	ent, ok := e.vol.Entries[path]
	if !ok {
		return engine.ErrNoEnt
	}
	if ent.Attrs == nil {
		ent.Attrs = make(map[uint8][]byte)
	}
	ent.Attrs[tag] = append([]byte(nil), data...)
	e.stale = true
	return e.persist()
}

func (e *Engine) RemoveAttr(path string, tag uint8) error {
	if !e.mounted {
		return engine.ErrInval
	}
	attrs, err := e.attrsFor(clean(path))
	if err != nil {
		return err
	}
	if _, ok := attrs[tag]; !ok {
		return engine.ErrNoAttr
	}
	delete(attrs, tag)
	e.stale = true
	return e.persist()
}

func (e *Engine) attrsFor(path string) (map[uint8][]byte, error) {
	if path == "" {
		if e.vol.RootAttrs == nil {
			e.vol.RootAttrs = make(map[uint8][]byte)
		}
		return e.vol.RootAttrs, nil
	}
	ent, ok := e.vol.Entries[path]
	if !ok {
		return nil, engine.ErrNoEnt
	}
	if ent.Attrs == nil {
		ent.Attrs = make(map[uint8][]byte)
	}
	return ent.Attrs, nil
}

// children lists the entry names directly inside dir ("" = root).
func (e *Engine) children(dir string) []string {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	var names []string
	for p := range e.vol.Entries {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	return names
}

func infoFor(name string, ent *entry) engine.Info {
	info := engine.Info{Name: name, ID: ent.ID}
	if ent.Dir {
		info.Type = engine.TypeDirectory
	} else {
		info.Size = int64(len(ent.Data))
	}
	return info
}

func getAttr(attrs map[uint8][]byte, tag uint8, buf []byte) (int, error) {
	data, ok := attrs[tag]
	if !ok {
		return 0, engine.ErrNoAttr
	}
	copy(buf, data)
	return len(data), nil
}
