package testengine

import "github.com/flashfs/flashfs/internal/engine"

// dir is a directory cursor over a name snapshot taken at open time.
// Positions 0 and 1 are the synthetic "." and ".." entries.
type dir struct {
	eng    *Engine
	path   string
	names  []string
	pos    int64
	closed bool
}

func (d *dir) Read(info *engine.Info) (bool, error) {
	if d.closed || !d.eng.mounted {
		return false, engine.ErrBadF
	}
	for {
		switch {
		case d.pos == 0:
			d.pos++
			*info = engine.Info{Name: ".", Type: engine.TypeDirectory}
			return true, nil
		case d.pos == 1:
			d.pos++
			*info = engine.Info{Name: "..", Type: engine.TypeDirectory}
			return true, nil
		case d.pos-2 >= int64(len(d.names)):
			return false, nil
		}
		name := d.names[d.pos-2]
		d.pos++
		full := name
		if d.path != "" {
			full = d.path + "/" + name
		}
		ent, ok := d.eng.vol.Entries[full]
		if !ok {
			// Entry removed since the snapshot; skip it.
			continue
		}
		*info = infoFor(name, ent)
		return true, nil
	}
}

func (d *dir) Seek(pos int64) error {
	if d.closed || !d.eng.mounted {
		return engine.ErrBadF
	}
	if pos < 0 {
		return engine.ErrInval
	}
	d.pos = pos
	return nil
}

func (d *dir) Tell() (int64, error) {
	if d.closed || !d.eng.mounted {
		return 0, engine.ErrBadF
	}
	return d.pos, nil
}

func (d *dir) Rewind() error {
	return d.Seek(0)
}

func (d *dir) Close() error {
	if d.closed {
		return engine.ErrBadF
	}
	d.closed = true
	return nil
}
