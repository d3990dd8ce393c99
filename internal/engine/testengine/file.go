package testengine

import (
	"io"
	"sort"

	"github.com/flashfs/flashfs/internal/engine"
)

// file is one open handle. The cache buffer handed in at Open stands in
// for the engine's per-file I/O buffer; content mutations mark the
// volume stale and are flushed on Sync and Close.
type file struct {
	eng    *Engine
	path   string
	ent    *entry
	flags  engine.OpenFlag
	cache  []byte
	pos    int64
	closed bool
}

func (f *file) check() error {
	if f.closed || !f.eng.mounted {
		return engine.ErrBadF
	}
	return nil
}

func (f *file) Read(p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if f.flags&engine.ORdOnly == 0 {
		return 0, engine.ErrBadF
	}
	if f.pos >= int64(len(f.ent.Data)) {
		return 0, nil
	}
	n := copy(p, f.ent.Data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if f.flags&engine.OWrOnly == 0 {
		return 0, engine.ErrBadF
	}
	if f.flags&engine.OAppend != 0 {
		f.pos = int64(len(f.ent.Data))
	}
	end := f.pos + int64(len(p))
	if end > maxFileLength {
		return 0, engine.ErrFBig
	}
	if end > int64(len(f.ent.Data)) {
		grown := make([]byte, end)
		copy(grown, f.ent.Data)
		f.ent.Data = grown
	}
	copy(f.ent.Data[f.pos:], p)
	f.pos = end
	f.eng.stale = true
	return len(p), nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	var pos int64
	switch whence {
	case engine.SeekSet:
		pos = offset
	case engine.SeekCur:
		pos = f.pos + offset
	case engine.SeekEnd:
		pos = int64(len(f.ent.Data)) + offset
	default:
		return 0, engine.ErrInval
	}
	if pos < 0 {
		return 0, engine.ErrInval
	}
	f.pos = pos
	return pos, nil
}

func (f *file) Truncate(size int64) error {
	if err := f.check(); err != nil {
		return err
	}
	if f.flags&engine.OWrOnly == 0 {
		return engine.ErrBadF
	}
	if size < 0 {
		return engine.ErrInval
	}
	if size > maxFileLength {
		return engine.ErrFBig
	}
	switch {
	case size < int64(len(f.ent.Data)):
		f.ent.Data = f.ent.Data[:size]
	case size > int64(len(f.ent.Data)):
		grown := make([]byte, size)
		copy(grown, f.ent.Data)
		f.ent.Data = grown
	}
	f.eng.stale = true
	return nil
}

func (f *file) Sync() error {
	if err := f.check(); err != nil {
		return err
	}
	return f.eng.persist()
}

func (f *file) Close() error {
	if f.closed {
		return engine.ErrBadF
	}
	f.closed = true
	if !f.eng.mounted {
		return engine.ErrBadF
	}
	return f.eng.persist()
}

func (f *file) Size() (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return int64(len(f.ent.Data)), nil
}

func (f *file) Tell() (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.pos, nil
}

func (f *file) ID() uint32 {
	return f.ent.ID
}

func (f *file) GetAttr(tag uint8, buf []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if f.ent.Attrs == nil {
		return 0, engine.ErrNoAttr
	}
	return getAttr(f.ent.Attrs, tag, buf)
}

func (f *file) SetAttr(tag uint8, data []byte) error {
	if err := f.check(); err != nil {
		return err
	}
	if f.ent.Attrs == nil {
		f.ent.Attrs = make(map[uint8][]byte)
	}
	f.ent.Attrs[tag] = append([]byte(nil), data...)
	f.eng.stale = true
	return nil
}

func (f *file) RemoveAttr(tag uint8) error {
	if err := f.check(); err != nil {
		return err
	}
	if _, ok := f.ent.Attrs[tag]; !ok {
		return engine.ErrNoAttr
	}
	delete(f.ent.Attrs, tag)
	f.eng.stale = true
	return nil
}

func (f *file) ListAttrs() ([]uint8, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	tags := make([]uint8, 0, len(f.ent.Attrs))
	for tag := range f.ent.Attrs {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags, nil
}

func (f *file) BlockInfo(pos int64) (engine.BlockInfo, error) {
	if err := f.check(); err != nil {
		return engine.BlockInfo{}, err
	}
	if pos < 0 || pos >= int64(len(f.ent.Data)) {
		return engine.BlockInfo{}, engine.ErrInval
	}
	if len(f.ent.Data) <= f.eng.inlineMax() {
		return engine.BlockInfo{Inline: true}, nil
	}
	if err := f.eng.relayout(); err != nil {
		return engine.BlockInfo{}, err
	}
	blocks, ok := f.eng.extents[f.path]
	if !ok {
		return engine.BlockInfo{Inline: true}, nil
	}
	bs := int64(f.eng.cfg.BlockSize)
	return engine.BlockInfo{
		Block: blocks[pos/bs],
		Off:   uint32(pos % bs),
	}, nil
}

var _ io.ReadWriteSeeker = (*file)(nil)
