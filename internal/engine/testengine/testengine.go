// Package testengine provides a deliberately simple reference engine
// implementing the engine contract. It keeps the working set in memory
// and serializes whole-volume snapshots through the block device, so the
// bridge, partition and profiler see real traffic and images survive
// remounts. It performs no wear leveling and keeps no crash-consistent
// log; it exists for tests and host-side tooling, not for flash.
package testengine

import (
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/flashfs/flashfs/internal/engine"
)

// Image header, stored at the start of block 0.
const (
	magic         = "TFE1"
	headerSize    = 16 // magic(4) + version(4) + payload length(8)
	imageVersion  = 1
	maxFileLength = 1 << 31
)

type entry struct {
	ID    uint32            `cbor:"1,keyasint"`
	Dir   bool              `cbor:"2,keyasint,omitempty"`
	Data  []byte            `cbor:"3,keyasint,omitempty"`
	Attrs map[uint8][]byte  `cbor:"4,keyasint,omitempty"`
}

type volume struct {
	NextID    uint32            `cbor:"1,keyasint"`
	Entries   map[string]*entry `cbor:"2,keyasint"`
	RootAttrs map[uint8][]byte  `cbor:"3,keyasint,omitempty"`
}

// Engine is the reference implementation of engine.Engine.
type Engine struct {
	cfg     *engine.Config
	vol     *volume
	mounted bool

	// Physical layout of the last snapshot: data blocks are assigned
	// from the top of the volume downward, metadata grows from block 0.
	extents    map[string][]uint32
	metaBlocks uint32
	dataBlocks uint32
	stale      bool
}

// New returns an unmounted engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Mount(cfg *engine.Config) error {
	if e.mounted {
		return engine.ErrInval
	}

	header := make([]byte, headerSize)
	if err := cfg.Device.Read(0, 0, header); err != nil {
		return err
	}
	if string(header[:4]) != magic || le32(header[4:]) != imageVersion {
		return engine.ErrCorrupt
	}
	length := le64(header[8:])
	if length > uint64(cfg.BlockSize)*uint64(cfg.BlockCount) {
		return engine.ErrCorrupt
	}

	payload, err := readPayload(cfg, length)
	if err != nil {
		return err
	}

	var wire struct {
		Volume  *volume             `cbor:"1,keyasint"`
		Extents map[string][]uint32 `cbor:"2,keyasint,omitempty"`
		Sizes   map[string]int64    `cbor:"3,keyasint,omitempty"`
	}
	if err := cbor.Unmarshal(payload, &wire); err != nil || wire.Volume == nil {
		return engine.ErrCorrupt
	}
	vol := wire.Volume
	if vol.Entries == nil {
		vol.Entries = make(map[string]*entry)
	}

	// Pull non-inline file content back in from its data blocks.
	for path, blocks := range wire.Extents {
		ent, ok := vol.Entries[path]
		if !ok {
			return engine.ErrCorrupt
		}
		size := wire.Sizes[path]
		if size < 0 || size > maxFileLength {
			return engine.ErrCorrupt
		}
		data := make([]byte, size)
		bs := int64(cfg.BlockSize)
		for i, block := range blocks {
			start := int64(i) * bs
			end := start + bs
			if end > size {
				end = size
			}
			if start >= end {
				break
			}
			if err := cfg.Device.Read(block, 0, data[start:end]); err != nil {
				return err
			}
		}
		ent.Data = data
	}

	e.cfg = cfg
	e.vol = vol
	e.mounted = true
	e.stale = true
	return nil
}

func (e *Engine) Unmount() error {
	if !e.mounted {
		return engine.ErrInval
	}
	err := e.persist()
	e.mounted = false
	e.cfg = nil
	e.vol = nil
	e.extents = nil
	return err
}

func (e *Engine) Format(cfg *engine.Config) error {
	if e.mounted {
		return engine.ErrInval
	}
	e.cfg = cfg
	e.vol = &volume{NextID: 1, Entries: make(map[string]*entry)}
	err := e.persist()
	e.cfg = nil
	e.vol = nil
	e.extents = nil
	return err
}

func (e *Engine) UsedBlocks() (uint32, error) {
	if !e.mounted {
		return 0, engine.ErrInval
	}
	if err := e.relayout(); err != nil {
		return 0, err
	}
	return e.metaBlocks + e.dataBlocks, nil
}

// persist lays the volume out and writes a full snapshot through the
// block device.
func (e *Engine) persist() error {
	payload, err := e.layout()
	if err != nil {
		return err
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	putLE32(header[4:], imageVersion)
	putLE64(header[8:], uint64(len(payload)))

	// Metadata region: header then payload, block by block.
	buf := append(header, payload...)
	bs := int(e.cfg.BlockSize)
	for i := 0; i < len(buf); i += bs {
		block := uint32(i / bs)
		if err := e.cfg.Device.Erase(block); err != nil {
			return err
		}
		end := i + bs
		if end > len(buf) {
			end = len(buf)
		}
		if err := e.cfg.Device.Prog(block, 0, buf[i:end]); err != nil {
			return err
		}
	}

	// Data region: one erase+program pass per assigned block.
	for path, blocks := range e.extents {
		data := e.vol.Entries[path].Data
		for i, block := range blocks {
			if err := e.cfg.Device.Erase(block); err != nil {
				return err
			}
			start := i * bs
			end := start + bs
			if end > len(data) {
				end = len(data)
			}
			if err := e.cfg.Device.Prog(block, 0, data[start:end]); err != nil {
				return err
			}
		}
	}

	if err := e.cfg.Device.Sync(); err != nil {
		return err
	}
	e.stale = false
	return nil
}

// layout assigns data blocks top-down for every non-inline file, encodes
// the metadata payload, and checks the result against the volume size.
func (e *Engine) layout() ([]byte, error) {
	e.extents = make(map[string][]uint32)
	e.dataBlocks = 0

	paths := make([]string, 0, len(e.vol.Entries))
	for p := range e.vol.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	bs := int64(e.cfg.BlockSize)
	next := int64(e.cfg.BlockCount) // exclusive upper bound, moves down
	meta := &volume{NextID: e.vol.NextID, Entries: make(map[string]*entry), RootAttrs: e.vol.RootAttrs}

	type located struct {
		path   string
		blocks []uint32
	}
	for _, p := range paths {
		ent := e.vol.Entries[p]
		if ent.Dir || len(ent.Data) <= e.inlineMax() {
			meta.Entries[p] = ent
			continue
		}
		n := (int64(len(ent.Data)) + bs - 1) / bs
		next -= n
		if next < 0 {
			return nil, engine.ErrNoSpc
		}
		blocks := make([]uint32, n)
		for i := range blocks {
			blocks[i] = uint32(next + int64(i))
		}
		e.extents[p] = blocks
		e.dataBlocks += uint32(n)
		meta.Entries[p] = &entry{ID: ent.ID, Attrs: ent.Attrs, Data: nil}
	}

	// Extent assignments ride along in the payload so Mount can skip
	// re-deriving them. Stored as a parallel map.
	wire := struct {
		Volume  *volume             `cbor:"1,keyasint"`
		Extents map[string][]uint32 `cbor:"2,keyasint,omitempty"`
		Sizes   map[string]int64    `cbor:"3,keyasint,omitempty"`
	}{Volume: meta}
	if len(e.extents) > 0 {
		wire.Extents = e.extents
		wire.Sizes = make(map[string]int64, len(e.extents))
		for p := range e.extents {
			wire.Sizes[p] = int64(len(e.vol.Entries[p].Data))
		}
	}

	payload, err := cbor.Marshal(&wire)
	if err != nil {
		return nil, engine.ErrInval
	}

	e.metaBlocks = uint32((int64(headerSize+len(payload)) + bs - 1) / bs)
	if int64(e.metaBlocks) > next {
		return nil, engine.ErrNoSpc
	}
	return payload, nil
}

// relayout refreshes extent assignments after mutations without forcing
// a device write.
func (e *Engine) relayout() error {
	if !e.stale {
		return nil
	}
	if _, err := e.layout(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) inlineMax() int {
	return int(e.cfg.CacheSize)
}

func readPayload(cfg *engine.Config, length uint64) ([]byte, error) {
	payload := make([]byte, length)
	bs := uint64(cfg.BlockSize)
	// The metadata region is contiguous from block 0; the payload
	// starts right after the header.
	pos := uint64(headerSize)
	for got := uint64(0); got < length; {
		block := uint32(pos / bs)
		off := uint32(pos % bs)
		n := bs - uint64(off)
		if n > length-got {
			n = length - got
		}
		if err := cfg.Device.Read(block, off, payload[got:got+n]); err != nil {
			return nil, err
		}
		pos += n
		got += n
	}
	return payload, nil
}

// --- path helpers ---

func clean(path string) string {
	return strings.Trim(path, "/")
}

func parent(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

func base(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func validName(path string) bool {
	for _, comp := range strings.Split(path, "/") {
		if len(comp) > engine.NameMax {
			return false
		}
	}
	return true
}

// lookupDir verifies that path (already cleaned) names an existing
// directory; "" is the root.
func (e *Engine) lookupDir(path string) error {
	if path == "" {
		return nil
	}
	ent, ok := e.vol.Entries[path]
	if !ok {
		return engine.ErrNoEnt
	}
	if !ent.Dir {
		return engine.ErrNotDir
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	putLE32(b, uint32(v))
	putLE32(b[4:], uint32(v>>32))
}
