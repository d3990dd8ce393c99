// Package adapter implements the virtual filesystem façade over the
// storage engine: mount lifecycle, the fixed descriptor table, the typed
// attribute overlay, root-path protection and error translation. One
// adapter instance has a single logical owner; operations are
// synchronous and run to completion on the caller's goroutine with no
// internal locking.
package adapter

import (
	"log/slog"
	"strings"

	"github.com/flashfs/flashfs/internal/blockdev"
	"github.com/flashfs/flashfs/internal/config"
	"github.com/flashfs/flashfs/internal/engine"
	"github.com/flashfs/flashfs/internal/metrics"
	"github.com/flashfs/flashfs/internal/storage"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// VolumeType is the filesystem type reported by GetInfo.
const VolumeType = "littlefs"

// FileSystem adapts the engine's handle-based API to a POSIX-like call
// surface. The partition is borrowed and must outlive the adapter; the
// engine control state and all working buffers are owned exclusively.
type FileSystem struct {
	part   storage.Partition
	eng    engine.Engine
	bridge *blockdev.Bridge
	geom   config.Geometry
	cfg    engine.Config
	log    *slog.Logger

	fds     []*fileDesc
	rootACL types.ACL
	mounted bool
}

// Option configures a FileSystem at construction.
type Option func(*FileSystem)

// WithLogger overrides the default structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(fs *FileSystem) { fs.log = log }
}

// WithGeometry overrides the default volume geometry.
func WithGeometry(geom config.Geometry) Option {
	return func(fs *FileSystem) { fs.geom = geom }
}

// New builds an adapter over the given engine and partition. The volume
// is not touched until Mount or Format is called.
func New(eng engine.Engine, part storage.Partition, opts ...Option) *FileSystem {
	fs := &FileSystem{
		part: part,
		eng:  eng,
		geom: config.DefaultGeometry(),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(fs)
	}

	fs.bridge = blockdev.New(part, fs.geom.BlockSize)
	fs.cfg = engine.Config{
		Device:        fs.bridge,
		ReadSize:      fs.geom.ReadSize,
		ProgSize:      fs.geom.ProgSize,
		BlockSize:     fs.geom.BlockSize,
		BlockCycles:   fs.geom.BlockCycles,
		CacheSize:     fs.geom.CacheSize,
		LookaheadSize: fs.geom.LookaheadSize,
	}
	fs.fds = make([]*fileDesc, fs.geom.MaxFileDescs)
	return fs
}

// SetProfiler installs a block-device activity profiler; nil removes it
// with no other observable effect.
func (fs *FileSystem) SetProfiler(p metrics.Profiler) {
	fs.bridge.SetProfiler(p)
}

// isRootPath reports whether path names the implicit root directory.
func isRootPath(path string) bool {
	return strings.Trim(path, "/") == ""
}

// Mount attaches the volume. A failed attempt triggers one destructive
// format-and-remount recovery pass before giving up.
func (fs *FileSystem) Mount() error {
	if fs.part == nil {
		return fserr.ErrNoPartition
	}
	if fs.part.Type() != storage.TypeLittleFS {
		return fserr.ErrBadPartition
	}

	fs.cfg.BlockCount = uint32(fs.part.Size() / int64(fs.geom.BlockSize))

	if err := fs.tryMount(); err != nil {
		// Self-healing on corruption at the price of data loss.
		fs.log.Warn("mount failed, formatting", "error", err)
		if err := translate(fs.eng.Format(&fs.cfg)); err != nil {
			return err
		}
		if err := fs.tryMount(); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) tryMount() error {
	if err := fs.eng.Mount(&fs.cfg); err != nil {
		return translate(err)
	}
	fs.mounted = true
	fs.loadRootACL()
	return nil
}

// Unmount detaches the volume. Descriptors left open are abandoned;
// callers are expected to close them first.
func (fs *FileSystem) Unmount() error {
	if !fs.mounted {
		return fserr.ErrNotMounted
	}
	err := translate(fs.eng.Unmount())
	fs.mounted = false
	return err
}

// Format writes a fresh volume. The filesystem is left mounted only if
// it was mounted on entry; otherwise mounting stays the caller's move.
func (fs *FileSystem) Format() error {
	wasMounted := fs.mounted
	if fs.mounted {
		if err := translate(fs.eng.Unmount()); err != nil {
			fs.log.Warn("unmount before format failed", "error", err)
		}
		fs.mounted = false
	}

	fs.cfg.BlockCount = uint32(fs.part.Size() / int64(fs.geom.BlockSize))
	if err := translate(fs.eng.Format(&fs.cfg)); err != nil {
		return err
	}

	if wasMounted {
		return fs.tryMount()
	}
	return nil
}

// Check is reserved for a future consistency pass.
func (fs *FileSystem) Check() error {
	return fserr.ErrNotImplemented
}

// GetInfo reports volume-level information. Space figures come from the
// engine's live block accounting, never a cache.
func (fs *FileSystem) GetInfo() (types.Info, error) {
	info := types.Info{
		Type:          VolumeType,
		MaxNameLength: engine.NameMax,
		BlockSize:     int(fs.geom.BlockSize),
	}
	if !fs.mounted {
		return info, nil
	}

	info.Attr |= types.VolumeMounted
	used, err := fs.eng.UsedBlocks()
	if err != nil {
		return info, translate(err)
	}
	blockSize := int64(fs.geom.BlockSize)
	info.VolumeSize = int64(fs.cfg.BlockCount) * blockSize
	info.Used = int64(used) * blockSize
	info.FreeSpace = int64(fs.cfg.BlockCount-used) * blockSize
	return info, nil
}

// loadRootACL mirrors the engine's root-path access-control attributes
// into the adapter cache. The root directory has no ordinary entry, so
// this cache answers every later ACL query for it.
func (fs *FileSystem) loadRootACL() {
	fs.rootACL = types.ACL{}
	buf := make([]byte, 1)
	if n, err := fs.eng.GetAttr("", uint8(types.TagReadAce), buf); err == nil && n == 1 {
		fs.rootACL.ReadAccess = types.UserRole(buf[0])
	}
	if n, err := fs.eng.GetAttr("", uint8(types.TagWriteAce), buf); err == nil && n == 1 {
		fs.rootACL.WriteAccess = types.UserRole(buf[0])
	}
}

// checkRootACL keeps the cached root ACL coherent with attribute writes
// addressed at the root path.
func (fs *FileSystem) checkRootACL(tag types.Tag, data []byte) {
	if len(data) != 1 {
		return
	}
	switch tag {
	case types.TagReadAce:
		fs.rootACL.ReadAccess = types.UserRole(data[0])
	case types.TagWriteAce:
		fs.rootACL.WriteAccess = types.UserRole(data[0])
	}
}
