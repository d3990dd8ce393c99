package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/flashfs/flashfs/internal/adapter"
)

// MountManager drives the kernel mount lifecycle for one volume.
type MountManager struct {
	vfs        *adapter.FileSystem
	mountPoint string
	opts       *Options
	server     *fuse.Server
	log        *slog.Logger
}

// NewMountManager prepares a mount of vfs at mountPoint. Nothing touches
// the kernel until Mount is called.
func NewMountManager(vfs *adapter.FileSystem, mountPoint string, opts *Options) *MountManager {
	if opts == nil {
		opts = defaultOptions()
	}
	return &MountManager{
		vfs:        vfs,
		mountPoint: mountPoint,
		opts:       opts,
		log:        slog.Default(),
	}
}

// Mount attaches the volume to the mount point and starts serving kernel
// requests in the background.
func (m *MountManager) Mount() error {
	if m.server != nil {
		return fmt.Errorf("already mounted at %s", m.mountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	server, err := fs.Mount(m.mountPoint, NewRoot(m.vfs, m.opts), m.buildFUSEOptions())
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", m.mountPoint, err)
	}
	m.server = server
	m.log.Info("volume mounted", "mountpoint", m.mountPoint)
	return nil
}

// Unmount detaches the volume, falling back to a lazy unmount when the
// mount point is busy.
func (m *MountManager) Unmount() error {
	if m.server == nil {
		return fmt.Errorf("not mounted")
	}

	if err := m.server.Unmount(); err != nil {
		m.log.Warn("unmount failed, trying lazy unmount", "error", err)
		if lerr := syscall.Unmount(m.mountPoint, 2); lerr != nil {
			return fmt.Errorf("unmount failed: %w", err)
		}
	}
	m.server = nil
	m.log.Info("volume unmounted", "mountpoint", m.mountPoint)
	return nil
}

// Wait blocks until the kernel connection is closed.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// IsMounted reports whether a kernel mount is active.
func (m *MountManager) IsMounted() bool {
	return m.server != nil
}

func (m *MountManager) validateMountPoint() error {
	if m.mountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}
	info, err := os.Stat(m.mountPoint)
	if err != nil {
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", m.mountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.opts.FSName,
			FsName:     m.opts.FSName,
			Debug:      m.opts.Debug,
			AllowOther: m.opts.AllowOther,
		},
		AttrTimeout:  &m.opts.AttrTimeout,
		EntryTimeout: &m.opts.EntryTimeout,
	}
	if m.opts.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	return opts
}
