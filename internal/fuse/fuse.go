// Package fuse exposes a mounted flash volume through the kernel using
// go-fuse. All adapter calls are funneled through one mutex: the adapter
// is single-owner by contract, while the kernel issues requests from
// many goroutines. The volume's descriptor table is small, so concurrent
// open files beyond its capacity fail with EMFILE rather than queueing.
package fuse

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/flashfs/flashfs/internal/adapter"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

// Options controls how the volume is presented to the kernel.
type Options struct {
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`
	Debug      bool   `yaml:"debug"`
	FSName     string `yaml:"fsname"`

	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	FileMode uint32 `yaml:"file_mode"`
	DirMode  uint32 `yaml:"dir_mode"`

	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// DefaultOptions returns the options used when a caller passes nil.
func DefaultOptions() *Options { return defaultOptions() }

func defaultOptions() *Options {
	return &Options{
		FSName:       "flashfs",
		FileMode:     0o644,
		DirMode:      0o755,
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// host owns the serialization lock in front of the adapter.
type host struct {
	mu   sync.Mutex
	vfs  *adapter.FileSystem
	opts *Options
}

// NewRoot returns the root inode over a mounted adapter. The adapter
// must already be mounted; the caller keeps ownership of its lifecycle.
func NewRoot(vfs *adapter.FileSystem, opts *Options) fs.InodeEmbedder {
	if opts == nil {
		opts = defaultOptions()
	}
	h := &host{vfs: vfs, opts: opts}
	return &node{host: h, path: "/"}
}

// errno maps a unified filesystem error onto the syscall error space.
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch fserr.CodeOf(err) {
	case fserr.CodeNotFound:
		return syscall.ENOENT
	case fserr.CodeExists:
		return syscall.EEXIST
	case fserr.CodeReadOnly:
		return syscall.EACCES
	case fserr.CodeOutOfFileDescs:
		return syscall.EMFILE
	case fserr.CodeInvalidHandle, fserr.CodeFileNotOpen:
		return syscall.EBADF
	case fserr.CodeNoSpace:
		return syscall.ENOSPC
	case fserr.CodeTooBig:
		return syscall.EFBIG
	case fserr.CodeNameTooLong:
		return syscall.ENAMETOOLONG
	case fserr.CodeBadParam:
		return syscall.EINVAL
	case fserr.CodeNotSupported, fserr.CodeNotImplemented:
		return syscall.ENOSYS
	case fserr.CodeNoMem:
		return syscall.ENOMEM
	case fserr.CodeNotMounted:
		return syscall.ENODEV
	default:
		return syscall.EIO
	}
}

// node serves both files and directories; the entry's stored attributes
// decide which face the kernel sees.
type node struct {
	fs.Inode
	host *host
	path string
}

var _ = (fs.NodeLookuper)((*node)(nil))
var _ = (fs.NodeGetattrer)((*node)(nil))
var _ = (fs.NodeSetattrer)((*node)(nil))
var _ = (fs.NodeReaddirer)((*node)(nil))
var _ = (fs.NodeMkdirer)((*node)(nil))
var _ = (fs.NodeCreater)((*node)(nil))
var _ = (fs.NodeOpener)((*node)(nil))
var _ = (fs.NodeUnlinker)((*node)(nil))
var _ = (fs.NodeRmdirer)((*node)(nil))
var _ = (fs.NodeRenamer)((*node)(nil))
var _ = (fs.NodeGetxattrer)((*node)(nil))
var _ = (fs.NodeSetxattrer)((*node)(nil))
var _ = (fs.NodeListxattrer)((*node)(nil))
var _ = (fs.NodeRemovexattrer)((*node)(nil))

func (n *node) child(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *node) fillAttr(s *types.Stat, out *fuse.Attr) {
	opts := n.host.opts
	if s.IsDir() {
		out.Mode = fuse.S_IFDIR | opts.DirMode
	} else {
		out.Mode = fuse.S_IFREG | opts.FileMode
	}
	if s.Attr.Has(types.AttrReadOnly) {
		out.Mode &^= 0o222
	}
	if s.Size > 0 {
		out.Size = uint64(s.Size)
	}
	out.Uid = opts.UID
	out.Gid = opts.GID
	if !s.MTime.IsZero() {
		mtime := uint64(s.MTime.Unix())
		out.Mtime = mtime
		out.Atime = mtime
		out.Ctime = mtime
	}
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.child(name)
	n.host.mu.Lock()
	s, err := n.host.vfs.Stat(path)
	n.host.mu.Unlock()
	if err != nil {
		return nil, errno(err)
	}

	n.fillAttr(&s, &out.Attr)
	mode := uint32(fuse.S_IFREG)
	if s.IsDir() {
		mode = fuse.S_IFDIR
	}
	child := &node{host: n.host, path: path}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.host.mu.Lock()
	defer n.host.mu.Unlock()

	if h, ok := fh.(*handle); ok {
		s, err := n.host.vfs.FStat(h.fd)
		if err != nil {
			return errno(err)
		}
		n.fillAttr(&s, &out.Attr)
		return 0
	}

	s, err := n.host.vfs.Stat(n.path)
	if err != nil {
		return errno(err)
	}
	n.fillAttr(&s, &out.Attr)
	return 0
}

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.host.mu.Lock()
	defer n.host.mu.Unlock()

	if size, ok := in.GetSize(); ok {
		if err := n.truncateLocked(fh, int64(size)); err != nil {
			return errno(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		if err := n.host.vfs.SetXattr(n.path, types.TagModifiedTime, types.MarshalTime(mtime)); err != nil {
			return errno(err)
		}
	}

	s, err := n.host.vfs.Stat(n.path)
	if err != nil {
		return errno(err)
	}
	n.fillAttr(&s, &out.Attr)
	return 0
}

// truncateLocked resizes through an existing handle when one is
// supplied, otherwise through a short-lived write handle.
func (n *node) truncateLocked(fh fs.FileHandle, size int64) error {
	if h, ok := fh.(*handle); ok {
		return n.host.vfs.Truncate(h.fd, size)
	}
	fd, err := n.host.vfs.Open(n.path, types.OpenWrite)
	if err != nil {
		return err
	}
	terr := n.host.vfs.Truncate(fd, size)
	cerr := n.host.vfs.Close(fd)
	if terr != nil {
		return terr
	}
	return cerr
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.host.mu.Lock()
	defer n.host.mu.Unlock()

	dir, err := n.host.vfs.OpenDir(n.path)
	if err != nil {
		return nil, errno(err)
	}
	defer n.host.vfs.CloseDir(dir)

	var entries []fuse.DirEntry
	for {
		s, err := n.host.vfs.ReadDir(dir)
		if err != nil {
			if fserr.CodeOf(err) == fserr.CodeNoMoreFiles {
				break
			}
			return nil, errno(err)
		}
		mode := uint32(fuse.S_IFREG)
		if s.IsDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: s.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.host.opts.ReadOnly {
		return nil, syscall.EROFS
	}
	path := n.child(name)

	n.host.mu.Lock()
	err := n.host.vfs.Mkdir(path)
	var s types.Stat
	if err == nil {
		s, err = n.host.vfs.Stat(path)
	}
	n.host.mu.Unlock()
	if err != nil {
		return nil, errno(err)
	}

	n.fillAttr(&s, &out.Attr)
	child := &node{host: n.host, path: path}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.host.opts.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	path := n.child(name)

	oflags := mapKernelFlags(flags) | types.OpenCreate
	n.host.mu.Lock()
	fd, err := n.host.vfs.Open(path, oflags)
	n.host.mu.Unlock()
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	out.Attr.Mode = fuse.S_IFREG | n.host.opts.FileMode
	out.Attr.Uid = n.host.opts.UID
	out.Attr.Gid = n.host.opts.GID
	child := &node{host: n.host, path: path}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &handle{host: n.host, fd: fd}, 0, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	oflags := mapKernelFlags(flags)
	if n.host.opts.ReadOnly && oflags.Has(types.OpenWrite) {
		return nil, 0, syscall.EROFS
	}

	n.host.mu.Lock()
	fd, err := n.host.vfs.Open(n.path, oflags)
	n.host.mu.Unlock()
	if err != nil {
		return nil, 0, errno(err)
	}
	return &handle{host: n.host, fd: fd}, 0, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.host.opts.ReadOnly {
		return syscall.EROFS
	}
	n.host.mu.Lock()
	defer n.host.mu.Unlock()
	return errno(n.host.vfs.Remove(n.child(name)))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.host.opts.ReadOnly {
		return syscall.EROFS
	}
	n.host.mu.Lock()
	defer n.host.mu.Unlock()
	return errno(n.host.vfs.Remove(n.child(name)))
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.host.opts.ReadOnly {
		return syscall.EROFS
	}
	dst, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	n.host.mu.Lock()
	defer n.host.mu.Unlock()
	return errno(n.host.vfs.Rename(n.child(name), dst.child(newName)))
}

// Extended attributes are exposed under the flashfs. namespace: the
// comment tag by name, caller-defined tags by number.
const (
	xattrComment    = "flashfs.comment"
	xattrUserPrefix = "flashfs.user."
)

func tagForXattr(name string) (types.Tag, bool) {
	if name == xattrComment {
		return types.TagComment, true
	}
	if rest, ok := strings.CutPrefix(name, xattrUserPrefix); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return 0, false
		}
		tag := types.TagUserStart + types.Tag(n)
		if tag < types.TagUserStart || tag > types.TagMax {
			return 0, false
		}
		return tag, true
	}
	return 0, false
}

func xattrNameFor(tag types.Tag) string {
	if tag == types.TagComment {
		return xattrComment
	}
	return xattrUserPrefix + strconv.Itoa(int(tag-types.TagUserStart))
}

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	tag, ok := tagForXattr(attr)
	if !ok {
		return 0, syscall.ENODATA
	}
	n.host.mu.Lock()
	size, err := n.host.vfs.GetXattr(n.path, tag, dest)
	n.host.mu.Unlock()
	if err != nil {
		if fserr.CodeOf(err) == fserr.CodeSystem {
			return 0, syscall.ENODATA
		}
		return 0, errno(err)
	}
	if size > len(dest) && len(dest) > 0 {
		return uint32(size), syscall.ERANGE
	}
	return uint32(size), 0
}

func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if n.host.opts.ReadOnly {
		return syscall.EROFS
	}
	tag, ok := tagForXattr(attr)
	if !ok {
		return syscall.ENOTSUP
	}
	n.host.mu.Lock()
	defer n.host.mu.Unlock()
	return errno(n.host.vfs.SetXattr(n.path, tag, data))
}

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	n.host.mu.Lock()
	defer n.host.mu.Unlock()

	fd, err := n.host.vfs.Open(n.path, types.OpenRead)
	if err != nil {
		// Directories cannot be opened as files; report no xattrs
		// rather than failing the listing.
		return 0, 0
	}
	defer n.host.vfs.Close(fd)

	var names []string
	buf := make([]byte, 256)
	_, err = n.host.vfs.FEnumXattr(fd, func(ai types.AttrInfo) bool {
		if ai.Tag == types.TagComment || ai.Tag >= types.TagUserStart {
			names = append(names, xattrNameFor(ai.Tag))
		}
		return true
	}, buf)
	if err != nil {
		return 0, errno(err)
	}

	var total uint32
	for _, name := range names {
		total += uint32(len(name)) + 1
	}
	if len(dest) == 0 {
		return total, 0
	}
	if total > uint32(len(dest)) {
		return total, syscall.ERANGE
	}
	off := 0
	for _, name := range names {
		off += copy(dest[off:], name)
		dest[off] = 0
		off++
	}
	return total, 0
}

func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if n.host.opts.ReadOnly {
		return syscall.EROFS
	}
	tag, ok := tagForXattr(attr)
	if !ok {
		return syscall.ENODATA
	}
	n.host.mu.Lock()
	defer n.host.mu.Unlock()
	return errno(n.host.vfs.RemoveXattr(n.path, tag))
}

// mapKernelFlags converts kernel open flags to adapter open flags.
func mapKernelFlags(flags uint32) types.OpenFlags {
	var oflags types.OpenFlags
	switch int(flags) & (syscall.O_RDONLY | syscall.O_WRONLY | syscall.O_RDWR) {
	case syscall.O_WRONLY:
		oflags = types.OpenWrite
	case syscall.O_RDWR:
		oflags = types.OpenReadWrite
	default:
		oflags = types.OpenRead
	}
	if flags&uint32(syscall.O_CREAT) != 0 {
		oflags |= types.OpenCreate
	}
	if flags&uint32(syscall.O_TRUNC) != 0 {
		oflags |= types.OpenTruncate
	}
	if flags&uint32(syscall.O_APPEND) != 0 {
		oflags |= types.OpenAppend
	}
	return oflags
}

// handle adapts one adapter descriptor to the kernel's offset-based I/O.
type handle struct {
	host *host
	fd   adapter.FileHandle
}

var _ = (fs.FileReader)((*handle)(nil))
var _ = (fs.FileWriter)((*handle)(nil))
var _ = (fs.FileFlusher)((*handle)(nil))
var _ = (fs.FileReleaser)((*handle)(nil))
var _ = (fs.FileFsyncer)((*handle)(nil))

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()

	if _, err := h.host.vfs.Seek(h.fd, off, adapter.SeekSet); err != nil {
		return nil, errno(err)
	}
	n, err := h.host.vfs.Read(h.fd, dest)
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()

	if _, err := h.host.vfs.Seek(h.fd, off, adapter.SeekSet); err != nil {
		return 0, errno(err)
	}
	n, err := h.host.vfs.Write(h.fd, data)
	if err != nil {
		return 0, errno(err)
	}
	return uint32(n), 0
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	return errno(h.host.vfs.Flush(h.fd))
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	return errno(h.host.vfs.Flush(h.fd))
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	return errno(h.host.vfs.Close(h.fd))
}
