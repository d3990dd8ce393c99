package fuse

import (
	"context"
	"fmt"
	"syscall"
	"testing"

	"github.com/flashfs/flashfs/internal/adapter"
	"github.com/flashfs/flashfs/internal/engine/testengine"
	"github.com/flashfs/flashfs/internal/storage"
	fserr "github.com/flashfs/flashfs/pkg/errors"
	"github.com/flashfs/flashfs/pkg/types"
)

func TestErrnoMapping(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{fserr.ErrNotFound, syscall.ENOENT},
		{fserr.ErrExists, syscall.EEXIST},
		{fserr.ErrReadOnly, syscall.EACCES},
		{fserr.ErrOutOfFileDescs, syscall.EMFILE},
		{fserr.ErrFileNotOpen, syscall.EBADF},
		{fserr.ErrNoSpace, syscall.ENOSPC},
		{fserr.ErrNameTooLong, syscall.ENAMETOOLONG},
		{fserr.ErrNotImplemented, syscall.ENOSYS},
		{fserr.ErrReadFailure, syscall.EIO},
		{fserr.ErrBadFileSystem, syscall.EIO},
		{fmt.Errorf("arbitrary"), syscall.EIO},
	}
	for _, tt := range tests {
		if got := errno(tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestTagForXattr(t *testing.T) {
	tests := []struct {
		name string
		tag  types.Tag
		ok   bool
	}{
		{"flashfs.comment", types.TagComment, true},
		{"flashfs.user.0", types.TagUserStart, true},
		{"flashfs.user.5", types.TagUserStart + 5, true},
		{"flashfs.user.200", 0, false},
		{"flashfs.user.-1", 0, false},
		{"flashfs.user.x", 0, false},
		{"user.something", 0, false},
		{"security.selinux", 0, false},
	}
	for _, tt := range tests {
		tag, ok := tagForXattr(tt.name)
		if ok != tt.ok || (ok && tag != tt.tag) {
			t.Errorf("tagForXattr(%q) = %v, %v, want %v, %v", tt.name, tag, ok, tt.tag, tt.ok)
		}
	}

	// Names round-trip through xattrNameFor.
	for _, tag := range []types.Tag{types.TagComment, types.TagUserStart, types.TagUserStart + 9} {
		got, ok := tagForXattr(xattrNameFor(tag))
		if !ok || got != tag {
			t.Errorf("round trip of tag %v = %v, %v", tag, got, ok)
		}
	}
}

func TestMapKernelFlags(t *testing.T) {
	tests := []struct {
		flags uint32
		want  types.OpenFlags
	}{
		{uint32(syscall.O_RDONLY), types.OpenRead},
		{uint32(syscall.O_WRONLY), types.OpenWrite},
		{uint32(syscall.O_RDWR), types.OpenReadWrite},
		{uint32(syscall.O_RDWR | syscall.O_CREAT), types.OpenReadWrite | types.OpenCreate},
		{uint32(syscall.O_WRONLY | syscall.O_TRUNC), types.OpenWrite | types.OpenTruncate},
		{uint32(syscall.O_WRONLY | syscall.O_APPEND), types.OpenWrite | types.OpenAppend},
	}
	for _, tt := range tests {
		if got := mapKernelFlags(tt.flags); got != tt.want {
			t.Errorf("mapKernelFlags(%#x) = %v, want %v", tt.flags, got, tt.want)
		}
	}
}

func TestCommentXattrRoundTrip(t *testing.T) {
	part := storage.NewMem(64 * 4096)
	vfs := adapter.New(testengine.New(), part)
	if err := vfs.Mount(); err != nil {
		t.Fatalf("Mount() = %v", err)
	}
	defer vfs.Unmount()

	f, err := vfs.Open("/note.txt", types.OpenWrite|types.OpenCreate)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if err := vfs.Close(f); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	n := &node{
		host: &host{vfs: vfs, opts: defaultOptions()},
		path: "/note.txt",
	}
	ctx := context.Background()

	comment := []byte("imported 2026-08-31")
	if errno := n.Setxattr(ctx, xattrComment, comment, 0); errno != 0 {
		t.Fatalf("Setxattr(%s) = %v", xattrComment, errno)
	}

	dest := make([]byte, 64)
	size, errno := n.Getxattr(ctx, xattrComment, dest)
	if errno != 0 {
		t.Fatalf("Getxattr(%s) = %v", xattrComment, errno)
	}
	if string(dest[:size]) != string(comment) {
		t.Errorf("comment = %q, want %q", dest[:size], comment)
	}

	// A short non-empty buffer reports the needed size with ERANGE.
	short := make([]byte, 4)
	size, errno = n.Getxattr(ctx, xattrComment, short)
	if errno != syscall.ERANGE {
		t.Errorf("Getxattr(short) = %v, want ERANGE", errno)
	}
	if int(size) != len(comment) {
		t.Errorf("Getxattr(short) size = %d, want %d", size, len(comment))
	}
}
