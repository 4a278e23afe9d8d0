package fs

import (
	"errors"
	"syscall"

	"vocafs/internal/logging"
	"vocafs/internal/vfs"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// ToFuseError converts a filesystem error to the errno reported to the
// kernel. Anything unrecognised becomes EIO.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var vfsErr *vfs.Error
	if errors.As(err, &vfsErr) {
		errLogger.Trace("Converting filesystem error: %v", vfsErr)
	}

	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, vfs.ErrDirectoryNotEmpty):
		return fuse.Errno(syscall.ENOTEMPTY)
	case errors.Is(err, vfs.ErrIsDirectory):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, vfs.ErrNotDirectory):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.Is(err, vfs.ErrResourceExhausted):
		return fuse.Errno(syscall.ENOSPC)
	case errors.Is(err, vfs.ErrRemoteIO):
		return fuse.Errno(syscall.EIO)
	case errors.Is(err, vfs.ErrInvalidState):
		return fuse.Errno(syscall.EBADF)
	case errors.Is(err, vfs.ErrAlreadyExists):
		return fuse.Errno(syscall.EEXIST)
	case errors.Is(err, vfs.ErrInvalidArgument):
		return fuse.Errno(syscall.EINVAL)
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return fuse.Errno(syscall.EIO)
	}
}

// recoverRequest turns a panic in a request handler into EIO so that a
// single request cannot stop the server.
func recoverRequest(op string, ino vfs.Inode, err *error) {
	if r := recover(); r != nil {
		errLogger.Error("Recovered panic in %s on inode %d: %v", op, ino, r)
		*err = fuse.Errno(syscall.EIO)
	}
}
