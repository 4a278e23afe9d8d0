package vfs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing inode, name or uploaded content
	ErrNotFound = errors.New("no such entry")

	// ErrDirectoryNotEmpty indicates removal of a directory with children
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrIsDirectory indicates a file operation on a directory
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotDirectory indicates a directory operation on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrResourceExhausted indicates no free inode number is left
	ErrResourceExhausted = errors.New("no free inodes")

	// ErrRemoteIO indicates a failed or rejected remote request
	ErrRemoteIO = errors.New("remote I/O error")

	// ErrInvalidState indicates a write to a closed upload stream
	ErrInvalidState = errors.New("upload stream is closed")

	// ErrAlreadyExists indicates the name is taken in the parent directory
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrInvalidArgument indicates a request the filesystem cannot honour,
	// such as a write at an offset other than the end of the upload
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error records the operation and entry that failed.
type Error struct {
	Op    string // Operation that failed (e.g., "lookup", "write")
	Inode Inode  // Inode the operation was applied to
	Name  string // Child name, when the operation takes one
	Err   error  // Underlying error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s inode %d: %v", e.Op, e.Inode, e.Err)
	}
	return fmt.Sprintf("%s inode %d name %q: %v", e.Op, e.Inode, e.Name, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, ino Inode, name string, err error) *Error {
	return &Error{Op: op, Inode: ino, Name: name, Err: err}
}

// remoteError marks err, returned by the remote service client, as ErrRemoteIO
// while keeping it inspectable with errors.As.
func remoteError(err error) error {
	return fmt.Errorf("%w: %w", ErrRemoteIO, err)
}

// Operation names used in errors and logs
const (
	OpGetattr = "getattr"
	OpSetattr = "setattr"
	OpLookup  = "lookup"
	OpMknod   = "mknod"
	OpMkdir   = "mkdir"
	OpCreate  = "create"
	OpOpen    = "open"
	OpOpendir = "opendir"
	OpReaddir = "readdir"
	OpRelease = "release"
	OpUnlink  = "unlink"
	OpRmdir   = "rmdir"
	OpWrite   = "write"
	OpFlush   = "flush"
	OpFsync   = "fsync"
	OpRead    = "read"
)
