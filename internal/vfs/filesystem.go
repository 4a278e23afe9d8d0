// Package vfs is the in-memory filesystem model behind vocafs: the inode
// table, the directory namespace, attribute translation, open-file
// accounting, and the bridges that turn file writes into remote uploads
// and file reads into remote fetches.
//
// The package knows nothing about the kernel protocol. A host adapter
// drives it through the Operations interface.
package vfs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"vocafs/internal/logging"
	"vocafs/internal/vocaroo"
)

var (
	vfsLogger      = logging.GetLogger().WithPrefix("vfs")
	uploadLogger   = vfsLogger.WithPrefix("upload")
	downloadLogger = vfsLogger.WithPrefix("download")
)

// Operations is the filesystem surface consumed by the host adapter. Each
// method returns a result or an error wrapping one of the package's
// sentinel errors.
type Operations interface {
	GetAttributes(ino Inode) (Attributes, error)
	SetAttributes(ino Inode, update AttrUpdate) (Attributes, error)
	Lookup(parent Inode, name string) (Attributes, error)
	MakeNode(parent Inode, name string, mode, rdev uint32, caller Caller) (Attributes, error)
	MakeDirectory(parent Inode, name string, mode uint32, caller Caller) (Attributes, error)
	OpenDirectory(ino Inode) (Handle, error)
	ReadDirectory(ino Inode, cursor Inode, emit func(DirEntry) bool) error
	CreateFile(parent Inode, name string, mode uint32, caller Caller) (Handle, Attributes, error)
	Open(ino Inode) (Handle, error)
	Release(ctx context.Context, h Handle) error
	Unlink(parent Inode, name string) error
	RemoveDirectory(parent Inode, name string) error
	CheckAccess(ino Inode, mask uint32, caller Caller) error

	Write(ctx context.Context, h Handle, offset int64, data []byte) (int, error)
	Flush(ctx context.Context, h Handle) error
	Sync(ctx context.Context, h Handle) error
	Read(ctx context.Context, h Handle, offset int64, size int) ([]byte, error)
}

// DirEntry is one entry emitted by ReadDirectory. Cursor resumes the
// listing after this entry.
type DirEntry struct {
	Name   string
	Cursor Inode
	Attr   Attributes
}

// Options configures a FileSystem.
type Options struct {
	// Remote serves uploads and downloads.
	Remote Remote

	// ChunkSize bounds each chunk upload.
	ChunkSize int

	// RootUID and RootGID own the root directory.
	RootUID uint32
	RootGID uint32

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// FileSystem implements Operations over an in-memory inode table.
type FileSystem struct {
	table     *inodeTable
	open      *openCounts
	remote    Remote
	chunkSize int
	now       func() time.Time
}

var _ Operations = (*FileSystem)(nil)

// New creates a filesystem holding only the root directory.
func New(opts Options) *FileSystem {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100000
	}

	ts := opts.Now().UnixNano()
	root := &Node{
		Mode:  unix.S_IFDIR | 0755,
		Ctime: ts,
		Mtime: ts,
		Atime: ts,
		UID:   opts.RootUID,
		GID:   opts.RootGID,
	}

	vfsLogger.Debug("Creating filesystem: root uid=%d gid=%d chunk=%d", opts.RootUID, opts.RootGID, opts.ChunkSize)
	open := newOpenCounts()
	return &FileSystem{
		table:     newInodeTable(root, open.busy),
		open:      open,
		remote:    opts.Remote,
		chunkSize: opts.ChunkSize,
		now:       opts.Now,
	}
}

// GetAttributes returns the attributes of ino.
func (fs *FileSystem) GetAttributes(ino Inode) (Attributes, error) {
	node, ok := fs.table.get(ino)
	if !ok {
		return Attributes{}, newError(OpGetattr, ino, "", ErrNotFound)
	}
	return toAttributes(ino, &node), nil
}

// SetAttributes applies update to ino and returns the refreshed attributes.
func (fs *FileSystem) SetAttributes(ino Inode, update AttrUpdate) (Attributes, error) {
	var attrs Attributes
	err := fs.table.update(ino, func(node *Node) error {
		if applyUpdate(node, update) {
			vfsLogger.Debug("Ignoring size change on inode %d", ino)
		}
		attrs = toAttributes(ino, node)
		return nil
	})
	if err != nil {
		return Attributes{}, newError(OpSetattr, ino, "", err)
	}
	return attrs, nil
}

// Lookup resolves name in parent. "." is parent itself and ".." its parent.
func (fs *FileSystem) Lookup(parent Inode, name string) (Attributes, error) {
	ino, node, err := fs.table.lookup(parent, name)
	if err != nil {
		return Attributes{}, newError(OpLookup, parent, name, err)
	}
	return toAttributes(ino, &node), nil
}

// MakeNode creates a special or regular node. A mode without file type
// bits creates a regular file.
func (fs *FileSystem) MakeNode(parent Inode, name string, mode, rdev uint32, caller Caller) (Attributes, error) {
	return fs.createEntry(OpMknod, parent, name, withType(mode, unix.S_IFREG, false), caller, rdev, "")
}

// MakeDirectory creates a directory.
func (fs *FileSystem) MakeDirectory(parent Inode, name string, mode uint32, caller Caller) (Attributes, error) {
	return fs.createEntry(OpMkdir, parent, name, withType(mode, unix.S_IFDIR, true), caller, 0, "")
}

// CreateFile creates a regular file and opens it.
func (fs *FileSystem) CreateFile(parent Inode, name string, mode uint32, caller Caller) (Handle, Attributes, error) {
	attrs, err := fs.createEntry(OpCreate, parent, name, withType(mode, unix.S_IFREG, false), caller, 0, "")
	if err != nil {
		return 0, Attributes{}, err
	}
	return fs.open.open(attrs.Inode), attrs, nil
}

func (fs *FileSystem) createEntry(op string, parent Inode, name string, mode uint32, caller Caller, rdev uint32, target string) (Attributes, error) {
	if name == "" || name == "." || name == ".." {
		return Attributes{}, newError(op, parent, name, ErrInvalidArgument)
	}

	ts := fs.now().UnixNano()
	node := &Node{
		Parent: parent,
		Name:   name,
		Mode:   mode,
		UID:    caller.UID,
		GID:    caller.GID,
		Ctime:  ts,
		Mtime:  ts,
		Atime:  ts,
		Rdev:   rdev,
		Target: target,
	}

	ino, err := fs.table.createIfAbsent(node)
	if err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			vfsLogger.Warn("Inode table full, cannot create %q in %d", name, parent)
		}
		return Attributes{}, newError(op, parent, name, err)
	}

	vfsLogger.Debug("Created %q as inode %d in %d (mode %o)", name, ino, parent, mode)
	return toAttributes(ino, node), nil
}

// OpenDirectory returns a handle for listing ino.
func (fs *FileSystem) OpenDirectory(ino Inode) (Handle, error) {
	node, ok := fs.table.get(ino)
	if !ok {
		return 0, newError(OpOpendir, ino, "", ErrNotFound)
	}
	if !node.IsDir() {
		return 0, newError(OpOpendir, ino, "", ErrNotDirectory)
	}
	return Handle(ino), nil
}

// ReadDirectory emits the children of ino whose inode number is greater
// than cursor, in ascending inode order, until emit returns false. An
// entry inserted below the cursor between calls is not listed.
func (fs *FileSystem) ReadDirectory(ino Inode, cursor Inode, emit func(DirEntry) bool) error {
	entries, err := fs.table.childrenAfter(ino, cursor)
	if err != nil {
		return newError(OpReaddir, ino, "", err)
	}
	for i := range entries {
		e := &entries[i]
		if !emit(DirEntry{Name: e.node.Name, Cursor: e.ino, Attr: toAttributes(e.ino, &e.node)}) {
			break
		}
	}
	return nil
}

// Open counts a new handle on ino.
func (fs *FileSystem) Open(ino Inode) (Handle, error) {
	var h Handle
	err := fs.table.update(ino, func(*Node) error {
		h = fs.open.open(ino)
		return nil
	})
	if err != nil {
		return 0, newError(OpOpen, ino, "", err)
	}
	return h, nil
}

// Release drops a handle. When the last handle on the inode goes away any
// pending upload is finalized. Releasing a handle whose entry was removed
// succeeds.
func (fs *FileSystem) Release(ctx context.Context, h Handle) error {
	if remaining := fs.open.release(h); remaining > 0 {
		return nil
	}
	return fs.finalize(ctx, OpRelease, Inode(h))
}

// finalize detaches the pending upload of ino and closes it. A missing
// entry or an absent upload leaves nothing to finalize.
func (fs *FileSystem) finalize(ctx context.Context, op string, ino Inode) error {
	var stream *uploadStream
	err := fs.table.update(ino, func(node *Node) error {
		stream, node.upload = node.upload, nil
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		vfsLogger.Debug("No entry left to finalize for inode %d", ino)
		return nil
	}
	if err != nil {
		return newError(op, ino, "", err)
	}
	if stream == nil {
		return nil
	}
	if err := stream.Close(ctx); err != nil {
		return newError(op, ino, "", err)
	}
	return nil
}

// Unlink removes a non-directory entry.
func (fs *FileSystem) Unlink(parent Inode, name string) error {
	return fs.removeEntry(OpUnlink, parent, name, func(node *Node) error {
		if node.IsDir() {
			return ErrIsDirectory
		}
		return nil
	})
}

// RemoveDirectory removes an empty directory.
func (fs *FileSystem) RemoveDirectory(parent Inode, name string) error {
	return fs.removeEntry(OpRmdir, parent, name, func(node *Node) error {
		if !node.IsDir() {
			return ErrNotDirectory
		}
		return nil
	})
}

func (fs *FileSystem) removeEntry(op string, parent Inode, name string, check func(*Node) error) error {
	ino, node, err := fs.table.removeIfEmpty(parent, name, check)
	if err != nil {
		return newError(op, parent, name, err)
	}
	if node.upload != nil {
		node.upload.Discard()
	}
	if open := fs.open.count(ino); open > 0 {
		vfsLogger.Debug("Removed inode %d with %d open handles", ino, open)
	}
	vfsLogger.Debug("Removed %q (inode %d) from %d", name, ino, parent)
	return nil
}

// CheckAccess grants every request.
func (fs *FileSystem) CheckAccess(ino Inode, mask uint32, caller Caller) error {
	return nil
}

// Write appends data to the upload of the file behind h.
func (fs *FileSystem) Write(ctx context.Context, h Handle, offset int64, data []byte) (int, error) {
	ino := Inode(h)
	var stream *uploadStream
	err := fs.table.update(ino, func(node *Node) error {
		if node.IsDir() {
			return ErrIsDirectory
		}
		if node.upload == nil {
			node.upload = newUploadStream(fs.remote, fs.chunkSize, fs.commitUpload(ino, node))
		}
		stream = node.upload
		return nil
	})
	if err != nil {
		return 0, newError(OpWrite, ino, "", err)
	}

	n, err := stream.Write(ctx, offset, data)
	if err != nil {
		return n, newError(OpWrite, ino, "", err)
	}
	return n, nil
}

// commitUpload returns the callback that records a finalized upload on
// node, provided node is still the entry at ino.
func (fs *FileSystem) commitUpload(ino Inode, node *Node) commitFunc {
	return func(media vocaroo.Media, size int64) error {
		return fs.table.update(ino, func(current *Node) error {
			if current != node {
				return ErrNotFound
			}
			current.MediaID = media.ID
			current.OwnerToken = media.OwnerToken
			current.Size = uint64(size)
			return nil
		})
	}
}

// Flush is called on every close of a descriptor. With no other handle
// open on the inode it finalizes the pending upload, so a failed finalize
// reaches close(2). Otherwise it only uploads the buffered part.
func (fs *FileSystem) Flush(ctx context.Context, h Handle) error {
	ino := Inode(h)
	if fs.open.count(ino) <= 1 {
		return fs.finalize(ctx, OpFlush, ino)
	}
	return fs.drain(ctx, OpFlush, ino)
}

// Sync uploads the buffered part of a pending upload without finalizing it.
func (fs *FileSystem) Sync(ctx context.Context, h Handle) error {
	return fs.drain(ctx, OpFsync, Inode(h))
}

func (fs *FileSystem) drain(ctx context.Context, op string, ino Inode) error {
	var stream *uploadStream
	err := fs.table.update(ino, func(node *Node) error {
		stream = node.upload
		return nil
	})
	if err != nil {
		return newError(op, ino, "", err)
	}
	if stream == nil {
		return nil
	}
	if err := stream.Flush(ctx); err != nil {
		return newError(op, ino, "", err)
	}
	return nil
}

// Read downloads the content behind h and returns size bytes at offset.
func (fs *FileSystem) Read(ctx context.Context, h Handle, offset int64, size int) ([]byte, error) {
	ino := Inode(h)
	node, ok := fs.table.get(ino)
	if !ok {
		return nil, newError(OpRead, ino, "", ErrNotFound)
	}
	if node.IsDir() {
		return nil, newError(OpRead, ino, "", ErrIsDirectory)
	}

	data, err := download(ctx, fs.remote, node.MediaID)
	if err != nil {
		return nil, newError(OpRead, ino, "", err)
	}
	return sliceRange(data, offset, size), nil
}

// Len returns the number of live inodes, root included.
func (fs *FileSystem) Len() int {
	return fs.table.len()
}
