package fs

import (
	"context"

	"vocafs/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = fsLogger.WithPrefix("file")
)

// File is a non-directory node.
type File struct {
	fs  *VocaFS
	ino vfs.Inode
}

// Attr implements the Node interface, returning the file's attributes.
func (f File) Attr(_ context.Context, a *fuse.Attr) (err error) {
	defer recoverRequest(vfs.OpGetattr, f.ino, &err)
	fileLogger.Trace("Getting attributes for file %d", f.ino)

	attrs, err := f.fs.ops.GetAttributes(f.ino)
	if err != nil {
		return ToFuseError(err)
	}
	fillAttr(a, attrs)
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (f File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	defer recoverRequest(vfs.OpSetattr, f.ino, &err)
	return setattr(f.fs, f.ino, req, resp)
}

// Open implements the NodeOpener interface.
func (f File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (h fusefs.Handle, err error) {
	defer recoverRequest(vfs.OpOpen, f.ino, &err)
	fileLogger.Debug("Opening file %d with flags %v", f.ino, req.Flags)

	handle, err := f.fs.ops.Open(f.ino)
	if err != nil {
		return nil, ToFuseError(err)
	}

	// Reads fetch remote content on every call; keep the page cache out
	resp.Flags |= fuse.OpenDirectIO

	return &FileHandle{fs: f.fs, handle: handle, ino: f.ino}, nil
}

// Access implements the NodeAccesser interface.
func (f File) Access(_ context.Context, req *fuse.AccessRequest) (err error) {
	defer recoverRequest("access", f.ino, &err)
	return ToFuseError(f.fs.ops.CheckAccess(f.ino, req.Mask, callerOf(req.Header)))
}

// Fsync implements the NodeFsyncer interface by uploading buffered data.
// The upload stays open.
func (f File) Fsync(ctx context.Context, req *fuse.FsyncRequest) (err error) {
	defer recoverRequest(vfs.OpFsync, f.ino, &err)
	return ToFuseError(f.fs.ops.Sync(ctx, vfs.Handle(f.ino)))
}

// FileHandle is an open file.
type FileHandle struct {
	fs     *VocaFS
	handle vfs.Handle
	ino    vfs.Inode
}

// Read implements the HandleReader interface.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) (err error) {
	defer recoverRequest(vfs.OpRead, fh.ino, &err)
	fileLogger.Trace("Reading %d bytes from file %d at offset %d", req.Size, fh.ino, req.Offset)

	data, err := fh.fs.ops.Read(ctx, fh.handle, req.Offset, req.Size)
	if err != nil {
		fileLogger.Warn("Read from %d failed: %v", fh.ino, err)
		return ToFuseError(err)
	}
	resp.Data = data
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) (err error) {
	defer recoverRequest(vfs.OpWrite, fh.ino, &err)
	fileLogger.Trace("Writing %d bytes to file %d at offset %d", len(req.Data), fh.ino, req.Offset)

	n, err := fh.fs.ops.Write(ctx, fh.handle, req.Offset, req.Data)
	if err != nil {
		fileLogger.Warn("Write to %d failed: %v", fh.ino, err)
		return ToFuseError(err)
	}
	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface. Closing the only open
// handle finalizes the upload, so close(2) sees a failed finalize.
func (fh *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) (err error) {
	defer recoverRequest(vfs.OpFlush, fh.ino, &err)

	if err := fh.fs.ops.Flush(ctx, fh.handle); err != nil {
		fileLogger.Error("Flush of %d failed: %v", fh.ino, err)
		return ToFuseError(err)
	}
	return nil
}

// Release implements the HandleReleaser interface. The last release of a
// written file finalizes its upload.
func (fh *FileHandle) Release(ctx context.Context, _ *fuse.ReleaseRequest) (err error) {
	defer recoverRequest(vfs.OpRelease, fh.ino, &err)
	fileLogger.Debug("Closing file %d", fh.ino)

	if err := fh.fs.ops.Release(ctx, fh.handle); err != nil {
		fileLogger.Error("Release of %d failed: %v", fh.ino, err)
		return ToFuseError(err)
	}
	return nil
}
