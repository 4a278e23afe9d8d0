package fs

import (
	"context"

	"vocafs/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = fsLogger.WithPrefix("dir")
)

// readDirPage bounds how many entries are fetched per ReadDirectory call.
const readDirPage = 128

// Dir is a directory node. Two Dir values for the same inode are equal,
// so the server hands the kernel one node ID per directory.
type Dir struct {
	fs  *VocaFS
	ino vfs.Inode
}

// Attr implements the Node interface, returning directory attributes.
func (d Dir) Attr(_ context.Context, a *fuse.Attr) (err error) {
	defer recoverRequest(vfs.OpGetattr, d.ino, &err)
	dirLogger.Trace("Getting attributes for directory %d", d.ino)

	attrs, err := d.fs.ops.GetAttributes(d.ino)
	if err != nil {
		return ToFuseError(err)
	}
	fillAttr(a, attrs)
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (d Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	defer recoverRequest(vfs.OpSetattr, d.ino, &err)
	return setattr(d.fs, d.ino, req, resp)
}

// Lookup implements the NodeRequestLookuper interface, finding a child node.
func (d Dir) Lookup(_ context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (node fusefs.Node, err error) {
	defer recoverRequest(vfs.OpLookup, d.ino, &err)
	dirLogger.Debug("Looking up %q in directory %d", req.Name, d.ino)

	attrs, err := d.fs.ops.Lookup(d.ino, req.Name)
	if err != nil {
		dirLogger.Debug("Lookup of %q in %d failed: %v", req.Name, d.ino, err)
		return nil, ToFuseError(err)
	}

	resp.EntryValid = attrs.EntryTimeout
	resp.Generation = attrs.Generation
	fillAttr(&resp.Attr, attrs)
	return d.fs.node(attrs), nil
}

// Open implements the NodeOpener interface. The directory serves as its
// own handle.
func (d Dir) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (h fusefs.Handle, err error) {
	defer recoverRequest(vfs.OpOpendir, d.ino, &err)
	if _, err := d.fs.ops.OpenDirectory(d.ino); err != nil {
		return nil, ToFuseError(err)
	}
	return d, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing
// directory contents page by page.
func (d Dir) ReadDirAll(_ context.Context) (entries []fuse.Dirent, err error) {
	defer recoverRequest(vfs.OpReaddir, d.ino, &err)
	dirLogger.Debug("Reading directory contents: %d", d.ino)

	parent := d.ino
	if attrs, err := d.fs.ops.Lookup(d.ino, ".."); err == nil {
		parent = attrs.Inode
	}
	entries = append(entries,
		fuse.Dirent{Name: ".", Type: fuse.DT_Dir, Inode: uint64(d.ino)},
		fuse.Dirent{Name: "..", Type: fuse.DT_Dir, Inode: uint64(parent)},
	)

	var cursor vfs.Inode
	for {
		n := 0
		err := d.fs.ops.ReadDirectory(d.ino, cursor, func(e vfs.DirEntry) bool {
			if n == readDirPage {
				return false
			}
			entries = append(entries, fuse.Dirent{
				Inode: uint64(e.Attr.Inode),
				Type:  direntType(e.Attr.Mode),
				Name:  e.Name,
			})
			cursor = e.Cursor
			n++
			return true
		})
		if err != nil {
			return nil, ToFuseError(err)
		}
		if n < readDirPage {
			break
		}
	}

	dirLogger.Debug("Directory %d contains %d entries", d.ino, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (node fusefs.Node, err error) {
	defer recoverRequest(vfs.OpMkdir, d.ino, &err)
	dirLogger.Info("Creating new directory %q in %d", req.Name, d.ino)

	attrs, err := d.fs.ops.MakeDirectory(d.ino, req.Name, modeToUnix(req.Mode), callerOf(req.Header))
	if err != nil {
		dirLogger.Warn("Failed to create directory %q: %v", req.Name, err)
		return nil, ToFuseError(err)
	}
	return Dir{fs: d.fs, ino: attrs.Inode}, nil
}

// Mknod implements the NodeMknoder interface.
func (d Dir) Mknod(_ context.Context, req *fuse.MknodRequest) (node fusefs.Node, err error) {
	defer recoverRequest(vfs.OpMknod, d.ino, &err)
	dirLogger.Info("Creating node %q in %d (mode %v)", req.Name, d.ino, req.Mode)

	attrs, err := d.fs.ops.MakeNode(d.ino, req.Name, modeToUnix(req.Mode), req.Rdev, callerOf(req.Header))
	if err != nil {
		dirLogger.Warn("Failed to create node %q: %v", req.Name, err)
		return nil, ToFuseError(err)
	}
	return d.fs.node(attrs), nil
}

// Create implements the NodeCreater interface, creating and opening a
// regular file.
func (d Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (node fusefs.Node, h fusefs.Handle, err error) {
	defer recoverRequest(vfs.OpCreate, d.ino, &err)
	dirLogger.Info("Creating file %q in %d", req.Name, d.ino)

	handle, attrs, err := d.fs.ops.CreateFile(d.ino, req.Name, modeToUnix(req.Mode), callerOf(req.Header))
	if err != nil {
		dirLogger.Warn("Failed to create file %q: %v", req.Name, err)
		return nil, nil, ToFuseError(err)
	}

	resp.EntryValid = attrs.EntryTimeout
	resp.Generation = attrs.Generation
	fillAttr(&resp.Attr, attrs)
	resp.Flags |= fuse.OpenDirectIO

	return File{fs: d.fs, ino: attrs.Inode}, &FileHandle{fs: d.fs, handle: handle, ino: attrs.Inode}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d Dir) Remove(_ context.Context, req *fuse.RemoveRequest) (err error) {
	defer recoverRequest(vfs.OpUnlink, d.ino, &err)
	dirLogger.Info("Removing %q from directory %d (isDir=%v)", req.Name, d.ino, req.Dir)

	if req.Dir {
		err = d.fs.ops.RemoveDirectory(d.ino, req.Name)
	} else {
		err = d.fs.ops.Unlink(d.ino, req.Name)
	}
	if err != nil {
		dirLogger.Debug("Remove of %q failed: %v", req.Name, err)
		return ToFuseError(err)
	}
	return nil
}

// Access implements the NodeAccesser interface.
func (d Dir) Access(_ context.Context, req *fuse.AccessRequest) (err error) {
	defer recoverRequest("access", d.ino, &err)
	return ToFuseError(d.fs.ops.CheckAccess(d.ino, req.Mask, callerOf(req.Header)))
}

// node returns the node value for an entry.
func (v *VocaFS) node(attrs vfs.Attributes) fusefs.Node {
	if attrs.IsDir() {
		return Dir{fs: v, ino: attrs.Inode}
	}
	return File{fs: v, ino: attrs.Inode}
}

func setattr(v *VocaFS, ino vfs.Inode, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	fsLogger.Debug("Setting attributes on %d: %v", ino, req.Valid)
	attrs, err := v.ops.SetAttributes(ino, attrUpdate(req))
	if err != nil {
		return ToFuseError(err)
	}
	fillAttr(&resp.Attr, attrs)
	return nil
}
