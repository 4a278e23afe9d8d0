// Package fs serves a vfs.Operations implementation over the kernel FUSE
// protocol using bazil.org/fuse.
package fs

import (
	"fmt"

	"vocafs/internal/logging"
	"vocafs/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fsLogger = logging.GetLogger().WithPrefix("fuse")
)

// VocaFS adapts vfs.Operations to bazil's node and handle interfaces.
type VocaFS struct {
	ops  vfs.Operations
	conn *fuse.Conn
}

// New wraps ops for serving.
func New(ops vfs.Operations) *VocaFS {
	return &VocaFS{ops: ops}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (v *VocaFS) Root() (fusefs.Node, error) {
	fsLogger.Trace("Getting root directory node")
	return Dir{fs: v, ino: vfs.RootInode}, nil
}

// MountOptions are the options passed to fuse.Mount.
func MountOptions() []fuse.MountOption {
	return []fuse.MountOption{
		fuse.FSName("vocafs"),
		fuse.Subtype("vocafs"),
		fuse.AsyncRead(),
	}
}

// Mount attaches the filesystem at mountPoint. Call Serve to start
// answering requests.
func (v *VocaFS) Mount(mountPoint string) error {
	fsLogger.Info("Mounting filesystem at %s", mountPoint)
	c, err := fuse.Mount(mountPoint, MountOptions()...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	v.conn = c
	return nil
}

// Serve answers requests until the filesystem is unmounted.
func (v *VocaFS) Serve() error {
	if v.conn == nil {
		return fmt.Errorf("filesystem is not mounted")
	}
	defer v.conn.Close()

	fsLogger.Debug("Starting FUSE server")
	if err := fusefs.Serve(v.conn, v); err != nil {
		return fmt.Errorf("serve failed: %w", err)
	}
	fsLogger.Debug("FUSE server stopped")
	return nil
}

// Unmount detaches the filesystem from mountPoint.
func (v *VocaFS) Unmount(mountPoint string) error {
	fsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if v.conn == nil {
		return nil
	}
	if err := fuse.Unmount(mountPoint); err != nil {
		fsLogger.Error("Unmount failed: %v", err)
		return err
	}
	fsLogger.Info("Unmount completed successfully")
	return nil
}
