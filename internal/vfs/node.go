package vfs

import (
	"golang.org/x/sys/unix"
)

// Inode numbers an entry in the table.
type Inode uint64

// Handle identifies an open file or directory. It equals the inode number.
type Handle uint64

const (
	// RootInode is the fixed inode of the mount root.
	RootInode Inode = 1

	// MaxInodes bounds inode numbers; allocation draws from [1, MaxInodes).
	MaxInodes Inode = 65535

	// noParent is the parent of the root.
	noParent Inode = 0
)

// Caller is the principal issuing a request.
type Caller struct {
	UID uint32
	GID uint32
}

// Node is the metadata record for one filesystem entry.
type Node struct {
	Parent Inode  // containing directory; noParent only for the root
	Mode   uint32 // POSIX file type and permission bits
	Size   uint64 // uploaded length; 0 until an upload finalizes

	// Timestamps in nanoseconds since the epoch
	Ctime int64
	Mtime int64
	Atime int64

	UID  uint32
	GID  uint32
	Rdev uint32

	// Target is reserved for symlink targets and always empty.
	Target string
	Name   string

	// Remote identity, set when an upload finalizes
	MediaID    string
	OwnerToken string

	upload *uploadStream
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Mode&unix.S_IFMT == unix.S_IFDIR
}

// withType returns mode with its file type bits replaced by fileType when
// mode carries no type, or forced when force is set.
func withType(mode uint32, fileType uint32, force bool) uint32 {
	if force || mode&unix.S_IFMT == 0 {
		return fileType | mode&^unix.S_IFMT
	}
	return mode
}
