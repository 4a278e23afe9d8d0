package vfs

import (
	"time"
)

const (
	// EntryTimeout is how long the kernel may cache a name lookup.
	EntryTimeout = 300 * time.Second
	// AttrTimeout is how long the kernel may cache attributes.
	AttrTimeout = 300 * time.Second
	// BlockSize is the reported preferred I/O size.
	BlockSize = 512
)

// Attributes is the stat-like record reported for an inode.
type Attributes struct {
	Inode      Inode
	Generation uint64

	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	Mode      uint32
	Size      uint64
	Blocks    uint64
	BlockSize uint32
	Nlink     uint32

	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	UID  uint32
	GID  uint32
	Rdev uint32
}

// AttrUpdate names the attributes to change; nil fields are left alone.
type AttrUpdate struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attributes) IsDir() bool {
	n := Node{Mode: a.Mode}
	return n.IsDir()
}

// toAttributes translates a node into its attribute record. Blocks is
// always 1 regardless of size.
func toAttributes(ino Inode, node *Node) Attributes {
	return Attributes{
		Inode:        ino,
		Generation:   0,
		EntryTimeout: EntryTimeout,
		AttrTimeout:  AttrTimeout,
		Mode:         node.Mode,
		Size:         node.Size,
		Blocks:       1,
		BlockSize:    BlockSize,
		Nlink:        1,
		Atime:        time.Unix(0, node.Atime),
		Mtime:        time.Unix(0, node.Mtime),
		Ctime:        time.Unix(0, node.Ctime),
		UID:          node.UID,
		GID:          node.GID,
		Rdev:         node.Rdev,
	}
}

// applyUpdate copies the set fields of u into node. Size changes are
// ignored: content length is owned by the upload path.
func applyUpdate(node *Node, u AttrUpdate) (sizeIgnored bool) {
	if u.Size != nil {
		sizeIgnored = true
	}
	if u.Mode != nil {
		node.Mode = *u.Mode
	}
	if u.UID != nil {
		node.UID = *u.UID
	}
	if u.GID != nil {
		node.GID = *u.GID
	}
	if u.Ctime != nil {
		node.Ctime = u.Ctime.UnixNano()
	}
	if u.Mtime != nil {
		node.Mtime = u.Mtime.UnixNano()
	}
	if u.Atime != nil {
		node.Atime = u.Atime.UnixNano()
	}
	return sizeIgnored
}
