package fs

import (
	"os"
	"time"

	"vocafs/internal/vfs"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// modeToUnix converts an os.FileMode from a request to POSIX mode bits.
func modeToUnix(mode os.FileMode) uint32 {
	perm := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		perm |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		perm |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		perm |= unix.S_ISVTX
	}

	switch {
	case mode&os.ModeDir != 0:
		return perm | unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		return perm | unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		return perm | unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		return perm | unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		return perm | unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		return perm | unix.S_IFBLK
	case mode&os.ModeType == 0:
		return perm | unix.S_IFREG
	}
	return perm
}

// unixToMode converts POSIX mode bits to an os.FileMode.
func unixToMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}

	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		m |= os.ModeDevice
	}
	return m
}

// direntType maps POSIX file type bits to a directory entry type.
func direntType(mode uint32) fuse.DirentType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return fuse.DT_Dir
	case unix.S_IFLNK:
		return fuse.DT_Link
	case unix.S_IFIFO:
		return fuse.DT_FIFO
	case unix.S_IFSOCK:
		return fuse.DT_Socket
	case unix.S_IFCHR:
		return fuse.DT_Char
	case unix.S_IFBLK:
		return fuse.DT_Block
	case unix.S_IFREG:
		return fuse.DT_File
	}
	return fuse.DT_Unknown
}

// fillAttr copies attrs into the kernel attribute record.
func fillAttr(a *fuse.Attr, attrs vfs.Attributes) {
	a.Valid = attrs.AttrTimeout
	a.Inode = uint64(attrs.Inode)
	a.Size = attrs.Size
	a.Blocks = attrs.Blocks
	a.Atime = attrs.Atime
	a.Mtime = attrs.Mtime
	a.Ctime = attrs.Ctime
	a.Mode = unixToMode(attrs.Mode)
	a.Nlink = attrs.Nlink
	a.Uid = attrs.UID
	a.Gid = attrs.GID
	a.Rdev = attrs.Rdev
	a.BlockSize = attrs.BlockSize
}

// attrUpdate collects the fields a setattr request asks to change.
func attrUpdate(req *fuse.SetattrRequest) vfs.AttrUpdate {
	var u vfs.AttrUpdate
	if req.Valid.Mode() {
		mode := modeToUnix(req.Mode)
		u.Mode = &mode
	}
	if req.Valid.Uid() {
		uid := req.Uid
		u.UID = &uid
	}
	if req.Valid.Gid() {
		gid := req.Gid
		u.GID = &gid
	}
	if req.Valid.Size() {
		size := req.Size
		u.Size = &size
	}
	if req.Valid.Atime() || req.Valid.AtimeNow() {
		atime := req.Atime
		if req.Valid.AtimeNow() {
			atime = time.Now()
		}
		u.Atime = &atime
	}
	if req.Valid.Mtime() || req.Valid.MtimeNow() {
		mtime := req.Mtime
		if req.Valid.MtimeNow() {
			mtime = time.Now()
		}
		u.Mtime = &mtime
	}
	return u
}

func callerOf(h fuse.Header) vfs.Caller {
	return vfs.Caller{UID: h.Uid, GID: h.Gid}
}
