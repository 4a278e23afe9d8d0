// internal/fs/interfaces.go

package fs

import (
	"bazil.org/fuse/fs"
)

// Node represents a filesystem node (file or directory)
type Node interface {
	fs.Node
	fs.NodeSetattrer
	fs.NodeOpener
	fs.NodeAccesser
}

// Directory represents a directory node
type Directory interface {
	Node
	fs.NodeRequestLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeMknoder
	fs.NodeCreater
	fs.NodeRemover
}

// FileInterface represents a non-directory node
type FileInterface interface {
	Node
	fs.NodeFsyncer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleFlusher
	fs.HandleReleaser
}

var (
	_ fs.FS               = (*VocaFS)(nil)
	_ Directory           = Dir{}
	_ FileInterface       = File{}
	_ FileHandleInterface = (*FileHandle)(nil)
)
