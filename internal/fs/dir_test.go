package fs

import (
	"context"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"vocafs/internal/vfs"
	"vocafs/internal/vocaroo"
	"vocafs/internal/vocaroo/vocarootest"

	"bazil.org/fuse"
)

var testHeader = fuse.Header{Uid: 1000, Gid: 100}

func setupTestFS(t *testing.T, chunkSize int) (*VocaFS, *vocarootest.Server) {
	t.Helper()
	srv := vocarootest.NewServer(t)
	client, err := vocaroo.NewClient(vocaroo.Config{
		UploadURL:   srv.UploadURL(),
		DownloadURL: srv.DownloadURL(),
		UserAgent:   "vocafs-test",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ops := vfs.New(vfs.Options{
		Remote:    client,
		ChunkSize: chunkSize,
		RootUID:   1000,
		RootGID:   100,
	})
	return New(ops), srv
}

func rootDir(t *testing.T, v *VocaFS) Dir {
	t.Helper()
	root, err := v.Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	return root.(Dir)
}

func lookup(ctx context.Context, d Dir, name string) (interface{}, *fuse.LookupResponse, error) {
	resp := &fuse.LookupResponse{}
	node, err := d.Lookup(ctx, &fuse.LookupRequest{Name: name}, resp)
	return node, resp, err
}

func TestDirOperations(t *testing.T) {
	v, _ := setupTestFS(t, 1000)
	ctx := context.Background()
	root := rootDir(t, v)

	t.Run("RootDirectory", func(t *testing.T) {
		var attr fuse.Attr
		if err := root.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get root attributes: %v", err)
		}
		if !attr.Mode.IsDir() {
			t.Error("Root should be a directory")
		}
		if attr.Inode != uint64(vfs.RootInode) {
			t.Errorf("Expected root inode 1, got %d", attr.Inode)
		}
		if attr.Uid != 1000 || attr.Gid != 100 {
			t.Errorf("Expected root owner 1000:100, got %d:%d", attr.Uid, attr.Gid)
		}
		if attr.Valid != 300*time.Second {
			t.Errorf("Expected attribute timeout 300s, got %s", attr.Valid)
		}
		if attr.BlockSize != 512 || attr.Blocks != 1 {
			t.Errorf("Expected blksize 512 and 1 block, got %d and %d", attr.BlockSize, attr.Blocks)
		}
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: testHeader, Name: "albums", Mode: os.ModeDir | 0750})
		if err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		dir, ok := node.(Dir)
		if !ok {
			t.Fatalf("Expected Dir node, got %T", node)
		}

		var attr fuse.Attr
		if err := dir.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get attributes: %v", err)
		}
		if attr.Mode != os.ModeDir|0750 {
			t.Errorf("Expected mode %v, got %v", os.ModeDir|0750, attr.Mode)
		}
		if attr.Uid != testHeader.Uid || attr.Gid != testHeader.Gid {
			t.Errorf("Directory should belong to the caller, got %d:%d", attr.Uid, attr.Gid)
		}

		found, resp, err := lookup(ctx, root, "albums")
		if err != nil {
			t.Fatalf("Failed to look up new directory: %v", err)
		}
		if found != node {
			t.Error("Lookup should return the same node value as Mkdir")
		}
		if resp.EntryValid != 300*time.Second {
			t.Errorf("Expected entry timeout 300s, got %s", resp.EntryValid)
		}
	})

	t.Run("DuplicateName", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: testHeader, Name: "albums", Mode: os.ModeDir | 0755})
		if err != fuse.Errno(syscall.EEXIST) {
			t.Errorf("Expected EEXIST, got %v", err)
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		_, _, err := lookup(ctx, root, "nonexistent")
		if err != fuse.Errno(syscall.ENOENT) {
			t.Errorf("Expected ENOENT, got %v", err)
		}
	})

	t.Run("DotEntries", func(t *testing.T) {
		node, _, err := lookup(ctx, root, "albums")
		if err != nil {
			t.Fatalf("Failed to look up directory: %v", err)
		}
		dir := node.(Dir)

		self, _, err := lookup(ctx, dir, ".")
		if err != nil || self != dir {
			t.Errorf("Lookup of \".\" = %v, %v; want the directory itself", self, err)
		}
		parent, _, err := lookup(ctx, dir, "..")
		if err != nil || parent != root {
			t.Errorf("Lookup of \"..\" = %v, %v; want root", parent, err)
		}
	})

	t.Run("SpecialNode", func(t *testing.T) {
		node, err := root.Mknod(ctx, &fuse.MknodRequest{Header: testHeader, Name: "pipe", Mode: os.ModeNamedPipe | 0600})
		if err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}
		var attr fuse.Attr
		if err := node.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get attributes: %v", err)
		}
		if attr.Mode&os.ModeNamedPipe == 0 {
			t.Errorf("Expected named pipe, got %v", attr.Mode)
		}
	})

	t.Run("ListDirectory", func(t *testing.T) {
		entries, err := root.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read directory: %v", err)
		}

		want := map[string]fuse.DirentType{
			".":      fuse.DT_Dir,
			"..":     fuse.DT_Dir,
			"albums": fuse.DT_Dir,
			"pipe":   fuse.DT_FIFO,
		}
		if len(entries) != len(want) {
			t.Errorf("Expected %d entries, got %d: %v", len(want), len(entries), entries)
		}
		for _, e := range entries {
			typ, ok := want[e.Name]
			if !ok {
				t.Errorf("Unexpected entry %q", e.Name)
				continue
			}
			if e.Type != typ {
				t.Errorf("Entry %q has type %v, want %v", e.Name, e.Type, typ)
			}
		}
	})

	t.Run("RemoveNonEmpty", func(t *testing.T) {
		node, _, _ := lookup(ctx, root, "albums")
		dir := node.(Dir)
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Header: testHeader, Name: "inner", Mode: os.ModeDir | 0755}); err != nil {
			t.Fatalf("Failed to create nested directory: %v", err)
		}

		err := root.Remove(ctx, &fuse.RemoveRequest{Name: "albums", Dir: true})
		if err != fuse.Errno(syscall.ENOTEMPTY) {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}

		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "inner", Dir: true}); err != nil {
			t.Fatalf("Failed to remove nested directory: %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "albums", Dir: true}); err != nil {
			t.Errorf("Failed to remove empty directory: %v", err)
		}
		if _, _, err := lookup(ctx, root, "albums"); err != fuse.Errno(syscall.ENOENT) {
			t.Errorf("Removed directory should be gone, got %v", err)
		}
	})

	t.Run("RemoveWrongType", func(t *testing.T) {
		if _, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: testHeader, Name: "d", Mode: os.ModeDir | 0755}); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "d"}); err != fuse.Errno(syscall.EISDIR) {
			t.Errorf("Expected EISDIR, got %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "pipe", Dir: true}); err != fuse.Errno(syscall.ENOTDIR) {
			t.Errorf("Expected ENOTDIR, got %v", err)
		}
	})

	t.Run("Setattr", func(t *testing.T) {
		resp := &fuse.SetattrResponse{}
		req := &fuse.SetattrRequest{
			Valid: fuse.SetattrMode | fuse.SetattrUid,
			Mode:  os.ModeDir | 0700,
			Uid:   42,
		}
		if err := root.Setattr(ctx, req, resp); err != nil {
			t.Fatalf("Setattr failed: %v", err)
		}
		if resp.Attr.Mode != os.ModeDir|0700 {
			t.Errorf("Expected mode %v, got %v", os.ModeDir|0700, resp.Attr.Mode)
		}
		if resp.Attr.Uid != 42 || resp.Attr.Gid != 100 {
			t.Errorf("Expected owner 42:100, got %d:%d", resp.Attr.Uid, resp.Attr.Gid)
		}
	})

	t.Run("Access", func(t *testing.T) {
		if err := root.Access(ctx, &fuse.AccessRequest{Header: fuse.Header{Uid: 9999}, Mask: 7}); err != nil {
			t.Errorf("Access should always be granted, got %v", err)
		}
	})
}

func TestReadDirAllPaginates(t *testing.T) {
	v, _ := setupTestFS(t, 1000)
	ctx := context.Background()
	root := rootDir(t, v)

	const count = readDirPage*2 + 3
	for i := 0; i < count; i++ {
		name := "track" + strconv.Itoa(i)
		if _, err := root.Mknod(ctx, &fuse.MknodRequest{Header: testHeader, Name: name, Mode: 0644}); err != nil {
			t.Fatalf("Failed to create entry %d: %v", i, err)
		}
	}

	entries, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read directory: %v", err)
	}
	if len(entries) != count+2 {
		t.Fatalf("Expected %d entries, got %d", count+2, len(entries))
	}

	seen := make(map[uint64]bool)
	for _, e := range entries[2:] {
		if seen[e.Inode] {
			t.Errorf("Inode %d listed twice", e.Inode)
		}
		seen[e.Inode] = true
		if e.Type != fuse.DT_File {
			t.Errorf("Entry %q should be a regular file, got %v", e.Name, e.Type)
		}
	}
}

type panicOps struct {
	vfs.Operations
}

func TestRequestPanicBecomesEIO(t *testing.T) {
	v := New(panicOps{})
	ctx := context.Background()
	root := rootDir(t, v)

	var attr fuse.Attr
	if err := root.Attr(ctx, &attr); err != fuse.Errno(syscall.EIO) {
		t.Errorf("Expected EIO from a panicking handler, got %v", err)
	}
	if _, err := root.ReadDirAll(ctx); err != fuse.Errno(syscall.EIO) {
		t.Errorf("Expected EIO from a panicking handler, got %v", err)
	}
}
