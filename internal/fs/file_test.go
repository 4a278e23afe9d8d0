package fs

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"syscall"
	"testing"

	"vocafs/internal/vocaroo"

	"bazil.org/fuse"
)

func createFile(t *testing.T, ctx context.Context, d Dir, name string) (File, *FileHandle) {
	t.Helper()
	node, handle, err := d.Create(ctx, &fuse.CreateRequest{Header: testHeader, Name: name, Mode: 0644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Failed to create %q: %v", name, err)
	}
	return node.(File), handle.(*FileHandle)
}

func writeAll(t *testing.T, ctx context.Context, fh *FileHandle, data []byte, piece int) {
	t.Helper()
	for off := 0; off < len(data); off += piece {
		end := off + piece
		if end > len(data) {
			end = len(data)
		}
		resp := &fuse.WriteResponse{}
		if err := fh.Write(ctx, &fuse.WriteRequest{Offset: int64(off), Data: data[off:end]}, resp); err != nil {
			t.Fatalf("Write at %d failed: %v", off, err)
		}
		if resp.Size != end-off {
			t.Fatalf("Write at %d reported %d bytes, want %d", off, resp.Size, end-off)
		}
	}
}

func TestFileOperations(t *testing.T) {
	v, srv := setupTestFS(t, 256)
	ctx := context.Background()
	root := rootDir(t, v)

	payload := bytes.Repeat([]byte("vocafs!"), 100) // 700 bytes, three chunks

	t.Run("CreateWriteRelease", func(t *testing.T) {
		resp := &fuse.CreateResponse{}
		node, handle, err := root.Create(ctx, &fuse.CreateRequest{Header: testHeader, Name: "take1.mp3", Mode: 0644}, resp)
		if err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if resp.Flags&fuse.OpenDirectIO == 0 {
			t.Error("Create should request direct I/O")
		}
		if resp.Attr.Mode != 0644 {
			t.Errorf("Expected mode 0644, got %v", resp.Attr.Mode)
		}
		fh := handle.(*FileHandle)

		writeAll(t, ctx, fh, payload, 100)
		if err := node.(File).Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
			t.Fatalf("Fsync failed: %v", err)
		}

		var attr fuse.Attr
		if err := node.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get attributes: %v", err)
		}
		if attr.Size != 0 {
			t.Errorf("Size should be 0 before the upload finalizes, got %d", attr.Size)
		}

		if err := fh.Flush(ctx, &fuse.FlushRequest{}); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := node.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get attributes: %v", err)
		}
		if attr.Size != uint64(len(payload)) {
			t.Errorf("Expected size %d after closing the only handle, got %d", len(payload), attr.Size)
		}

		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if srv.AliveCount() != 1 {
			t.Errorf("Expected one liveness probe, got %d", srv.AliveCount())
		}

		chunks := srv.Chunks()
		if len(chunks) != 3 {
			t.Fatalf("Expected 3 chunks, got %d", len(chunks))
		}
		if !bytes.HasPrefix(chunks[0].Data, vocaroo.FormatMarker) {
			t.Error("First chunk should carry the format marker")
		}
	})

	t.Run("ReadBack", func(t *testing.T) {
		node, _, err := lookup(ctx, root, "take1.mp3")
		if err != nil {
			t.Fatalf("Failed to look up file: %v", err)
		}
		file := node.(File)

		openResp := &fuse.OpenResponse{}
		handle, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, openResp)
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		if openResp.Flags&fuse.OpenDirectIO == 0 {
			t.Error("Open should request direct I/O")
		}
		fh := handle.(*FileHandle)
		defer fh.Release(ctx, &fuse.ReleaseRequest{})

		resp := &fuse.ReadResponse{}
		if err := fh.Read(ctx, &fuse.ReadRequest{Size: len(payload) + 50}, resp); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !bytes.Equal(resp.Data, payload) {
			t.Errorf("Read returned %d bytes that do not match the written payload", len(resp.Data))
		}

		resp = &fuse.ReadResponse{}
		if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 7, Size: 7}, resp); err != nil {
			t.Fatalf("Ranged read failed: %v", err)
		}
		if string(resp.Data) != "vocafs!" {
			t.Errorf("Expected %q, got %q", "vocafs!", resp.Data)
		}
	})

	t.Run("ReadBeforeUpload", func(t *testing.T) {
		_, fh := createFile(t, ctx, root, "blank.mp3")
		defer fh.Release(ctx, &fuse.ReleaseRequest{})

		err := fh.Read(ctx, &fuse.ReadRequest{Size: 10}, &fuse.ReadResponse{})
		if err != fuse.Errno(syscall.ENOENT) {
			t.Errorf("Expected ENOENT for a file without content, got %v", err)
		}
	})

	t.Run("NonSequentialWrite", func(t *testing.T) {
		_, fh := createFile(t, ctx, root, "seek.mp3")
		defer fh.Release(ctx, &fuse.ReleaseRequest{})

		err := fh.Write(ctx, &fuse.WriteRequest{Offset: 100, Data: []byte("x")}, &fuse.WriteResponse{})
		if err != fuse.Errno(syscall.EINVAL) {
			t.Errorf("Expected EINVAL, got %v", err)
		}
	})

	t.Run("Fsync", func(t *testing.T) {
		file, fh := createFile(t, ctx, root, "synced.mp3")
		before := len(srv.Chunks())
		writeAll(t, ctx, fh, []byte("short"), 5)

		if err := file.Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
			t.Fatalf("Fsync failed: %v", err)
		}
		if got := len(srv.Chunks()); got != before+1 {
			t.Errorf("Fsync should upload the buffered chunk, got %d new chunks", got-before)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})

	t.Run("Setattr", func(t *testing.T) {
		node, _, err := lookup(ctx, root, "take1.mp3")
		if err != nil {
			t.Fatalf("Failed to look up file: %v", err)
		}
		file := node.(File)

		resp := &fuse.SetattrResponse{}
		req := &fuse.SetattrRequest{
			Valid: fuse.SetattrMode | fuse.SetattrSize,
			Mode:  0600,
			Size:  1,
		}
		if err := file.Setattr(ctx, req, resp); err != nil {
			t.Fatalf("Setattr failed: %v", err)
		}
		if resp.Attr.Mode != os.FileMode(0600) {
			t.Errorf("Expected mode 0600, got %v", resp.Attr.Mode)
		}
		if resp.Attr.Size != uint64(len(payload)) {
			t.Errorf("Size changes should be ignored, got %d", resp.Attr.Size)
		}
	})
}

func TestRemoteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("ChunkUpload", func(t *testing.T) {
		v, srv := setupTestFS(t, 16)
		root := rootDir(t, v)
		srv.FailChunks(http.StatusInternalServerError)

		_, fh := createFile(t, ctx, root, "a.mp3")
		err := fh.Write(ctx, &fuse.WriteRequest{Data: bytes.Repeat([]byte("x"), 64)}, &fuse.WriteResponse{})
		if err != fuse.Errno(syscall.EIO) {
			t.Errorf("Expected EIO, got %v", err)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != fuse.Errno(syscall.EIO) {
			t.Errorf("Release should report the failed upload, got %v", err)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		v, srv := setupTestFS(t, 1000)
		root := rootDir(t, v)
		srv.RejectFinalize(1)

		file, fh := createFile(t, ctx, root, "b.mp3")
		writeAll(t, ctx, fh, []byte("content"), 7)
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != fuse.Errno(syscall.EIO) {
			t.Errorf("Expected EIO, got %v", err)
		}

		var attr fuse.Attr
		if err := file.Attr(ctx, &attr); err != nil {
			t.Fatalf("Failed to get attributes: %v", err)
		}
		if attr.Size != 0 {
			t.Errorf("Rejected upload must leave size 0, got %d", attr.Size)
		}
	})

	t.Run("FinalizeOnFlush", func(t *testing.T) {
		v, srv := setupTestFS(t, 1000)
		root := rootDir(t, v)
		srv.RejectFinalize(2)

		_, fh := createFile(t, ctx, root, "d.mp3")
		writeAll(t, ctx, fh, []byte("content"), 7)
		if err := fh.Flush(ctx, &fuse.FlushRequest{}); err != fuse.Errno(syscall.EIO) {
			t.Errorf("Flush should report the rejected finalize, got %v", err)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Errorf("Release after a reported failure should succeed, got %v", err)
		}
	})

	t.Run("Download", func(t *testing.T) {
		v, srv := setupTestFS(t, 1000)
		root := rootDir(t, v)

		_, fh := createFile(t, ctx, root, "c.mp3")
		writeAll(t, ctx, fh, []byte("content"), 7)
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		srv.FailDownload(http.StatusServiceUnavailable)
		node, _, err := lookup(ctx, root, "c.mp3")
		if err != nil {
			t.Fatalf("Failed to look up file: %v", err)
		}
		handle, err := node.(File).Open(ctx, &fuse.OpenRequest{}, &fuse.OpenResponse{})
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		rfh := handle.(*FileHandle)
		defer rfh.Release(ctx, &fuse.ReleaseRequest{})

		if err := rfh.Read(ctx, &fuse.ReadRequest{Size: 7}, &fuse.ReadResponse{}); err != fuse.Errno(syscall.EIO) {
			t.Errorf("Expected EIO, got %v", err)
		}
	})
}

func TestToFuseError(t *testing.T) {
	if ToFuseError(nil) != nil {
		t.Error("nil should map to nil")
	}
	if err := ToFuseError(os.ErrClosed); err != fuse.Errno(syscall.EIO) {
		t.Errorf("Unknown errors should map to EIO, got %v", err)
	}
}
