package vfs

import (
	"bytes"
	"context"

	"vocafs/internal/vocaroo"
)

// download fetches the whole object for mediaID and strips the format
// marker. Nothing is cached: every call fetches the object again.
func download(ctx context.Context, remote Remote, mediaID string) ([]byte, error) {
	if mediaID == "" {
		return nil, ErrNotFound
	}
	body, err := remote.Download(ctx, mediaID)
	if err != nil {
		return nil, remoteError(err)
	}

	markerLen := len(vocaroo.FormatMarker)
	if len(body) < markerLen {
		return []byte{}, nil
	}
	if !bytes.Equal(body[:markerLen], vocaroo.FormatMarker) {
		downloadLogger.Debug("Media %s does not start with the format marker", mediaID)
	}
	return body[markerLen:], nil
}

// sliceRange returns the part of data covering [offset, offset+size).
func sliceRange(data []byte, offset int64, size int) []byte {
	if offset < 0 || offset >= int64(len(data)) {
		return []byte{}
	}
	end := offset + int64(size)
	if size < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}
