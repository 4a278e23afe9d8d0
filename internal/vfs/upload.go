package vfs

import (
	"context"
	"fmt"
	"sync"

	"vocafs/internal/vocaroo"
)

// Remote is the remote audio service used by the upload and download paths.
type Remote interface {
	Alive(ctx context.Context) error
	UploadChunk(ctx context.Context, token string, index int, chunk []byte) error
	Finalize(ctx context.Context, token string) (vocaroo.Media, error)
	Download(ctx context.Context, mediaID string) ([]byte, error)
}

type uploadState int

const (
	uploadIdle uploadState = iota
	uploadSession
	uploadStreaming
	uploadFinalized
	uploadFailed
	uploadDiscarded
)

var uploadStateNames = map[uploadState]string{
	uploadIdle:      "idle",
	uploadSession:   "session-established",
	uploadStreaming: "streaming",
	uploadFinalized: "finalized",
	uploadFailed:    "failed",
	uploadDiscarded: "discarded",
}

func (s uploadState) String() string {
	return uploadStateNames[s]
}

// commitFunc records a finalized upload on the owning node.
type commitFunc func(media vocaroo.Media, size int64) error

// uploadStream turns sequential writes into chunk uploads followed by a
// finalize call. Every stream ends finalized, failed or discarded.
type uploadStream struct {
	mu sync.Mutex

	remote    Remote
	chunkSize int
	commit    commitFunc
	newToken  func() (string, error)

	state   uploadState
	token   string
	buf     []byte
	chunk   int
	written int64
	err     error
}

func newUploadStream(remote Remote, chunkSize int, commit commitFunc) *uploadStream {
	buf := make([]byte, 0, chunkSize+len(vocaroo.FormatMarker))
	return &uploadStream{
		remote:    remote,
		chunkSize: chunkSize,
		commit:    commit,
		newToken:  vocaroo.NewSessionToken,
		buf:       append(buf, vocaroo.FormatMarker...),
	}
}

// Write appends p, which must start at the current end of the stream.
func (s *uploadStream) Write(ctx context.Context, offset int64, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case uploadFinalized, uploadDiscarded:
		return 0, ErrInvalidState
	case uploadFailed:
		return 0, fmt.Errorf("%w: %w", ErrInvalidState, s.err)
	}
	if offset != s.written {
		return 0, fmt.Errorf("%w: write at offset %d, stream is at %d", ErrInvalidArgument, offset, s.written)
	}

	if s.state == uploadIdle {
		if err := s.remote.Alive(ctx); err != nil {
			return 0, s.fail(remoteError(err))
		}
		token, err := s.newToken()
		if err != nil {
			return 0, s.fail(err)
		}
		s.token = token
		s.state = uploadSession
		uploadLogger.Debug("Started upload session %s", s.token)
	}

	s.buf = append(s.buf, p...)
	for len(s.buf) > s.chunkSize {
		if err := s.uploadChunk(ctx, s.buf[:s.chunkSize]); err != nil {
			return 0, err
		}
		s.buf = s.buf[s.chunkSize:]
	}
	s.written += int64(len(p))
	return len(p), nil
}

// Flush uploads everything still buffered, ending with a partial chunk.
func (s *uploadStream) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *uploadStream) flushLocked(ctx context.Context) error {
	switch s.state {
	case uploadIdle:
		return nil
	case uploadFinalized, uploadDiscarded:
		return ErrInvalidState
	case uploadFailed:
		return s.err
	}
	for len(s.buf) > 0 {
		n := len(s.buf)
		if n > s.chunkSize {
			n = s.chunkSize
		}
		if err := s.uploadChunk(ctx, s.buf[:n]); err != nil {
			return err
		}
		s.buf = s.buf[n:]
	}
	return nil
}

// Close drains the buffer, finalizes the session and commits the result.
// A stream that never received a write is discarded instead. Closing a
// finalized or discarded stream is a no-op.
func (s *uploadStream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case uploadFinalized, uploadDiscarded:
		return nil
	case uploadFailed:
		return s.err
	case uploadIdle:
		s.discardLocked()
		return nil
	}

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	media, err := s.remote.Finalize(ctx, s.token)
	if err != nil {
		return s.fail(remoteError(err))
	}
	if err := s.commit(media, s.written); err != nil {
		return s.fail(err)
	}

	s.state = uploadFinalized
	s.buf = nil
	uploadLogger.Info("Upload session %s finalized as media %s (%d bytes, %d chunks)",
		s.token, media.ID, s.written, s.chunk)
	return nil
}

// Discard abandons the stream without finalizing it.
func (s *uploadStream) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == uploadFinalized {
		return
	}
	s.discardLocked()
}

func (s *uploadStream) discardLocked() {
	if s.state != uploadIdle {
		uploadLogger.Debug("Discarding upload session %s in state %s", s.token, s.state)
	}
	s.state = uploadDiscarded
	s.buf = nil
}

func (s *uploadStream) uploadChunk(ctx context.Context, chunk []byte) error {
	if err := s.remote.UploadChunk(ctx, s.token, s.chunk, chunk); err != nil {
		return s.fail(remoteError(err))
	}
	s.chunk++
	s.state = uploadStreaming
	return nil
}

func (s *uploadStream) fail(err error) error {
	uploadLogger.Error("Upload session %s failed in state %s: %v", s.token, s.state, err)
	s.state = uploadFailed
	s.err = err
	s.buf = nil
	return err
}

// State returns the current state, for logging and tests.
func (s *uploadStream) State() uploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
