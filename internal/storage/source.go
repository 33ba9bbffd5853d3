package storage

import (
	"fmt"
	"io"
	"os"
)

// Source is an upload payload: a StreamSource, a BufferSource or a PathSource.
type Source interface {
	source()
}

// StreamSource is a reader with a known total size (-1 when unknown). If
// Reader is an io.ReadSeeker it is rewound between attempts; otherwise the
// Uploader stages it to a temporary file first.
type StreamSource struct {
	Reader io.Reader
	Size   int64
}

// BufferSource is an in-memory payload. It is never mutated by the Uploader.
type BufferSource struct {
	Data []byte
}

// PathSource is a file on local disk.
type PathSource struct {
	Path string
}

func (StreamSource) source() {}
func (BufferSource) source() {}
func (PathSource) source()   {}

// Reopener is implemented by sources that can be read again from byte 0.
// BufferSource deliberately does not implement it.
type Reopener interface {
	Reopen() (io.ReadCloser, int64, error)
}

// Reopen opens the file from the start and reports its current size.
func (s PathSource) Reopen() (io.ReadCloser, int64, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", s.Path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", s.Path, err)
	}
	return f, st.Size(), nil
}

func (s PathSource) validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	st, err := os.Stat(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidInput, s.Path)
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return f.Close()
}

// seekableStream rewinds a StreamSource whose reader supports seeking.
type seekableStream struct {
	rs   io.ReadSeeker
	size int64
}

func newSeekableStream(rs io.ReadSeeker, size int64) (*seekableStream, error) {
	if size < 0 {
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("%w: measure stream: %w", ErrInvalidInput, err)
		}
		size = end
	}
	return &seekableStream{rs: rs, size: size}, nil
}

func (s *seekableStream) Reopen() (io.ReadCloser, int64, error) {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewind stream: %w", err)
	}
	return io.NopCloser(s.rs), s.size, nil
}
