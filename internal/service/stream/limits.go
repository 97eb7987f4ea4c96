package stream

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidRequest is returned for a request that cannot be streamed.
var ErrInvalidRequest = errors.New("invalid stream request")

// Stream limit violations. Both wrap ErrLimitExceeded.
var (
	ErrLimitExceeded = errors.New("stream limit exceeded")
	ErrAudioTooLarge = fmt.Errorf("%w: max audio bytes", ErrLimitExceeded)
	ErrStreamTooLong = fmt.Errorf("%w: max duration", ErrLimitExceeded)
)

// limitedReader fails once more than max bytes were read. max <= 0 disables
// the limit. Close closes the source the reader was built on, if it has one.
type limitedReader struct {
	r      io.Reader
	closer io.Closer
	max    int64
	n      int64
}

func newLimitedReader(r, source io.Reader, limit int64) *limitedReader {
	lr := &limitedReader{r: r, max: limit}
	if c, ok := source.(io.Closer); ok {
		lr.closer = c
	}
	return lr
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.max > 0 && l.n > l.max {
		return 0, fmt.Errorf("%w: %d > %d", ErrAudioTooLarge, l.n, l.max)
	}
	return n, err
}

func (l *limitedReader) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
