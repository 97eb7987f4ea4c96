package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the number of audio bytes carried by one request.
const DefaultChunkSize = 4096

// ReadChunks reads r in chunks of size bytes and calls fn for each chunk in
// order. Every chunk is full except possibly the last. Each chunk is a fresh
// slice that fn may retain. An empty reader produces no calls.
func ReadChunks(ctx context.Context, r io.Reader, size int, fn func(chunk []byte) error) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read audio: %w", err)
		}
	}
}
