package taskstream

import (
	"context"
	"fmt"
	"io"
)

// DefaultChunkSize matches the upload granularity of the original client.
const DefaultChunkSize = 16384

// Chunk is a bounded contiguous slice of a byte source together with its
// absolute offset. Data is only valid for the duration of the callback.
type Chunk struct {
	Data   []byte
	Offset int64
}

// ChunkFunc consumes one chunk. Returning an error stops the stream.
type ChunkFunc func(ctx context.Context, chunk Chunk) error

// Chunker slices a byte source into fixed-size chunks covering it exactly
// once, in order. All chunks except the last are exactly Size bytes; the
// last covers the remainder and may be shorter. Offsets start at zero and
// are contiguous.
//
// The callback is awaited before the next read is issued, which bounds
// memory to one read plus at most one pending chunk and gives the caller
// backpressure for free. There are no retries; a failed callback leaves
// recovery to the caller.
type Chunker struct {
	// Size is the chunk size in bytes. Must be positive.
	Size int
	// ReadSize is the granularity of reads from the source.
	// Defaults to Size.
	ReadSize int
}

// NewChunker returns a Chunker emitting chunks of the given size.
func NewChunker(size int) *Chunker {
	return &Chunker{Size: size}
}

// Run streams r through fn until the source is exhausted or the first
// error. The context is observed between reads and before every callback.
func (c *Chunker) Run(ctx context.Context, r io.Reader, fn ChunkFunc) error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	readSize := c.ReadSize
	if readSize <= 0 {
		readSize = c.Size
	}

	// buf[start:] holds bytes read but not yet emitted. The cursor
	// advances through the flush loop and pending bytes are compacted to
	// the front only before the next read, so no per-read reallocation
	// happens.
	buf := make([]byte, 0, c.Size+readSize)
	start := 0
	read := make([]byte, readSize)
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(read)
		if n > 0 {
			if start > 0 {
				buf = buf[:copy(buf, buf[start:])]
				start = 0
			}
			buf = append(buf, read[:n]...)
		}

		for len(buf)-start >= c.Size {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk := Chunk{Data: buf[start : start+c.Size], Offset: offset}
			if err := fn(ctx, chunk); err != nil {
				return err
			}
			start += c.Size
			offset += int64(c.Size)
		}

		if readErr != nil {
			if readErr != io.EOF {
				return readErr
			}
			break
		}
	}

	if rem := len(buf) - start; rem > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, Chunk{Data: buf[start:], Offset: offset})
	}
	return nil
}
