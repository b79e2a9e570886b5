package taskstream

import (
	"context"
	"encoding/base64"
	"io"

	"github.com/go-json-experiment/json"
)

// Uploader pushes a local byte source into the object store through the
// short task protocol, one bounded chunk per request. Chunks are sent
// strictly in order and each one is acknowledged before the next read,
// so memory stays bounded regardless of the source size.
type Uploader struct {
	Client *Client

	// ChunkSize is the upload granularity. Defaults to DefaultChunkSize.
	ChunkSize int

	// OnProgress, if set, is invoked after each acknowledged chunk with
	// the number of bytes uploaded so far and the declared total.
	OnProgress func(written, total int64)
}

// Upload allocates an object with the given metadata and streams r into
// it. Returns the new object id. A failed chunk write stops the upload
// immediately; the partially written object is left as-is for the caller
// to resolve.
func (u *Uploader) Upload(ctx context.Context, name, mimeType string, size int64, r io.Reader) (string, error) {
	chunkSize := u.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	result, err := u.Client.Call(ctx, TaskNewObject, &NewObjectArgs{
		Name:     name,
		MimeType: mimeType,
		Size:     size,
	})
	if err != nil {
		return "", err
	}
	var objectID string
	if err := json.Unmarshal(result, &objectID); err != nil {
		return "", classifyInvalidSuccess(result)
	}

	chunker := NewChunker(chunkSize)
	err = chunker.Run(ctx, r, func(ctx context.Context, chunk Chunk) error {
		_, err := u.Client.Call(ctx, TaskWriteObjectBytes, &WriteObjectBytesArgs{
			ObjectID: objectID,
			Position: chunk.Offset,
			Data:     base64.StdEncoding.EncodeToString(chunk.Data),
		})
		if err != nil {
			return err
		}
		if u.OnProgress != nil {
			u.OnProgress(chunk.Offset+int64(len(chunk.Data)), size)
		}
		return nil
	})
	if err != nil {
		return "", Classify(err)
	}
	return objectID, nil
}
