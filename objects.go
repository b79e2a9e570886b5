package taskstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task names for the chunked upload flow.
const (
	TaskNewObject        = "/files/upload/new-object"
	TaskWriteObjectBytes = "/files/upload/write-object-bytes"
)

// MaxObjectSize is the default upload size cap.
const MaxObjectSize = 20 * 1024 * 1024

const maxIDRetries = 5

// allowedTypes maps accepted mime types to their file extensions.
var allowedTypes = map[string][]string{
	"text/plain": {"txt"},
}

// ObjectStore reserves and fills byte objects in a filesystem bucket.
// It backs the two short tasks the chunked uploader drives: allocate an
// object of a known size, then write bounded base64 chunks at absolute
// positions.
type ObjectStore struct {
	dir    string
	logger *zap.Logger

	// MaxSize caps object sizes; zero means MaxObjectSize.
	MaxSize int64

	mu   sync.Mutex
	meta map[string]ObjectMeta
}

// ObjectMeta is the recorded metadata of an allocated object.
type ObjectMeta struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// NewObjectStore creates a store writing objects under dir.
func NewObjectStore(dir string, logger *zap.Logger) *ObjectStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectStore{
		dir:    dir,
		logger: logger,
		meta:   make(map[string]ObjectMeta),
	}
}

// Register wires the store's tasks into a registry.
func (s *ObjectStore) Register(r *Registry) {
	r.RegisterShort(TaskNewObject, s.NewObject)
	r.RegisterShort(TaskWriteObjectBytes, s.WriteObjectBytes)
}

// Meta returns the metadata of an allocated object.
func (s *ObjectStore) Meta(objectID string) (ObjectMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[objectID]
	return m, ok
}

// Path returns the bucket path of an object.
func (s *ObjectStore) Path(objectID string) string {
	return filepath.Join(s.dir, objectID)
}

// NewObjectArgs are the arguments of the new-object task.
type NewObjectArgs struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// NewObject validates the metadata, records it, and reserves a file of
// the requested size. Returns the new object id.
func (s *ObjectStore) NewObject(ctx context.Context, args jsontext.Value) (any, error) {
	var p NewObjectArgs
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationError([]string{"args: " + err.Error()})
	}

	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = MaxObjectSize
	}

	var details []string
	if p.Size < 0 {
		details = append(details, "size: size must be non-negative")
	}
	if p.Size > maxSize {
		details = append(details, fmt.Sprintf("size: size exceeds maximum limit of %d", maxSize))
	}
	ext, ok := extensionOf(p.Name)
	switch {
	case !ok:
		details = append(details, "name: missing file extension")
	case !extensionAllowed(ext):
		details = append(details, "name: unsupported file extension: "+ext)
	}
	if _, ok := allowedTypes[p.MimeType]; !ok {
		details = append(details, "mime_type: unsupported mime type: "+p.MimeType)
	}
	if len(details) > 0 {
		return nil, validationError(details)
	}

	s.mu.Lock()
	objectID := uuid.NewString()
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		if _, taken := s.meta[objectID]; !taken {
			break
		}
		objectID = uuid.NewString()
	}
	if _, taken := s.meta[objectID]; taken {
		s.mu.Unlock()
		return nil, &FatalTaskError{
			Message: "Failed to generate unique object ID after multiple attempts",
			Status:  500,
		}
	}
	s.meta[objectID] = ObjectMeta{Name: p.Name, MimeType: p.MimeType, Size: p.Size}
	s.mu.Unlock()

	f, err := os.Create(s.Path(objectID))
	if err == nil {
		err = f.Truncate(p.Size)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		s.mu.Lock()
		delete(s.meta, objectID)
		s.mu.Unlock()
		return nil, &FatalTaskError{
			Message: fmt.Sprintf("Could not create object file: %v", err),
			Status:  500,
		}
	}

	s.logger.Debug("object reserved",
		zap.String("object_id", objectID),
		zap.String("name", p.Name),
		zap.Int64("size", p.Size))
	return objectID, nil
}

// WriteObjectBytesArgs are the arguments of the write-object-bytes task.
// Data is base64-encoded.
type WriteObjectBytesArgs struct {
	ObjectID string `json:"object_id"`
	Position int64  `json:"position"`
	Data     string `json:"data"`
}

// WriteObjectBytesResult reports how many decoded bytes were written.
type WriteObjectBytesResult struct {
	BytesWritten int `json:"bytes_written"`
}

// WriteObjectBytes decodes one chunk and writes it into an existing
// object at the given position, rejecting writes outside the reserved
// bounds.
func (s *ObjectStore) WriteObjectBytes(ctx context.Context, args jsontext.Value) (any, error) {
	var p WriteObjectBytesArgs
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationError([]string{"args: " + err.Error()})
	}

	var details []string
	if strings.TrimSpace(p.ObjectID) == "" {
		details = append(details, "object_id: object_id cannot be empty")
	}
	if p.Position < 0 {
		details = append(details, "position: position must be non-negative")
	}
	blob, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		details = append(details, "data: data must be valid base64")
	}
	if len(details) > 0 {
		return nil, validationError(details)
	}

	if _, ok := s.Meta(p.ObjectID); !ok {
		return nil, &FatalTaskError{
			Message: "Object not found: " + p.ObjectID,
			Status:  404,
		}
	}

	path := s.Path(p.ObjectID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FatalTaskError{
			Message: "Object not found: " + p.ObjectID,
			Status:  404,
		}
	}

	if p.Position > info.Size() {
		return nil, &FatalTaskError{Message: "Write position is beyond end of file", Status: 400}
	}
	if p.Position+int64(len(blob)) > info.Size() {
		return nil, &FatalTaskError{Message: "Data write exceeds file bounds", Status: 400}
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, &FatalTaskError{Message: fmt.Sprintf("File write error: %v", err), Status: 500}
	}
	written, err := f.WriteAt(blob, p.Position)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &FatalTaskError{Message: fmt.Sprintf("File write error: %v", err), Status: 500}
	}

	return &WriteObjectBytesResult{BytesWritten: written}, nil
}

func validationError(details []string) *FatalTaskError {
	return &FatalTaskError{
		Message: "Validation error",
		Status:  400,
		Cause:   map[string]any{"errors": details},
	}
}

func extensionOf(name string) (string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return "", false
	}
	return name[i+1:], true
}

func extensionAllowed(ext string) bool {
	for _, exts := range allowedTypes {
		for _, e := range exts {
			if e == ext {
				return true
			}
		}
	}
	return false
}
