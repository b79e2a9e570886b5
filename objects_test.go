package taskstream

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

func mustArgs(t *testing.T, v any) jsontext.Value {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return jsontext.Value(data)
}

func newObject(t *testing.T, store *ObjectStore, name, mimeType string, size int64) string {
	t.Helper()
	result, err := store.NewObject(context.Background(), mustArgs(t, &NewObjectArgs{
		Name:     name,
		MimeType: mimeType,
		Size:     size,
	}))
	if err != nil {
		t.Fatalf("NewObject failed: %v", err)
	}
	return result.(string)
}

func TestNewObjectReservesFile(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)
	objectID := newObject(t, store, "notes.txt", "text/plain", 4096)

	info, err := os.Stat(store.Path(objectID))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 4096 {
		t.Errorf("Expected reserved size 4096, got %d", info.Size())
	}
}

func TestNewObjectValidation(t *testing.T) {
	cases := []struct {
		name string
		args NewObjectArgs
		want string
	}{
		{
			"negative size",
			NewObjectArgs{Name: "a.txt", MimeType: "text/plain", Size: -1},
			"size must be non-negative",
		},
		{
			"oversized",
			NewObjectArgs{Name: "a.txt", MimeType: "text/plain", Size: MaxObjectSize + 1},
			"size exceeds maximum limit",
		},
		{
			"missing extension",
			NewObjectArgs{Name: "noext", MimeType: "text/plain", Size: 10},
			"missing file extension",
		},
		{
			"bad extension",
			NewObjectArgs{Name: "a.exe", MimeType: "text/plain", Size: 10},
			"unsupported file extension",
		},
		{
			"bad mime type",
			NewObjectArgs{Name: "a.txt", MimeType: "application/x-msdownload", Size: 10},
			"unsupported mime type",
		},
	}

	store := NewObjectStore(t.TempDir(), nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.NewObject(context.Background(), mustArgs(t, &tc.args))
			var fatal *FatalTaskError
			if !errors.As(err, &fatal) {
				t.Fatalf("Expected *FatalTaskError, got %T", err)
			}
			if fatal.Status != 400 {
				t.Errorf("Expected status 400, got %d", fatal.Status)
			}
			cause, ok := fatal.Cause.(map[string]any)
			if !ok {
				t.Fatalf("Expected map cause, got %T", fatal.Cause)
			}
			details, ok := cause["errors"].([]string)
			if !ok {
				t.Fatalf("Expected error details, got %T", cause["errors"])
			}
			found := false
			for _, d := range details {
				if strings.Contains(d, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected detail containing %q, got %v", tc.want, details)
			}
		})
	}
}

func TestWriteObjectBytesRoundTrip(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)
	payload := []byte("hello, bucket")
	objectID := newObject(t, store, "hello.txt", "text/plain", int64(len(payload)))

	result, err := store.WriteObjectBytes(context.Background(), mustArgs(t, &WriteObjectBytesArgs{
		ObjectID: objectID,
		Position: 0,
		Data:     base64.StdEncoding.EncodeToString(payload),
	}))
	if err != nil {
		t.Fatalf("WriteObjectBytes failed: %v", err)
	}
	written := result.(*WriteObjectBytesResult)
	if written.BytesWritten != len(payload) {
		t.Errorf("Expected %d bytes written, got %d", len(payload), written.BytesWritten)
	}

	stored, err := os.ReadFile(store.Path(objectID))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(stored) != string(payload) {
		t.Errorf("Expected %q, got %q", payload, stored)
	}
}

func TestWriteObjectBytesBounds(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)
	objectID := newObject(t, store, "bounded.txt", "text/plain", 100)

	cases := []struct {
		name     string
		position int64
		data     []byte
		want     string
		status   int
	}{
		{"position beyond end", 101, []byte("x"), "Write position is beyond end of file", 400},
		{"write exceeds bounds", 90, make([]byte, 20), "Data write exceeds file bounds", 400},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.WriteObjectBytes(context.Background(), mustArgs(t, &WriteObjectBytesArgs{
				ObjectID: objectID,
				Position: tc.position,
				Data:     base64.StdEncoding.EncodeToString(tc.data),
			}))
			var fatal *FatalTaskError
			if !errors.As(err, &fatal) {
				t.Fatalf("Expected *FatalTaskError, got %T", err)
			}
			if fatal.Message != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, fatal.Message)
			}
			if fatal.Status != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, fatal.Status)
			}
		})
	}
}

func TestWriteObjectBytesUnknownObject(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)

	_, err := store.WriteObjectBytes(context.Background(), mustArgs(t, &WriteObjectBytesArgs{
		ObjectID: "missing",
		Position: 0,
		Data:     base64.StdEncoding.EncodeToString([]byte("x")),
	}))
	var fatal *FatalTaskError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected *FatalTaskError, got %T", err)
	}
	if fatal.Status != 404 {
		t.Errorf("Expected status 404, got %d", fatal.Status)
	}
}

func TestWriteObjectBytesInvalidBase64(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)
	objectID := newObject(t, store, "b64.txt", "text/plain", 10)

	_, err := store.WriteObjectBytes(context.Background(), mustArgs(t, &WriteObjectBytesArgs{
		ObjectID: objectID,
		Position: 0,
		Data:     "!!! not base64 !!!",
	}))
	var fatal *FatalTaskError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected *FatalTaskError, got %T", err)
	}
	if fatal.Status != 400 {
		t.Errorf("Expected status 400, got %d", fatal.Status)
	}
}

func TestObjectStoreCustomMaxSize(t *testing.T) {
	store := NewObjectStore(t.TempDir(), nil)
	store.MaxSize = 1024

	_, err := store.NewObject(context.Background(), mustArgs(t, &NewObjectArgs{
		Name:     "big.txt",
		MimeType: "text/plain",
		Size:     2048,
	}))
	var fatal *FatalTaskError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected *FatalTaskError, got %T", err)
	}
	if fatal.Status != 400 {
		t.Errorf("Expected status 400, got %d", fatal.Status)
	}
}
