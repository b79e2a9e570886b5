package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikeandike523/taskstream"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:5000", "Task server endpoint")
	name := flag.String("name", "", "Object name (defaults to the file's base name)")
	mimeType := flag.String("mime", "text/plain", "Object MIME type")
	chunkSize := flag.Int("chunk-size", taskstream.DefaultChunkSize, "Upload chunk size in bytes")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskstream-upload [flags] <file>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := flag.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	objectName := *name
	if objectName == "" {
		objectName = filepath.Base(path)
	}

	uploader := &taskstream.Uploader{
		Client:    taskstream.NewClient(*endpoint),
		ChunkSize: *chunkSize,
		OnProgress: func(written, total int64) {
			fmt.Fprintf(os.Stderr, "\r%d/%d bytes", written, total)
		},
	}

	objectID, err := uploader.Upload(context.Background(), objectName, *mimeType, info.Size(), f)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(objectID)
}
