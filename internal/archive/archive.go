package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrCorruptArchive is returned when a byte stream is not a readable zip container.
var ErrCorruptArchive = errors.New("corrupt archive")

// ErrEntryTooLarge is returned when a member decompresses past MaxEntrySize.
var ErrEntryTooLarge = errors.New("archive entry too large")

// MaxEntrySize caps the decompressed size of a single member
var MaxEntrySize int64 = 50 * 1024 * 1024

// Entry is a single named member of an archive
type Entry struct {
	Name  string
	Data  []byte
	IsDir bool
}

// modTime is stamped on every written entry so identical inputs encode to identical bytes.
var modTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Decode reads every member of a zip archive into memory, in central directory order.
func Decode(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			entries = append(entries, Entry{Name: f.Name, IsDir: true})
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open %s: %v", ErrCorruptArchive, f.Name, err)
		}
		payload, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", ErrCorruptArchive, f.Name, err)
		}
		if int64(len(payload)) > MaxEntrySize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, f.Name, MaxEntrySize)
		}

		entries = append(entries, Entry{Name: f.Name, Data: payload})
	}

	return entries, nil
}

// Encode writes entries into a new zip archive in the order given.
// Callers must deduplicate names beforehand.
func Encode(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, e := range entries {
		header := &zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modTime,
		}
		if e.IsDir {
			if !strings.HasSuffix(header.Name, "/") {
				header.Name += "/"
			}
			header.Method = zip.Store
		}

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %s: %w", e.Name, err)
		}
		if e.IsDir {
			continue
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write entry %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}
