package export

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/captioner/internal/archive"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/parquet-go/parquet-go"
)

// ErrAssembly wraps any failure while building an export archive
var ErrAssembly = errors.New("export assembly failed")

// ManifestName is the dataset manifest written when requested
const ManifestName = "metadata.parquet"

// ManifestRow is one image/caption pair in the dataset manifest
type ManifestRow struct {
	FileName string `parquet:"file_name"`
	Text     string `parquet:"text"`
}

// ExportName returns the name a record is exported under, without extension
func ExportName(record models.ImageRecord, index int, opts models.ExportOptions) string {
	if opts.RenameSequentially {
		return fmt.Sprintf("%s%03d", opts.Prefix, index+1)
	}
	return record.Stem()
}

// Assemble turns records into archive entries: an optional <name>.jpg image
// and an always-present <name>.txt caption per record, in record order.
// Records that would share an export name get a numeric suffix.
func Assemble(records []models.ImageRecord, opts models.ExportOptions) ([]archive.Entry, error) {
	entries := make([]archive.Entry, 0, len(records)*2+1)
	manifest := make([]ManifestRow, 0, len(records))
	seen := make(map[string]int, len(records))

	for i, record := range records {
		name := uniqueName(ExportName(record, i, opts), seen)

		fileName := name + ".txt"
		if opts.IncludeImages {
			data, err := base64.StdEncoding.DecodeString(record.Content)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to decode image %s: %v", ErrAssembly, record.Name, err)
			}
			fileName = name + ".jpg"
			entries = append(entries, archive.Entry{Name: fileName, Data: data})
		}
		entries = append(entries, archive.Entry{Name: name + ".txt", Data: []byte(record.Caption)})
		manifest = append(manifest, ManifestRow{FileName: fileName, Text: record.Caption})
	}

	if opts.IncludeManifest {
		var buf bytes.Buffer
		if err := parquet.Write(&buf, manifest); err != nil {
			return nil, fmt.Errorf("%w: failed to write manifest: %v", ErrAssembly, err)
		}
		entries = append(entries, archive.Entry{Name: ManifestName, Data: buf.Bytes()})
	}

	return entries, nil
}

// Build assembles records and encodes them as a zip archive
func Build(records []models.ImageRecord, opts models.ExportOptions) ([]byte, error) {
	entries, err := Assemble(records, opts)
	if err != nil {
		return nil, err
	}

	data, err := archive.Encode(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssembly, err)
	}

	slog.Info("Export assembled", "records", len(records), "entries", len(entries), "bytes", len(data), "include_images", opts.IncludeImages)
	return data, nil
}

// ReadManifest decodes a manifest written by Assemble
func ReadManifest(data []byte) ([]ManifestRow, error) {
	return parquet.Read[ManifestRow](bytes.NewReader(data), int64(len(data)))
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	for {
		n++
		candidate := fmt.Sprintf("%s_%d", name, n)
		if seen[candidate] == 0 {
			seen[candidate] = 1
			seen[name] = n
			return candidate
		}
	}
}
