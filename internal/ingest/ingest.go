package ingest

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/archive"
	"github.com/lehigh-university-libraries/captioner/internal/models"
)

// Kind is the class of an uploaded file
type Kind int

const (
	KindUnknown Kind = iota
	KindArchive
	KindImage
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

var imageNamePattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|bmp)$`)

// File is one uploaded file as received from the client
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the outcome of ingesting a batch
type Result struct {
	Records []models.ImageRecord
	// Failed counts archives that could not be read
	Failed int
	Errors []error
}

// Classify infers a file's kind from its declared media type. When the client
// did not declare a useful type the file extension is used instead.
func Classify(f File) Kind {
	mediaType, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/zip", mediaType == "application/x-zip-compressed":
		return KindArchive
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case mediaType == "text/plain":
		return KindText
	case mediaType == "", mediaType == "application/octet-stream":
		return classifyByName(f.Name)
	}
	return KindUnknown
}

func classifyByName(name string) Kind {
	switch {
	case strings.EqualFold(path.Ext(name), ".zip"):
		return KindArchive
	case imageNamePattern.MatchString(name):
		return KindImage
	case strings.EqualFold(path.Ext(name), ".txt"):
		return KindText
	}
	return KindUnknown
}

// Ingest turns a batch of uploaded files into image records. Archive-derived
// records come first, then standalone images, each group in encounter order.
// Standalone images take their caption from a standalone text file sharing
// their stem. A corrupt archive is skipped and counted in Result.Failed.
func Ingest(files []File) Result {
	var (
		result     Result
		standalone []models.ImageRecord
		texts      = make(map[string]string)
	)

	for _, f := range files {
		switch Classify(f) {
		case KindArchive:
			records, err := FromArchive(f.Data)
			if err != nil {
				slog.Error("Failed to read archive", "filename", f.Name, "err", err)
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", f.Name, err))
				continue
			}
			slog.Info("Archive ingested", "filename", f.Name, "images", len(records))
			result.Records = append(result.Records, records...)
		case KindImage:
			standalone = append(standalone, models.ImageRecord{
				Name:    f.Name,
				Content: base64.StdEncoding.EncodeToString(f.Data),
			})
		case KindText:
			texts[f.Name] = decodeText(f.Data)
		default:
			slog.Debug("Skipping unsupported file", "filename", f.Name, "content_type", f.ContentType)
		}
	}

	for i := range standalone {
		if caption, ok := texts[standalone[i].Stem()+".txt"]; ok {
			standalone[i].Caption = caption
		}
	}

	result.Records = append(result.Records, standalone...)
	return result
}

// FromArchive reads every image inside a zip archive, pairing each with the
// interior text entry that shares its stem.
func FromArchive(data []byte) ([]models.ImageRecord, error) {
	entries, err := archive.Decode(data)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]archive.Entry, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			byName[e.Name] = e
		}
	}

	var records []models.ImageRecord
	for _, e := range entries {
		if e.IsDir || !imageNamePattern.MatchString(e.Name) {
			continue
		}

		record := models.ImageRecord{
			Name:    e.Name,
			Content: base64.StdEncoding.EncodeToString(e.Data),
		}
		if txt, ok := byName[models.Stem(e.Name)+".txt"]; ok {
			record.Caption = decodeText(txt.Data)
		}
		records = append(records, record)
	}

	return records, nil
}

func decodeText(data []byte) string {
	s := strings.TrimPrefix(string(data), "\ufeff")
	return strings.ToValidUTF8(s, "\uFFFD")
}
