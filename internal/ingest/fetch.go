package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

// MaxUploadSize caps a single fetched or uploaded file
const MaxUploadSize = 50 * 1024 * 1024

// Fetcher downloads remote images so they can be ingested like uploads
type Fetcher struct {
	HTTPClient *http.Client
}

// NewFetcher creates a new fetcher using the default transport
func NewFetcher() *Fetcher {
	return &Fetcher{HTTPClient: &http.Client{}}
}

// Fetch downloads imageURL and returns it as an uploaded file
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) (File, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return File{}, fmt.Errorf("invalid image url: %q", imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return File{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize+1))
	if err != nil {
		return File{}, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxUploadSize {
		return File{}, fmt.Errorf("image too large (max %d bytes)", MaxUploadSize)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "image.jpg"
	}

	return File{
		Name:        name,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
