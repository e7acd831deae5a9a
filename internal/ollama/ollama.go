package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/providers"
)

// DefaultModel is used when no local model has been selected
const DefaultModel = "0ssamaak0/xtuner-llava:llama3-8b-v1.1-f16"

// Ollama is a provider for a local Ollama server
type Ollama struct {
	Endpoint   string
	HTTPClient *http.Client
}

// New returns a new Ollama provider for endpoint
func New(endpoint string) *Ollama {
	return &Ollama{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Complete runs a text-only chat against the local model
func (o *Ollama) Complete(ctx context.Context, config providers.Config) (string, error) {
	return o.chat(ctx, config, chatMessage{Role: "user", Content: config.Prompt})
}

// Interrogate sends the image with the user message
func (o *Ollama) Interrogate(ctx context.Context, image []byte, config providers.Config) (string, error) {
	return o.chat(ctx, config, chatMessage{
		Role:    "user",
		Content: config.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(image)},
	})
}

func (o *Ollama) chat(ctx context.Context, config providers.Config, user chatMessage) (string, error) {
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	messages := make([]chatMessage, 0, 2)
	if config.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: config.System})
	}
	messages = append(messages, user)

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	if config.Temperature > 0 {
		body["options"] = map[string]any{"temperature": config.Temperature}
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := o.do(ctx, http.MethodPost, "/api/chat", requestBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", providers.NewError(providers.Ollama, "", fmt.Errorf("failed to decode response body: %w", err))
	}

	if response.Message == nil {
		return "", nil
	}
	return response.Message.Content, nil
}

// ListModels returns the names of the locally installed models
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, providers.NewError(providers.Ollama, "", fmt.Errorf("failed to decode response body: %w", err))
	}

	names := make([]string, 0, len(response.Models))
	for _, m := range response.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (o *Ollama) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if o.Endpoint == "" {
		return nil, fmt.Errorf("ollama: %w", providers.ErrMissingCredential)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	url := strings.TrimSuffix(o.Endpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, providers.NewError(providers.Ollama, "", fmt.Errorf("failed to send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var parsed struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
			return nil, providers.NewError(providers.Ollama, fmt.Sprintf("HTTP_%d", resp.StatusCode), errors.New(parsed.Error))
		}
		return nil, providers.NewError(providers.Ollama, "", fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(raw)))
	}
	return resp, nil
}
