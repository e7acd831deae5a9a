package openai

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

const (
	// DefaultBaseURL is the OpenAI API root
	DefaultBaseURL = "https://api.openai.com/v1"
	// GroqBaseURL is Groq's OpenAI-compatible API root
	GroqBaseURL = "https://api.groq.com/openai/v1"
)

// OpenAI talks to any OpenAI-compatible chat completions API
type OpenAI struct {
	Name       string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for the OpenAI API
func New(apiKey string) *OpenAI {
	return &OpenAI{
		Name:       providers.OpenAI,
		APIKey:     apiKey,
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{},
	}
}

// NewGroq returns a client for Groq's OpenAI-compatible API
func NewGroq(apiKey string) *OpenAI {
	return &OpenAI{
		Name:       providers.Groq,
		APIKey:     apiKey,
		BaseURL:    GroqBaseURL,
		HTTPClient: &http.Client{},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends a text-only chat completion and returns the first choice
func (o *OpenAI) Complete(ctx context.Context, config providers.Config) (string, error) {
	return o.chat(ctx, config, config.Prompt)
}

// Interrogate sends the image inline as a data URL alongside the prompt
func (o *OpenAI) Interrogate(ctx context.Context, image []byte, config providers.Config) (string, error) {
	content := []map[string]any{
		{
			"type": "text",
			"text": config.Prompt,
		},
		{
			"type": "image_url",
			"image_url": map[string]string{
				"url": "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image),
			},
		},
	}
	return o.chat(ctx, config, content)
}

func (o *OpenAI) chat(ctx context.Context, config providers.Config, userContent any) (string, error) {
	messages := make([]map[string]any, 0, 2)
	if config.System != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": config.System,
		})
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": userContent,
	})

	body := map[string]any{
		"model":    config.Model,
		"messages": messages,
		"stream":   false,
	}
	if config.MaxTokens > 0 {
		body["max_tokens"] = config.MaxTokens
	}
	if config.Temperature > 0 {
		body["temperature"] = config.Temperature
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := o.do(ctx, http.MethodPost, "/chat/completions", requestBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", providers.NewError(o.Name, "", fmt.Errorf("failed to decode response body: %w", err))
	}

	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Message.Content, nil
}

// ListModels returns the ids of every model the key can see
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, providers.NewError(o.Name, "", fmt.Errorf("failed to decode response body: %w", err))
	}

	ids := make([]string, 0, len(response.Data))
	for _, m := range response.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (o *OpenAI) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", o.Name, providers.ErrMissingCredential)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	url := strings.TrimSuffix(o.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, providers.NewError(o.Name, "", fmt.Errorf("failed to send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, o.statusError(resp)
	}
	return resp, nil
}

func (o *OpenAI) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		code := ""
		switch c := parsed.Error.Code.(type) {
		case string:
			code = c
		case float64:
			code = fmt.Sprintf("%.0f", c)
		}
		if code == "" {
			code = parsed.Error.Type
		}
		return providers.NewError(o.Name, code, errors.New(parsed.Error.Message))
	}

	return providers.NewError(o.Name, "", fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(raw)))
}
