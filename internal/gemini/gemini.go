package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultModel is used when no Gemini model has been selected
const DefaultModel = "gemini-1.5-flash"

// Gemini is a provider for Google Gemini
type Gemini struct {
	APIKey string
}

// New returns a new Gemini provider
func New(apiKey string) *Gemini {
	return &Gemini{APIKey: apiKey}
}

// Complete generates text from the prompt using Gemini
func (g *Gemini) Complete(ctx context.Context, config providers.Config) (string, error) {
	return g.generate(ctx, config, genai.Text(config.Prompt))
}

// Interrogate describes the image using a Gemini vision model
func (g *Gemini) Interrogate(ctx context.Context, image []byte, config providers.Config) (string, error) {
	format := strings.TrimPrefix(http.DetectContentType(image), "image/")
	return g.generate(ctx, config, genai.ImageData(format, image), genai.Text(config.Prompt))
}

func (g *Gemini) generate(ctx context.Context, config providers.Config, parts ...genai.Part) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	name := config.Model
	if name == "" {
		name = DefaultModel
	}
	model := client.GenerativeModel(name)
	if config.Temperature > 0 {
		model.SetTemperature(float32(config.Temperature))
	}
	if config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(config.MaxTokens))
	}
	if config.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(config.System)}}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", providers.NewError(providers.Gemini, errorCode(err), fmt.Errorf("failed to generate content: %w", err))
	}

	if len(resp.Candidates) == 0 {
		return "", nil
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", nil
	}

	if txt, ok := candidate.Content.Parts[0].(genai.Text); ok {
		return string(txt), nil
	}

	return "", providers.NewError(providers.Gemini, "", fmt.Errorf("unexpected response format from Gemini"))
}

// ListModels returns the Gemini models that support content generation
func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	names := []string{}
	it := client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, providers.NewError(providers.Gemini, errorCode(err), fmt.Errorf("failed to list models: %w", err))
		}
		name := strings.TrimPrefix(m.Name, "models/")
		if !strings.HasPrefix(name, "gemini-") {
			continue
		}
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				names = append(names, name)
				break
			}
		}
	}
	return names, nil
}

func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", providers.ErrMissingCredential)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
	if err != nil {
		return nil, providers.NewError(providers.Gemini, "", fmt.Errorf("failed to create new gemini client: %w", err))
	}
	return client, nil
}

func errorCode(err error) string {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	if reason := apiErr.Reason(); reason != "" {
		return reason
	}
	if code := apiErr.HTTPCode(); code > 0 {
		return "HTTP_" + strconv.Itoa(code)
	}
	return apiErr.GRPCStatus().Code().String()
}
