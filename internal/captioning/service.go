package captioning

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/gemini"
	"github.com/lehigh-university-libraries/captioner/internal/imaging"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/ollama"
	"github.com/lehigh-university-libraries/captioner/internal/openai"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
)

// Action is a captioning operation a user can trigger
type Action string

const (
	Enhance     Action = "enhance"
	Extend      Action = "extend"
	Interrogate Action = "interrogate"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case Enhance, Extend, Interrogate:
		return a, nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// interrogateMaxTokens bounds vision responses to caption length
const interrogateMaxTokens = 300

// Backend is a provider that can rewrite text, describe images and list its models
type Backend interface {
	providers.TextProvider
	providers.VisionProvider
	ListModels(ctx context.Context) ([]string, error)
}

// Result is a completed invocation
type Result struct {
	Caption  string
	Provider string
	Model    string
}

// Service dispatches captioning actions to the configured backend
type Service struct {
	// NewBackend builds the client for a provider from the caller's settings
	NewBackend func(provider string, cfg settings.SessionConfig) Backend
	// MaxEdge caps the longer image edge sent to vision models
	MaxEdge int
}

// NewService returns a Service that talks to the real provider APIs
func NewService() *Service {
	return &Service{
		NewBackend: DefaultBackend,
		MaxEdge:    imaging.DefaultMaxEdge,
	}
}

// DefaultBackend constructs the HTTP client for provider
func DefaultBackend(provider string, cfg settings.SessionConfig) Backend {
	switch provider {
	case providers.Groq:
		return openai.NewGroq(cfg.GroqAPIKey)
	case providers.OpenAI:
		return openai.New(cfg.OpenAIAPIKey)
	case providers.Gemini:
		return gemini.New(cfg.GeminiAPIKey)
	case providers.Ollama:
		return ollama.New(cfg.OllamaEndpoint)
	default:
		return nil
	}
}

// Preflight checks that cfg can serve action without making a network call
func (s *Service) Preflight(action Action, cfg settings.SessionConfig) error {
	switch action {
	case Enhance, Extend:
		provider := textProvider(cfg)
		if credential(provider, cfg) == "" {
			return fmt.Errorf("%s requires a %s API key: %w", action, provider, providers.ErrMissingCredential)
		}
		return nil
	case Interrogate:
		_, _, err := visionBackend(cfg)
		return err
	default:
		return fmt.Errorf("unknown action: %q", action)
	}
}

// Invoke runs one action against record. Exactly one backend call is made and
// never retried. Missing configuration fails with ErrMissingCredential before
// any network access; backend failures are returned as *providers.Error.
func (s *Service) Invoke(ctx context.Context, action Action, record models.ImageRecord, cfg settings.SessionConfig) (Result, error) {
	switch action {
	case Enhance, Extend:
		return s.rewrite(ctx, action, record, cfg)
	case Interrogate:
		return s.interrogate(ctx, record, cfg)
	default:
		return Result{}, fmt.Errorf("unknown action: %q", action)
	}
}

func (s *Service) rewrite(ctx context.Context, action Action, record models.ImageRecord, cfg settings.SessionConfig) (Result, error) {
	if err := s.Preflight(action, cfg); err != nil {
		return Result{}, err
	}
	provider := textProvider(cfg)

	model := cfg.TextModel
	if model == "" {
		model = defaultTextModel(provider)
	}
	system, prompt := buildTextPrompt(action, record.Caption)

	backend := s.NewBackend(provider, cfg)
	if backend == nil {
		return Result{}, fmt.Errorf("unsupported text provider: %s", provider)
	}

	start := time.Now()
	text, err := backend.Complete(ctx, providers.Config{
		Model:  model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		slog.Error("Caption action failed", "action", action, "provider", provider, "model", model, "err", err)
		return Result{}, providers.AsError(provider, err)
	}

	slog.Info("Caption action completed", "action", action, "provider", provider, "model", model, "length", len(text), "duration", time.Since(start))
	return Result{Caption: text, Provider: provider, Model: model}, nil
}

func (s *Service) interrogate(ctx context.Context, record models.ImageRecord, cfg settings.SessionConfig) (Result, error) {
	provider, model, err := visionBackend(cfg)
	if err != nil {
		return Result{}, err
	}

	image, err := base64.StdEncoding.DecodeString(record.Content)
	if err != nil {
		return Result{}, providers.NewError(provider, "INVALID_IMAGE", fmt.Errorf("failed to decode image content: %w", err))
	}

	maxEdge := s.MaxEdge
	if maxEdge <= 0 {
		maxEdge = imaging.DefaultMaxEdge
	}
	if scaled, err := imaging.Downscale(image, maxEdge); err != nil {
		slog.Warn("Unable to downscale image, sending original", "name", record.Name, "err", err)
	} else {
		image = scaled
	}

	backend := s.NewBackend(provider, cfg)
	if backend == nil {
		return Result{}, fmt.Errorf("unsupported vision provider: %s", provider)
	}

	start := time.Now()
	raw, err := backend.Interrogate(ctx, image, providers.Config{
		Model:     model,
		System:    buildInterrogationPrompt(cfg.Prompt, record.Caption),
		Prompt:    interrogateUserPrompt,
		MaxTokens: interrogateMaxTokens,
	})
	if err != nil {
		slog.Error("Interrogation failed", "provider", provider, "model", model, "name", record.Name, "err", err)
		return Result{}, providers.AsError(provider, err)
	}

	caption := cleanCaption(raw)
	slog.Info("Interrogation completed", "provider", provider, "model", model, "name", record.Name, "bytes", len(image), "length", len(caption), "duration", time.Since(start))
	return Result{Caption: caption, Provider: provider, Model: model}, nil
}

// visionBackend picks the provider for interrogation. The selected model's
// provider wins when its credential is present; otherwise the first
// configured of openai, gemini and ollama is used with its default model.
func visionBackend(cfg settings.SessionConfig) (string, string, error) {
	selected := cfg.SelectedModel.Provider
	if isVisionProvider(selected) && credential(selected, cfg) != "" {
		model := cfg.SelectedModel.Name
		if model == "" {
			model = defaultVisionModel(selected)
		}
		return selected, model, nil
	}

	for _, p := range visionProviders {
		if credential(p, cfg) != "" {
			if selected != "" {
				slog.Warn("Selected interrogation provider is not configured, falling back", "selected", selected, "provider", p)
			}
			return p, defaultVisionModel(p), nil
		}
	}

	return "", "", fmt.Errorf("interrogate requires an OpenAI or Gemini API key or an Ollama endpoint: %w", providers.ErrMissingCredential)
}

// visionProviders can interrogate images, in fallback order
var visionProviders = []string{providers.OpenAI, providers.Gemini, providers.Ollama}

func isVisionProvider(provider string) bool {
	return slices.Contains(visionProviders, provider)
}

func textProvider(cfg settings.SessionConfig) string {
	if cfg.TextProvider == "" {
		return providers.Groq
	}
	return cfg.TextProvider
}

func credential(provider string, cfg settings.SessionConfig) string {
	switch provider {
	case providers.Groq:
		return cfg.GroqAPIKey
	case providers.OpenAI:
		return cfg.OpenAIAPIKey
	case providers.Gemini:
		return cfg.GeminiAPIKey
	case providers.Ollama:
		return cfg.OllamaEndpoint
	default:
		return ""
	}
}

func defaultTextModel(provider string) string {
	switch provider {
	case providers.Groq:
		return envOr("GROQ_MODEL", "llama3-70b-8192")
	case providers.OpenAI:
		return envOr("OPENAI_MODEL", "gpt-4o")
	case providers.Gemini:
		return envOr("GEMINI_MODEL", gemini.DefaultModel)
	default:
		return ""
	}
}

func defaultVisionModel(provider string) string {
	switch provider {
	case providers.OpenAI:
		return envOr("OPENAI_MODEL", "gpt-4o")
	case providers.Gemini:
		return envOr("GEMINI_MODEL", gemini.DefaultModel)
	case providers.Ollama:
		return envOr("OLLAMA_MODEL", ollama.DefaultModel)
	default:
		return ""
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
