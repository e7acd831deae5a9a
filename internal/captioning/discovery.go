package captioning

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
)

// ModelLists are the interrogation models a user can pick from
type ModelLists struct {
	OpenAI []string `json:"openai"`
	Ollama []string `json:"ollama"`
	Gemini []string `json:"gemini"`
}

// DiscoverModels lists vision models for every configured backend. Remote
// OpenAI models are limited to the gpt-4o and gpt-4-turbo families; local
// models are returned as-is. Backends without a credential are skipped
// without a network call.
func (s *Service) DiscoverModels(ctx context.Context, cfg settings.SessionConfig) (ModelLists, error) {
	lists := ModelLists{OpenAI: []string{}, Ollama: []string{}, Gemini: []string{}}

	if cfg.OpenAIAPIKey != "" {
		ids, err := s.NewBackend(providers.OpenAI, cfg).ListModels(ctx)
		if err != nil {
			return lists, providers.AsError(providers.OpenAI, err)
		}
		lists.OpenAI = filterOpenAIModels(ids)
	}

	if cfg.OllamaEndpoint != "" {
		names, err := s.NewBackend(providers.Ollama, cfg).ListModels(ctx)
		if err != nil {
			return lists, providers.AsError(providers.Ollama, err)
		}
		if names != nil {
			lists.Ollama = names
		}
	}

	if cfg.GeminiAPIKey != "" {
		names, err := s.NewBackend(providers.Gemini, cfg).ListModels(ctx)
		if err != nil {
			return lists, providers.AsError(providers.Gemini, err)
		}
		if names != nil {
			lists.Gemini = names
		}
	}

	slog.Debug("Discovered models", "openai", len(lists.OpenAI), "ollama", len(lists.Ollama), "gemini", len(lists.Gemini))
	return lists, nil
}

func filterOpenAIModels(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if (strings.Contains(id, "gpt-4o") || strings.Contains(id, "gpt-4-turbo")) && !strings.Contains(id, "preview") {
			out = append(out, id)
		}
	}
	return out
}
