package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"gopkg.in/yaml.v3"
)

// Redacted replaces stored secrets in responses. Writing it back leaves the secret unchanged.
const Redacted = "********"

// SelectedModel is the interrogation model and the provider it belongs to
type SelectedModel struct {
	Provider string `yaml:"provider" json:"provider"`
	Name     string `yaml:"name" json:"name"`
}

// PromptOptions parameterize the interrogation rubric
type PromptOptions struct {
	CustomToken        string `yaml:"custom_token" json:"custom_token"`
	CustomInstruction  string `yaml:"custom_instruction" json:"custom_instruction"`
	InherentAttributes string `yaml:"inherent_attributes" json:"inherent_attributes"`
}

// SessionConfig is everything the captioning actions read from settings.
// It is passed explicitly into each call.
type SessionConfig struct {
	GroqAPIKey     string `yaml:"groq_api_key" json:"groq_api_key"`
	OpenAIAPIKey   string `yaml:"openai_api_key" json:"openai_api_key"`
	GeminiAPIKey   string `yaml:"gemini_api_key" json:"gemini_api_key"`
	OllamaEndpoint string `yaml:"ollama_endpoint" json:"ollama_endpoint"`

	// TextProvider backs enhance and extend: groq (default), openai or gemini
	TextProvider string `yaml:"text_provider" json:"text_provider"`
	TextModel    string `yaml:"text_model" json:"text_model"`

	SelectedModel SelectedModel `yaml:"selected_model" json:"selected_model"`
	Prompt        PromptOptions `yaml:"prompt" json:"prompt"`
}

// FromEnv fills empty fields from the environment
func (c SessionConfig) FromEnv() SessionConfig {
	fill := func(dst *string, keys ...string) {
		for _, k := range keys {
			if *dst != "" {
				return
			}
			*dst = os.Getenv(k)
		}
	}
	fill(&c.GroqAPIKey, "GROQ_API_KEY")
	fill(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	fill(&c.GeminiAPIKey, "GEMINI_API_KEY")
	fill(&c.OllamaEndpoint, "OLLAMA_URL", "OLLAMA_HOST")
	fill(&c.TextProvider, "CAPTIONER_TEXT_PROVIDER")
	if c.TextProvider == "" {
		c.TextProvider = providers.Groq
	}
	return c
}

// Redact hides stored secrets
func (c SessionConfig) Redact() SessionConfig {
	for _, s := range []*string{&c.GroqAPIKey, &c.OpenAIAPIKey, &c.GeminiAPIKey} {
		if *s != "" {
			*s = Redacted
		}
	}
	return c
}

// Merge applies an update, keeping secrets the update left redacted
func (c SessionConfig) Merge(update SessionConfig) SessionConfig {
	keep := func(dst *string, cur string) {
		if *dst == Redacted {
			*dst = cur
		}
	}
	keep(&update.GroqAPIKey, c.GroqAPIKey)
	keep(&update.OpenAIAPIKey, c.OpenAIAPIKey)
	keep(&update.GeminiAPIKey, c.GeminiAPIKey)
	return update
}

// Store persists a SessionConfig as a YAML file
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  SessionConfig
}

// DefaultPath returns the settings file location, honouring CAPTIONER_SETTINGS
func DefaultPath() string {
	if p := os.Getenv("CAPTIONER_SETTINGS"); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "captioner", "settings.yaml")
	}
	return "captioner.yaml"
}

// Open loads path if it exists. A missing file yields an empty config.
// An empty path keeps settings in memory only.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("No settings file, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// Get returns the stored config with environment defaults applied
func (s *Store) Get() SessionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.FromEnv()
}

// Stored returns the config exactly as persisted
func (s *Store) Stored() SessionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the stored config and writes it to disk
func (s *Store) Set(cfg SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0600); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
	}

	s.cfg = cfg
	return nil
}
