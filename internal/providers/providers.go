package providers

import (
	"context"
	"errors"
	"fmt"
)

// Provider names as stored in settings
const (
	OpenAI = "openai"
	Groq   = "groq"
	Ollama = "ollama"
	Gemini = "gemini"
)

// UnknownErrorCode is reported when a backend failure carries no code of its own
const UnknownErrorCode = "UNKNOWN_ERROR"

// ErrMissingCredential is returned before any network call when no backend is
// configured for an action.
var ErrMissingCredential = errors.New("missing credential")

// Config represents the configuration for an LLM request
type Config struct {
	Model       string
	Temperature float64
	// System is sent as a system message where the backend supports one
	System    string
	Prompt    string
	MaxTokens int
}

// TextProvider rewrites text with a language model
type TextProvider interface {
	Complete(ctx context.Context, config Config) (string, error)
}

// VisionProvider describes an image with a vision-capable model
type VisionProvider interface {
	Interrogate(ctx context.Context, image []byte, config Config) (string, error)
}

// Error is a failed or unusable backend call
type Error struct {
	Provider string
	Message  string
	Code     string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a provider failure. An empty code becomes UnknownErrorCode.
func NewError(provider, code string, err error) *Error {
	if code == "" {
		code = UnknownErrorCode
	}
	return &Error{Provider: provider, Message: err.Error(), Code: code, Err: err}
}

// AsError converts any error into a provider Error, keeping the code of an
// Error already in the chain.
func AsError(provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(provider, "", err)
}
