package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewErrorDefaultsCode(t *testing.T) {
	err := NewError(OpenAI, "", errors.New("boom"))
	if err.Code != UnknownErrorCode {
		t.Errorf("Expected %s, got %s", UnknownErrorCode, err.Code)
	}
	if err.Message != "boom" {
		t.Errorf("Expected message boom, got %s", err.Message)
	}
}

func TestAsErrorKeepsCode(t *testing.T) {
	inner := NewError(Groq, "invalid_api_key", errors.New("bad key"))
	wrapped := fmt.Errorf("enhance failed: %w", inner)

	got := AsError(Groq, wrapped)
	if got.Code != "invalid_api_key" {
		t.Errorf("Expected invalid_api_key, got %s", got.Code)
	}

	plain := AsError(Ollama, errors.New("connection refused"))
	if plain.Code != UnknownErrorCode || plain.Provider != Ollama {
		t.Errorf("Unexpected error: %+v", plain)
	}
}
