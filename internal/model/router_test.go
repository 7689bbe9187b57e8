package model

import (
	"context"
	"testing"

	"github.com/harunnryd/kanshi/internal/config"
	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelRouter_EmptyRegistry(t *testing.T) {
	router, err := NewModelRouter(config.ModelsConfig{})
	require.NoError(t, err)
	assert.Empty(t, router.ListModels())
}

func TestNewModelRouter_AllProvidersFail(t *testing.T) {
	// Providers that require API keys are skipped when none is set,
	// leaving the registry non-empty but unusable.
	_, err := NewModelRouter(config.ModelsConfig{
		Registry: []config.ModelRegistry{
			{Name: "gpt-4-turbo", Provider: "openai"},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInternal)
}

func TestRoute_UnknownModelNoFallback(t *testing.T) {
	router, err := NewModelRouter(config.ModelsConfig{})
	require.NoError(t, err)

	_, err = router.Route(context.Background(), "missing-model", contract.CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestRoute_OllamaProviderRegisters(t *testing.T) {
	// Ollama needs no API key, so the entry always registers.
	router, err := NewModelRouter(config.ModelsConfig{
		Registry: []config.ModelRegistry{
			{Name: "llama3", Provider: "ollama"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, router.ListModels(), "llama3")
	require.NoError(t, router.Health(context.Background()))
}

func TestCreateProvider_UnknownType(t *testing.T) {
	router := &DefaultModelRouter{providers: map[string]Provider{}}
	_, err := router.createProvider(config.ModelRegistry{Name: "x", Provider: "mystery"})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)
}
