package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pengling9405/miaoyu/internal/llm"
)

const probeTimeout = 15 * time.Second

// probeFunc checks a credential against the provider's live endpoint.
type probeFunc func(ctx context.Context, provider LlmProvider, apiKey string) error

func (m *Manager) defaultProbe(ctx context.Context, provider LlmProvider, apiKey string) error {
	client, err := llm.NewClient(provider.ID, apiKey, provider.Model, llm.WithBaseURL(provider.APIBaseURL))
	if err != nil {
		return err
	}
	_, err = client.Complete(ctx, []llm.Message{
		{Role: "user", Content: "ping"},
	})
	return err
}

// TestCredential probes the provider with the given key without
// persisting anything.
func (m *Manager) TestCredential(ctx context.Context, modelID, providerID, apiKey string) error {
	_, provider, ok := m.catalog.FindLlmProvider(modelID, providerID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownProvider, modelID, providerID)
	}
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return fmt.Errorf("%w: empty api key", ErrUnknownProvider)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := m.probe(ctx, provider, key); err != nil {
		return fmt.Errorf("credential test for %s/%s: %w", modelID, providerID, err)
	}
	return nil
}

// UpdateCredential stores a credential for a (model, provider) pair
// and marks that variant active. The provider is probed first; a
// failed probe leaves the store untouched. An empty key clears the
// stored credential without probing.
func (m *Manager) UpdateCredential(ctx context.Context, modelID, providerID, apiKey string) (Store, error) {
	model, provider, ok := m.catalog.FindLlmProvider(modelID, providerID)
	if !ok {
		return Store{}, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, modelID, providerID)
	}

	key := strings.TrimSpace(apiKey)
	if key != "" {
		if err := m.TestCredential(ctx, modelID, providerID, key); err != nil {
			return Store{}, err
		}
	}

	variantID := llmVariantID(model, provider)
	return m.withStore(func(data *Store) error {
		for i := range data.LlmModels {
			v := &data.LlmModels[i]
			if v.TextModelID != model.ID {
				continue
			}
			if v.ID == variantID {
				v.APIKey = key
				v.Active = true
			} else {
				v.Active = false
			}
		}
		return nil
	})
}

// ResolveAPIKey returns the key the polish stage should send for a
// variant: the stored user key, else the provider's env credential
// passed in envKeys, else empty.
func (m *Manager) ResolveAPIKey(v LlmVariant, envKeys map[string]string) string {
	if v.hasUserKey() {
		return strings.TrimSpace(v.APIKey)
	}
	_, provider, ok := m.catalog.FindLlmProvider(v.TextModelID, v.Provider)
	if !ok {
		return ""
	}
	return strings.TrimSpace(envKeys[provider.APIKeyEnv])
}

// ProviderFor returns the catalog provider backing a stored variant.
func (m *Manager) ProviderFor(v LlmVariant) (LlmProvider, bool) {
	_, provider, ok := m.catalog.FindLlmProvider(v.TextModelID, v.Provider)
	return provider, ok
}
