package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pengling9405/miaoyu/internal/settings"
)

const (
	storeKey = "models"

	// Free daily token allowance for LLM variants without a user key.
	llmDailyTokenLimit = 5000
)

// LlmVariant is the persisted state of one (text model, provider)
// pairing: credential, activation flag and usage counters. Free
// counters reset when the usage date rolls over.
type LlmVariant struct {
	ID                  string `json:"id"`
	TextModelID         string `json:"textModelId"`
	Provider            string `json:"provider"`
	APIKey              string `json:"apiKey,omitempty"`
	FreeTotalRequests   int    `json:"freeTotalRequests"`
	FreeTotalTokenUsage int    `json:"freeTotalTokenUsage"`
	TotalRequests       int    `json:"totalRequests"`
	TotalTokenUsage     int    `json:"totalTokenUsage"`
	Active              bool   `json:"active"`
	UsageDate           string `json:"usageDate,omitempty"`

	// Set only on redacted copies, never persisted.
	HasAPIKey bool `json:"hasApiKey,omitempty"`
}

// AsrVariant is the persisted state of one ASR model variant.
type AsrVariant struct {
	ID            string  `json:"id"`
	ModelID       string  `json:"modelId"`
	Provider      string  `json:"provider"`
	Offline       bool    `json:"offline"`
	Active        bool    `json:"active"`
	TotalRequests int     `json:"totalRequests"`
	TotalHours    float64 `json:"totalHours"`
}

// Store is the persisted model selection and usage state.
type Store struct {
	LlmModels      []LlmVariant `json:"llmModels"`
	ActiveLlmModel string       `json:"activeLlmModel,omitempty"`
	AsrModels      []AsrVariant `json:"asrModels"`
	ActiveAsrModel string       `json:"activeAsrModel,omitempty"`
}

// Redacted returns a copy safe to expose over the API: stored API
// keys are blanked and their presence flagged instead.
func (s Store) Redacted() Store {
	out := s
	out.LlmModels = make([]LlmVariant, len(s.LlmModels))
	copy(out.LlmModels, s.LlmModels)
	for i := range out.LlmModels {
		if out.LlmModels[i].APIKey != "" {
			out.LlmModels[i].APIKey = ""
			out.LlmModels[i].HasAPIKey = true
		}
	}
	return out
}

func llmVariantID(model LlmModel, provider LlmProvider) string {
	if provider.Model != "" {
		return provider.Model
	}
	return model.ID + "::" + provider.ID
}

func asrVariantID(desc Descriptor) string {
	return desc.ID + "::local"
}

// hydrate reconciles the persisted store with the catalog: every
// catalog variant has an entry, each model keeps exactly one active
// variant, and the active model ids point at known models.
func hydrate(data *Store, catalog Catalog) {
	for _, model := range catalog.LlmModels {
		for _, provider := range model.Providers {
			id := llmVariantID(model, provider)
			found := false
			for i := range data.LlmModels {
				if data.LlmModels[i].ID == id {
					data.LlmModels[i].TextModelID = model.ID
					data.LlmModels[i].Provider = provider.ID
					found = true
					break
				}
			}
			if !found {
				data.LlmModels = append(data.LlmModels, LlmVariant{
					ID:          id,
					TextModelID: model.ID,
					Provider:    provider.ID,
				})
			}
		}

		hasActive := false
		first := -1
		for i := range data.LlmModels {
			if data.LlmModels[i].TextModelID != model.ID {
				continue
			}
			if first < 0 {
				first = i
			}
			if data.LlmModels[i].Active {
				if hasActive {
					data.LlmModels[i].Active = false
				}
				hasActive = true
			}
		}
		if !hasActive && first >= 0 {
			data.LlmModels[first].Active = true
		}
	}

	for _, desc := range catalog.AsrModels {
		id := asrVariantID(desc)
		found := false
		for i := range data.AsrModels {
			if data.AsrModels[i].ID == id {
				data.AsrModels[i].ModelID = desc.ID
				data.AsrModels[i].Provider = "local"
				data.AsrModels[i].Offline = desc.Offline
				found = true
				break
			}
		}
		if !found {
			data.AsrModels = append(data.AsrModels, AsrVariant{
				ID:       id,
				ModelID:  desc.ID,
				Provider: "local",
				Offline:  desc.Offline,
				Active:   true,
			})
		}
	}

	if _, ok := catalog.FindLlm(data.ActiveLlmModel); !ok {
		data.ActiveLlmModel = ""
		if len(catalog.LlmModels) > 0 {
			data.ActiveLlmModel = catalog.LlmModels[0].ID
		}
	}
	if _, ok := catalog.FindOffline(data.ActiveAsrModel); !ok {
		data.ActiveAsrModel = ""
		if _, ok := catalog.FindOffline(DefaultASRModelID); ok {
			data.ActiveAsrModel = DefaultASRModelID
		} else if len(catalog.AsrModels) > 0 {
			data.ActiveAsrModel = catalog.AsrModels[0].ID
		}
	}
}

func (m *Manager) loadStore() Store {
	var data Store
	if err := m.settings.Get(storeKey, &data); err != nil && !errors.Is(err, settings.ErrNotFound) {
		m.logf("read models store: %v", err)
	}
	hydrate(&data, m.catalog)
	return data
}

func (m *Manager) saveStore(data Store) error {
	if err := m.settings.Set(storeKey, data); err != nil {
		return fmt.Errorf("persist models store: %w", err)
	}
	return nil
}

// withStore runs mutate over the hydrated store under the manager lock
// and persists the result. A nil mutate just hydrates and persists.
func (m *Manager) withStore(mutate func(*Store) error) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.loadStore()
	if mutate != nil {
		if err := mutate(&data); err != nil {
			return Store{}, err
		}
		hydrate(&data, m.catalog)
	}
	if err := m.saveStore(data); err != nil {
		return Store{}, err
	}
	return data, nil
}

// ModelsStore returns the hydrated persisted state.
func (m *Manager) ModelsStore() (Store, error) {
	return m.withStore(nil)
}

// ActiveLlmVariant resolves the variant the polish stage should use:
// the active variant of the active text model.
func (m *Manager) ActiveLlmVariant() (LlmVariant, bool) {
	data, err := m.withStore(nil)
	if err != nil {
		return LlmVariant{}, false
	}
	if data.ActiveLlmModel == "" {
		return LlmVariant{}, false
	}
	var fallback *LlmVariant
	for i := range data.LlmModels {
		v := &data.LlmModels[i]
		if v.TextModelID != data.ActiveLlmModel {
			continue
		}
		if v.Active {
			return *v, true
		}
		if fallback == nil {
			fallback = v
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return LlmVariant{}, false
}

// ActiveAsrModelID returns the id of the currently selected ASR model.
func (m *Manager) ActiveAsrModelID() string {
	data, err := m.withStore(nil)
	if err != nil {
		return DefaultASRModelID
	}
	return data.ActiveAsrModel
}

func (v LlmVariant) hasUserKey() bool {
	return strings.TrimSpace(v.APIKey) != ""
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

func resetDailyUsage(v *LlmVariant, today string) {
	if v.UsageDate != today {
		v.UsageDate = today
		v.FreeTotalRequests = 0
		v.FreeTotalTokenUsage = 0
	}
}

// CheckLlmQuota gates free-tier polishing. Variants with a user key
// are never limited.
func (m *Manager) CheckLlmQuota(variantID string) error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.LlmModels {
			v := &data.LlmModels[i]
			if v.ID != variantID {
				continue
			}
			if v.hasUserKey() {
				return nil
			}
			resetDailyUsage(v, m.today())
			if v.FreeTotalTokenUsage >= llmDailyTokenLimit {
				return ErrQuotaExceeded
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownModel, variantID)
	})
	return err
}

// RecordLlmUsage adds one request and its token usage to a variant.
func (m *Manager) RecordLlmUsage(variantID string, tokens int) error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.LlmModels {
			v := &data.LlmModels[i]
			if v.ID != variantID {
				continue
			}
			resetDailyUsage(v, m.today())
			v.TotalRequests++
			v.TotalTokenUsage += tokens
			v.FreeTotalRequests++
			v.FreeTotalTokenUsage += tokens
		}
		return nil
	})
	return err
}

// RevertLlmUsage undoes a previous RecordLlmUsage, clamping at zero.
func (m *Manager) RevertLlmUsage(variantID string, tokens int) error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.LlmModels {
			v := &data.LlmModels[i]
			if v.ID != variantID {
				continue
			}
			v.TotalRequests = max(0, v.TotalRequests-1)
			v.TotalTokenUsage = max(0, v.TotalTokenUsage-tokens)
			v.FreeTotalRequests = max(0, v.FreeTotalRequests-1)
			v.FreeTotalTokenUsage = max(0, v.FreeTotalTokenUsage-tokens)
		}
		return nil
	})
	return err
}

// RecordAsrUsage adds one request and its audio duration to a variant.
func (m *Manager) RecordAsrUsage(variantID string, durationSeconds float64) error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.AsrModels {
			v := &data.AsrModels[i]
			if v.ID != variantID {
				continue
			}
			v.TotalRequests++
			v.TotalHours = max(0, v.TotalHours+durationSeconds/3600)
		}
		return nil
	})
	return err
}

// RevertAsrUsage undoes a previous RecordAsrUsage.
func (m *Manager) RevertAsrUsage(variantID string, durationSeconds float64) error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.AsrModels {
			v := &data.AsrModels[i]
			if v.ID != variantID {
				continue
			}
			v.TotalRequests = max(0, v.TotalRequests-1)
			v.TotalHours = max(0, v.TotalHours-durationSeconds/3600)
		}
		return nil
	})
	return err
}

// ResetUsageStats zeroes every usage counter.
func (m *Manager) ResetUsageStats() error {
	_, err := m.withStore(func(data *Store) error {
		for i := range data.LlmModels {
			v := &data.LlmModels[i]
			v.TotalRequests = 0
			v.TotalTokenUsage = 0
			v.FreeTotalRequests = 0
			v.FreeTotalTokenUsage = 0
			v.UsageDate = ""
		}
		for i := range data.AsrModels {
			data.AsrModels[i].TotalRequests = 0
			data.AsrModels[i].TotalHours = 0
		}
		return nil
	})
	return err
}
