package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pengling9405/miaoyu/internal/dictation"
	"github.com/pengling9405/miaoyu/internal/history"
	"github.com/pengling9405/miaoyu/internal/models"
)

// Dictator is the slice of the state machine the API exposes.
type Dictator interface {
	Start(mode dictation.Mode, sourceApp string) error
	Stop(uiTriggered bool) (*history.Entry, error)
	Cancel()
	State() (dictation.State, dictation.Stage)
}

// ModelManager is the slice of the model manager the API exposes.
type ModelManager interface {
	Catalog() models.Catalog
	ModelsStore() (models.Store, error)
	Status() models.OfflineStatus
	Download(ctx context.Context, modelID string) error
	SetActiveAsrModel(modelID string) (models.Store, error)
	SetActiveTextModel(modelID string) (models.Store, error)
	TestCredential(ctx context.Context, modelID, providerID, apiKey string) error
	UpdateCredential(ctx context.Context, modelID, providerID, apiKey string) (models.Store, error)
	RevertLlmUsage(variantID string, tokens int) error
	RevertAsrUsage(variantID string, durationSeconds float64) error
	ResetUsageStats() error
}

// HistoryStore is the slice of the history store the API exposes.
type HistoryStore interface {
	List(filter history.Filter) ([]history.Entry, error)
	Stats() (history.Stats, error)
	Delete(id string) (history.RemovalInfo, error)
	Clear() error
	LoadAudio(path string) (string, error)
}

func registerAPIRoutes(mux *http.ServeMux, dictator Dictator, manager ModelManager, store HistoryStore) {
	mux.HandleFunc("POST /api/dictation/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode      string `json:"mode"`
			SourceApp string `json:"sourceApp"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := dictator.Start(dictation.Mode(req.Mode), req.SourceApp); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/dictation/stop", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UITriggered bool `json:"uiTriggered"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		entry, err := dictator.Stop(req.UITriggered)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"outcome": "committed", "entry": entry})
		case errors.Is(err, dictation.ErrNoSpeech):
			writeJSON(w, http.StatusOK, map[string]any{"outcome": "noSpeech"})
		case errors.Is(err, dictation.ErrRecordingTooShort):
			writeJSON(w, http.StatusOK, map[string]any{"outcome": "tooShort"})
		default:
			writeJSONError(w, statusFor(err), err.Error())
		}
	})

	mux.HandleFunc("POST /api/dictation/cancel", func(w http.ResponseWriter, r *http.Request) {
		dictator.Cancel()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/dictation/state", func(w http.ResponseWriter, r *http.Request) {
		state, stage := dictator.State()
		writeJSON(w, http.StatusOK, map[string]string{
			"state": string(state),
			"stage": string(stage),
		})
	})

	mux.HandleFunc("GET /api/models/supported", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Catalog())
	})

	mux.HandleFunc("GET /api/models/store", func(w http.ResponseWriter, r *http.Request) {
		data, err := manager.ModelsStore()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, data.Redacted())
	})

	mux.HandleFunc("GET /api/models/offline-status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Status())
	})

	mux.HandleFunc("POST /api/models/download", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelID string `json:"modelId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := manager.Download(r.Context(), req.ModelID); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, manager.Status())
	})

	mux.HandleFunc("POST /api/models/active-asr", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelID string `json:"modelId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := manager.SetActiveAsrModel(req.ModelID)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, data.Redacted())
	})

	mux.HandleFunc("POST /api/models/active-text", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelID string `json:"modelId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := manager.SetActiveTextModel(req.ModelID)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, data.Redacted())
	})

	mux.HandleFunc("POST /api/models/test-key", func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := manager.TestCredential(r.Context(), req.ModelID, req.ProviderID, req.APIKey); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	})

	mux.HandleFunc("POST /api/models/credentials", func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := manager.UpdateCredential(r.Context(), req.ModelID, req.ProviderID, req.APIKey)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, data.Redacted())
	})

	mux.HandleFunc("POST /api/models/reset-usage", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.ResetUsageStats(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		filter := history.Filter{Kind: r.URL.Query().Get("kind")}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid offset")
				return
			}
			filter.Offset = n
		}

		entries, err := store.List(filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list history: %v", err))
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("GET /api/history/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("history stats: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("DELETE /api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		info, err := store.Delete(r.PathValue("id"))
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}

		// Give back what the deleted entry consumed.
		if info.LlmVariantID != "" {
			if err := manager.RevertLlmUsage(info.LlmVariantID, info.LlmTotalTokens); err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("revert llm usage: %v", err))
				return
			}
		}
		if info.AsrVariantID != "" {
			if err := manager.RevertAsrUsage(info.AsrVariantID, float64(info.DurationSeconds)); err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("revert asr usage: %v", err))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/history/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("clear history: %v", err))
			return
		}
		if err := manager.ResetUsageStats(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("reset usage: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/history/audio", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		encoded, err := store.LoadAudio(path)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"audio": encoded})
	})
}

type credentialRequest struct {
	ModelID    string `json:"modelId"`
	ProviderID string `json:"providerId"`
	APIKey     string `json:"apiKey"`
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownModel),
		errors.Is(err, models.ErrUnknownProvider),
		errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDownloadInProgress),
		errors.Is(err, models.ErrSessionActive),
		errors.Is(err, models.ErrModelNotReady),
		errors.Is(err, dictation.ErrModelNotReady),
		errors.Is(err, dictation.ErrAlreadyActive),
		errors.Is(err, dictation.ErrNotDictating):
		return http.StatusConflict
	case errors.Is(err, history.ErrInvalidPath):
		return http.StatusForbidden
	case errors.Is(err, models.ErrDownloadFailed),
		errors.Is(err, models.ErrChecksumMismatch):
		return http.StatusBadGateway
	case errors.Is(err, dictation.ErrPermissionDenied):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
