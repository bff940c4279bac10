package punc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocalRestorer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/punctuate" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}

		var req punctuateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "今天天气不错" {
			t.Fatalf("unexpected request text %q", req.Text)
		}

		_ = json.NewEncoder(w).Encode(punctuateResponse{Text: "今天天气不错。"})
	}))
	defer server.Close()

	restorer := NewLocalRestorer(LocalConfig{BaseURL: server.URL, ModelID: "punct-model"})

	got, err := restorer.Restore(context.Background(), "今天天气不错")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got != "今天天气不错。" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestLocalRestorerEmptyInputIsPassThrough(t *testing.T) {
	restorer := NewLocalRestorer(LocalConfig{BaseURL: "http://unused", ModelID: "m"})

	got, err := restorer.Restore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got != "  " {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestLocalRestorerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no punct model", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	restorer := NewLocalRestorer(LocalConfig{BaseURL: server.URL, ModelID: "m"})

	if _, err := restorer.Restore(context.Background(), "raw text"); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestLocalRestorerRejectsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(punctuateResponse{Text: " "})
	}))
	defer server.Close()

	restorer := NewLocalRestorer(LocalConfig{BaseURL: server.URL, ModelID: "m"})

	if _, err := restorer.Restore(context.Background(), "raw text"); err == nil {
		t.Fatal("expected error for empty response text")
	}
}
