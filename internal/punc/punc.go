// Package punc restores punctuation in raw recognition output.
package punc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Restorer inserts punctuation and sentence breaks into raw ASR text.
type Restorer interface {
	Restore(ctx context.Context, text string) (string, error)
}

// LocalConfig configures the punctuation endpoint of the local inference
// runtime.
type LocalConfig struct {
	BaseURL string
	ModelID string
	Timeout time.Duration
}

// LocalRestorer calls the punctuation model hosted by the local inference
// server.
type LocalRestorer struct {
	cfg    LocalConfig
	client *http.Client
}

func NewLocalRestorer(cfg LocalConfig) *LocalRestorer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LocalRestorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type punctuateRequest struct {
	Text string `json:"text"`
}

type punctuateResponse struct {
	Text string `json:"text"`
}

func (r *LocalRestorer) Restore(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	body, err := json.Marshal(punctuateRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode punctuate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/punctuate?model=%s", r.cfg.BaseURL, url.QueryEscape(r.cfg.ModelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build punctuate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call punctuate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("punctuate returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var payload punctuateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode punctuate response: %w", err)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return "", fmt.Errorf("punctuate returned empty text")
	}

	return payload.Text, nil
}
