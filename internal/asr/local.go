package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pengling9405/miaoyu/internal/audio"
)

// LocalConfig configures the client for the local inference runtime that
// hosts the downloaded offline models.
type LocalConfig struct {
	BaseURL string
	ModelID string        // which loaded model to recognize with
	Timeout time.Duration // per-utterance budget, default 30s
}

// LocalRecognizer posts WAV audio to a local inference server and parses
// the recognition response. The server loads its weights from the model
// directory the ModelManager maintains.
type LocalRecognizer struct {
	cfg    LocalConfig
	client *http.Client
}

func NewLocalRecognizer(cfg LocalConfig) *LocalRecognizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LocalRecognizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMS int     `json:"duration_ms"`
}

func (r *LocalRecognizer) Recognize(ctx context.Context, samples []int16, sampleRate int) (Result, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode wav: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/recognize?model=%s", r.cfg.BaseURL, url.QueryEscape(r.cfg.ModelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return Result{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call recognize: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("recognize returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var payload recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode recognize response: %w", err)
	}

	result := Result{
		Text:       payload.Text,
		Confidence: payload.Confidence,
		DurationMS: payload.DurationMS,
	}
	if result.DurationMS == 0 && sampleRate > 0 {
		result.DurationMS = len(samples) * 1000 / sampleRate
	}
	return result, nil
}
