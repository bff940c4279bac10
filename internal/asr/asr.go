// Package asr defines the speech recognition contract the pipeline consumes.
package asr

import "context"

// Result is the recognizer output for one utterance.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMS int     `json:"duration_ms"`
}

// Recognizer converts one utterance's mono PCM into text. Implementations
// must be safe for concurrent use; the pipeline runs several workers.
type Recognizer interface {
	Recognize(ctx context.Context, samples []int16, sampleRate int) (Result, error)
}
