package models

import "errors"

var (
	ErrUnknownModel       = errors.New("unknown model")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrModelNotReady      = errors.New("model not ready")
	ErrDownloadInProgress = errors.New("another model download is in progress")
	ErrDownloadFailed     = errors.New("model download failed")
	ErrChecksumMismatch   = errors.New("model checksum mismatch")
	ErrSessionActive      = errors.New("a dictation session is active")
	ErrQuotaExceeded      = errors.New("daily free token quota exhausted")
)
