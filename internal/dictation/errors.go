package dictation

import "errors"

var (
	ErrPermissionDenied  = errors.New("microphone unavailable or permission denied")
	ErrModelNotReady     = errors.New("active speech model is not ready")
	ErrAlreadyActive     = errors.New("a dictation session is already active")
	ErrNotDictating      = errors.New("no dictation session to stop")
	ErrNoSpeech          = errors.New("no speech detected")
	ErrRecordingTooShort = errors.New("recording too short")
	ErrInference         = errors.New("speech recognition failed")
	ErrHistoryIO         = errors.New("history store failure")
)
