package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// AudioStateEvent reports a state machine transition. The envelope's
// "type" field names the event, so the machine state travels under
// "state" rather than "type".
type AudioStateEvent struct {
	Event
	State string `json:"state"`
	Mode  string `json:"mode,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// TranscribingStageEvent reports entry into a transcribing sub-stage.
type TranscribingStageEvent struct {
	Event
	Stage string `json:"stage"`
}

// DownloadProgressEvent streams model download progress. TotalBytes
// is zero when the server did not report a content length.
type DownloadProgressEvent struct {
	Event
	ModelID       string `json:"modelId"`
	ReceivedBytes int64  `json:"receivedBytes"`
	TotalBytes    int64  `json:"totalBytes"`
}

// NotificationEvent carries user-facing feedback.
type NotificationEvent struct {
	Event
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
