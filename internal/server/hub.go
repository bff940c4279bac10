package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pengling9405/miaoyu/internal/dictation"
)

// Hub fans events out to websocket subscribers. Slow subscribers drop
// messages rather than blocking the pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// StateChanged implements dictation.Notifier.
func (h *Hub) StateChanged(event dictation.StateEvent) {
	h.broadcastEvent(AudioStateEvent{
		Event: newEvent("audio-state-changed", time.Now().UTC()),
		State: string(event.Type),
		Mode:  string(event.Mode),
		Stage: string(event.Stage),
	})
}

// TranscribingStage implements dictation.Notifier.
func (h *Hub) TranscribingStage(stage dictation.Stage) {
	h.broadcastEvent(TranscribingStageEvent{
		Event: newEvent("on-transcribing-stage", time.Now().UTC()),
		Stage: string(stage),
	})
}

// Notify implements dictation.Notifier.
func (h *Hub) Notify(message string, severity dictation.Severity) {
	h.broadcastEvent(NotificationEvent{
		Event:    newEvent("notification", time.Now().UTC()),
		Message:  message,
		Severity: string(severity),
	})
}

// DownloadProgress matches models.ProgressFunc.
func (h *Hub) DownloadProgress(modelID string, receivedBytes, totalBytes int64) {
	h.broadcastEvent(DownloadProgressEvent{
		Event:         newEvent("offline-model-download-progress", time.Now().UTC()),
		ModelID:       modelID,
		ReceivedBytes: receivedBytes,
		TotalBytes:    totalBytes,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
