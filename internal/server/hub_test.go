package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pengling9405/miaoyu/internal/dictation"
)

func receiveEvent(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var event map[string]any
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	hub.Broadcast([]byte(`{"type":"ping"}`))

	for _, ch := range []chan []byte{a, b} {
		if event := receiveEvent(t, ch); event["type"] != "ping" {
			t.Fatalf("event type = %v", event["type"])
		}
	}
}

func TestHubUnsubscribedClientStopsReceiving(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	// Must not panic on a closed channel.
	hub.Broadcast([]byte("late"))

	if msg, ok := <-ch; ok {
		t.Fatalf("received %q after unsubscribe", msg)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Broadcast([]byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber channel")
	}
}

func TestStateChangedEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.StateChanged(dictation.StateEvent{
		Type:  dictation.StateTranscribing,
		Mode:  dictation.ModeDiary,
		Stage: dictation.StageASR,
	})

	event := receiveEvent(t, ch)
	if event["type"] != "audio-state-changed" {
		t.Fatalf("type = %v", event["type"])
	}
	if event["state"] != "transcribing" || event["mode"] != "diary" || event["stage"] != "asr" {
		t.Fatalf("payload: %v", event)
	}
	if event["version"] != float64(EventVersion) {
		t.Fatalf("version = %v", event["version"])
	}
	if _, err := time.Parse(time.RFC3339Nano, event["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
}

func TestDownloadProgressEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.DownloadProgress("paraformer", 1024, 4096)

	event := receiveEvent(t, ch)
	if event["type"] != "offline-model-download-progress" {
		t.Fatalf("type = %v", event["type"])
	}
	if event["modelId"] != "paraformer" {
		t.Fatalf("modelId = %v", event["modelId"])
	}
	if event["receivedBytes"] != float64(1024) || event["totalBytes"] != float64(4096) {
		t.Fatalf("progress: %v", event)
	}
}

func TestNotificationEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.Notify("未检测到语音", dictation.SeverityInfo)

	event := receiveEvent(t, ch)
	if event["type"] != "notification" {
		t.Fatalf("type = %v", event["type"])
	}
	if event["message"] != "未检测到语音" || event["severity"] != "info" {
		t.Fatalf("payload: %v", event)
	}
}
