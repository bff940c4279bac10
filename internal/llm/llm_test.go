package llm

import (
	"strings"
	"testing"
)

func TestNewClientUnknownProvider(t *testing.T) {
	client, err := NewClient("unknown", "key", "some-model")
	if err == nil {
		t.Fatalf("expected error for unknown provider, got nil")
	}
	if client != nil {
		t.Fatalf("expected nil client, got %#v", client)
	}
	if !strings.Contains(err.Error(), "unknown LLM provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClientOpenAICompatibleProviders(t *testing.T) {
	for _, provider := range []string{"openai", "deepseek", "modelscope"} {
		t.Run(provider, func(t *testing.T) {
			client, err := NewClient(provider, "key", "some-model", WithBaseURL("http://127.0.0.1:1/v1"))
			if err != nil {
				t.Fatalf("NewClient(%q) failed: %v", provider, err)
			}
			if _, ok := client.(*openaiClient); !ok {
				t.Fatalf("expected openai-compatible client for %q, got %T", provider, client)
			}
		})
	}
}
