package polish

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pengling9405/miaoyu/internal/llm"
	"github.com/pengling9405/miaoyu/internal/models"
)

type fakeManager struct {
	variant     models.LlmVariant
	hasVariant  bool
	quotaErr    error
	apiKey      string
	recorded    []int
	recordedIDs []string
}

func (f *fakeManager) ActiveLlmVariant() (models.LlmVariant, bool) {
	return f.variant, f.hasVariant
}

func (f *fakeManager) CheckLlmQuota(string) error { return f.quotaErr }

func (f *fakeManager) RecordLlmUsage(variantID string, tokens int) error {
	f.recorded = append(f.recorded, tokens)
	f.recordedIDs = append(f.recordedIDs, variantID)
	return nil
}

func (f *fakeManager) ResolveAPIKey(models.LlmVariant, map[string]string) string { return f.apiKey }

func (f *fakeManager) ProviderFor(models.LlmVariant) (models.LlmProvider, bool) {
	return models.LlmProvider{ID: "deepseek", Model: "deepseek-chat"}, true
}

type fakeClient struct {
	completion llm.Completion
	err        error
	delay      time.Duration
}

func (c *fakeClient) Complete(ctx context.Context, _ []llm.Message) (llm.Completion, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return llm.Completion{}, ctx.Err()
		}
	}
	return c.completion, c.err
}

func newTestPolisher(mgr *fakeManager, client llm.Client, cfg Config) *Polisher {
	p := New(mgr, cfg)
	p.newClient = func(string, string, string, ...llm.Option) (llm.Client, error) {
		return client, nil
	}
	return p
}

func activeManager() *fakeManager {
	return &fakeManager{
		variant:    models.LlmVariant{ID: "deepseek-chat", TextModelID: "deepseek", Provider: "deepseek"},
		hasVariant: true,
		apiKey:     "sk-test",
	}
}

func TestPolishSuccessRecordsUsage(t *testing.T) {
	mgr := activeManager()
	client := &fakeClient{completion: llm.Completion{Text: "今天天气不错。", TotalTokens: 42}}
	p := newTestPolisher(mgr, client, Config{})

	res := p.Polish(context.Background(), "今天天气不错")
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (err %q)", res.Status, res.Err)
	}
	if res.Text != "今天天气不错。" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.TokensUsed != 42 {
		t.Fatalf("tokens = %d, want 42", res.TokensUsed)
	}
	if len(mgr.recorded) != 1 || mgr.recorded[0] != 42 {
		t.Fatalf("usage not recorded: %v", mgr.recorded)
	}
	if mgr.recordedIDs[0] != "deepseek-chat" {
		t.Fatalf("usage recorded against %q", mgr.recordedIDs[0])
	}
}

func TestPolishSkippedWithoutCredential(t *testing.T) {
	mgr := activeManager()
	mgr.apiKey = ""
	p := newTestPolisher(mgr, &fakeClient{}, Config{})

	res := p.Polish(context.Background(), "some text")
	if res.Status != StatusSkipped {
		t.Fatalf("status = %q, want skipped", res.Status)
	}
	if res.Text != "some text" {
		t.Fatalf("text changed on skip: %q", res.Text)
	}
	if len(mgr.recorded) != 0 {
		t.Fatal("usage recorded despite skip")
	}
}

func TestPolishSkippedWithoutActiveModel(t *testing.T) {
	p := newTestPolisher(&fakeManager{}, &fakeClient{}, Config{})
	res := p.Polish(context.Background(), "some text")
	if res.Status != StatusSkipped || res.Text != "some text" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPolishQuotaExceededFallsBack(t *testing.T) {
	mgr := activeManager()
	mgr.quotaErr = models.ErrQuotaExceeded
	p := newTestPolisher(mgr, &fakeClient{}, Config{})

	res := p.Polish(context.Background(), "raw text")
	if res.Status != StatusQuotaExceeded {
		t.Fatalf("status = %q, want quotaExceeded", res.Status)
	}
	if res.Text != "raw text" {
		t.Fatalf("text = %q, want raw fallback", res.Text)
	}
}

func TestPolishTimeoutFallsBack(t *testing.T) {
	mgr := activeManager()
	client := &fakeClient{delay: time.Second, completion: llm.Completion{Text: "late"}}
	p := newTestPolisher(mgr, client, Config{Timeout: 20 * time.Millisecond})

	res := p.Polish(context.Background(), "raw text")
	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.Text != "raw text" {
		t.Fatalf("text = %q, want raw fallback", res.Text)
	}
	if !strings.Contains(res.Err, ErrTimeout.Error()) {
		t.Fatalf("error %q does not mention timeout", res.Err)
	}
	if len(mgr.recorded) != 0 {
		t.Fatal("usage recorded for a failed polish")
	}
}

func TestPolishAuthErrorClassified(t *testing.T) {
	mgr := activeManager()
	client := &fakeClient{err: errors.New("openai completion: status 401 Unauthorized")}
	p := newTestPolisher(mgr, client, Config{})

	res := p.Polish(context.Background(), "raw text")
	if res.Status != StatusFailed || res.Text != "raw text" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Err, ErrAuth.Error()) {
		t.Fatalf("error %q not classified as auth failure", res.Err)
	}
}

func TestPolishEmptyInputSkipped(t *testing.T) {
	p := newTestPolisher(activeManager(), &fakeClient{}, Config{})
	res := p.Polish(context.Background(), "   ")
	if res.Status != StatusSkipped {
		t.Fatalf("status = %q, want skipped", res.Status)
	}
}
