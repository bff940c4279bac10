// Package polish runs the optional LLM pass over a finished
// transcript. Every failure mode degrades to the raw text; polishing
// is never fatal to a session.
package polish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pengling9405/miaoyu/internal/llm"
	"github.com/pengling9405/miaoyu/internal/models"
)

// DefaultSystemPrompt instructs the model to clean up ASR output
// without changing its meaning.
const DefaultSystemPrompt = `你是一个专业的文字润色助手。请对用户提供的语音识别文本进行智能优化：
1. 修正语音识别可能出现的错误
2. 添加合适的标点符号
3. 优化语句使其更加通顺自然
4. 保持原意不变，不要添加或删除关键信息
5. 直接返回优化后的文本，不要添加任何解释或前缀`

// Status records how the polish stage ended for a history entry.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusSkipped       Status = "skipped"
	StatusQuotaExceeded Status = "quotaExceeded"
	StatusFailed        Status = "failed"
)

var (
	ErrAuth    = errors.New("llm authentication failed")
	ErrTimeout = errors.New("llm request timed out")
)

// Result is the outcome of one polish attempt. Text always holds the
// text to commit, polished or raw.
type Result struct {
	Text       string
	Status     Status
	Err        string
	TokensUsed int
	VariantID  string
}

// quotaChecker is the slice of the model manager the polisher needs.
type quotaChecker interface {
	ActiveLlmVariant() (models.LlmVariant, bool)
	CheckLlmQuota(variantID string) error
	RecordLlmUsage(variantID string, tokens int) error
	ResolveAPIKey(v models.LlmVariant, envKeys map[string]string) string
	ProviderFor(v models.LlmVariant) (models.LlmProvider, bool)
}

// Polisher sends punctuated transcripts to the active text model.
type Polisher struct {
	manager      quotaChecker
	systemPrompt string
	timeout      time.Duration
	envKeys      map[string]string
	logger       *slog.Logger

	// newClient is swapped in tests.
	newClient func(provider, apiKey, model string, opts ...llm.Option) (llm.Client, error)
}

// Config carries polisher construction parameters.
type Config struct {
	SystemPrompt string
	Timeout      time.Duration
	// EnvKeys maps env var names to credentials read at startup,
	// consulted when no user key is stored for a variant.
	EnvKeys map[string]string
	Logger  *slog.Logger
}

func New(manager quotaChecker, cfg Config) *Polisher {
	p := &Polisher{
		manager:      manager,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		envKeys:      cfg.EnvKeys,
		logger:       cfg.Logger,
		newClient:    llm.NewClient,
	}
	if p.systemPrompt == "" {
		p.systemPrompt = DefaultSystemPrompt
	}
	if p.timeout <= 0 {
		p.timeout = 8 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Polish runs the LLM pass over text. It returns the text to commit
// plus the stage outcome; the error is always nil for callers that
// just want the fallback behavior, failures are reported in Result.
func (p *Polisher) Polish(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text, Status: StatusSkipped}
	}

	variant, ok := p.manager.ActiveLlmVariant()
	if !ok {
		return Result{Text: text, Status: StatusSkipped}
	}

	apiKey := p.manager.ResolveAPIKey(variant, p.envKeys)
	if apiKey == "" {
		return Result{Text: text, Status: StatusSkipped}
	}

	if err := p.manager.CheckLlmQuota(variant.ID); err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			p.logger.Warn("free polish quota exhausted", "variant", variant.ID)
			return Result{Text: text, Status: StatusQuotaExceeded, Err: err.Error(), VariantID: variant.ID}
		}
		return Result{Text: text, Status: StatusFailed, Err: err.Error(), VariantID: variant.ID}
	}

	provider, ok := p.manager.ProviderFor(variant)
	if !ok {
		return Result{Text: text, Status: StatusFailed, Err: "unknown provider for active variant", VariantID: variant.ID}
	}

	client, err := p.newClient(provider.ID, apiKey, provider.Model, llm.WithBaseURL(provider.APIBaseURL))
	if err != nil {
		return Result{Text: text, Status: StatusFailed, Err: err.Error(), VariantID: variant.ID}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	completion, err := client.Complete(ctx, []llm.Message{
		{Role: "system", Content: p.systemPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		err = classify(ctx, err)
		p.logger.Warn("polish failed, keeping raw text",
			"variant", variant.ID, "error", err)
		return Result{Text: text, Status: StatusFailed, Err: err.Error(), VariantID: variant.ID}
	}

	polished := strings.TrimSpace(completion.Text)
	if polished == "" {
		return Result{Text: text, Status: StatusFailed, Err: "empty polish response", VariantID: variant.ID}
	}

	if err := p.manager.RecordLlmUsage(variant.ID, completion.TotalTokens); err != nil {
		p.logger.Warn("record llm usage", "variant", variant.ID, "error", err)
	}
	return Result{
		Text:       polished,
		Status:     StatusSuccess,
		TokensUsed: completion.TotalTokens,
		VariantID:  variant.ID,
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return err
}
