// Package extract turns loaded documents into structured extraction results
// using an LLM.
package extract

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/finrecon/internal/config"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/resilience"
	"github.com/sells-group/finrecon/internal/telemetry"
	"github.com/sells-group/finrecon/pkg/anthropic"
)

// ErrMalformed is returned when the model's reply is not a valid
// extraction result. It is not retried.
var ErrMalformed = eris.New("extract: malformed extraction")

// Oracle extracts line items from one document.
type Oracle interface {
	Extract(ctx context.Context, doc *loader.Document) (*model.ExtractionResult, error)
}

// ClaudeOracle is an Oracle backed by the Anthropic Messages API.
type ClaudeOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
	metrics   *telemetry.Metrics

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// Option customizes a ClaudeOracle.
type Option func(*ClaudeOracle)

// WithMetrics records call latency and token usage.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *ClaudeOracle) { o.metrics = m }
}

// WithRetry overrides the retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *ClaudeOracle) { o.retry = rc }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(o *ClaudeOracle) { o.breaker = b }
}

// NewClaudeOracle creates an oracle using cfg for model, limits and
// resilience settings.
func NewClaudeOracle(client anthropic.Client, cfg config.AnthropicConfig, opts ...Option) *ClaudeOracle {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	o := &ClaudeOracle{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     resilience.OracleRetry(cfg),
		breaker:   resilience.OracleBreaker(cfg),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extract sends the document to the model and validates the reply. PDFs
// without a text layer are attached as documents.
func (o *ClaudeOracle) Extract(ctx context.Context, doc *loader.Document) (*model.ExtractionResult, error) {
	msg := anthropic.Message{Role: "user", Content: userPrompt(doc)}
	if doc.FileType == model.FileTypePDF && !doc.HasText() {
		msg.PDF = doc.Data
	}
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt, "1h"),
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Call(o.breaker, func() (*anthropic.MessageResponse, error) {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			start := time.Now()
			resp, err := o.client.CreateMessage(ctx, req)
			o.metrics.OracleCall(time.Since(start), err)
			return resp, err
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", doc.Filename)
	}

	o.record(resp.Usage, doc.Filename)

	if resp.StopReason == "max_tokens" {
		return nil, eris.Wrapf(ErrMalformed, "extract: %s: response truncated at %d tokens", doc.Filename, o.maxTokens)
	}
	result, err := model.ParseExtractionResult([]byte(cleanJSON(resp.Text())))
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "extract: %s: %v", doc.Filename, err)
	}
	if result.FileType != doc.FileType {
		return nil, eris.Wrapf(ErrMalformed, "extract: %s: reported file_type %q", doc.Filename, result.FileType)
	}

	zap.L().Debug("extract: completed",
		zap.String("file", doc.Filename),
		zap.Int("line_items", result.LineItemCount()),
		zap.String("period", result.Period),
	)
	return result, nil
}

func (o *ClaudeOracle) record(u anthropic.TokenUsage, file string) {
	o.mu.Lock()
	o.usage.Add(u)
	o.mu.Unlock()
	u.LogCost(o.model, file)
	o.metrics.Tokens(u.InputTokens, u.OutputTokens)
}

// Usage returns the tokens consumed so far.
func (o *ClaudeOracle) Usage() anthropic.TokenUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}
