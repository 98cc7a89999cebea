package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/metrics"
	"github.com/jonathan/animation-agent/internal/prompts"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 2 * time.Minute

// CodeProducer returns Manim scene source. Both methods fail with a
// *GenerationError.
type CodeProducer interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Fix(ctx context.Context, source, errText string) (string, error)
}

// Producer implements CodeProducer on top of a Client.
type Producer struct {
	client  Client
	config  *Config
	cache   *SourceCache
	timeout time.Duration
	logger  *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithCache caches Generate results. Fix results are never cached.
func WithCache(cache *SourceCache) ProducerOption {
	return func(p *Producer) { p.cache = cache }
}

// WithConfig overrides the model configuration.
func WithConfig(config *Config) ProducerOption {
	return func(p *Producer) { p.config = config }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ProducerOption {
	return func(p *Producer) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = logger }
}

// NewProducer creates a Producer.
func NewProducer(client Client, opts ...ProducerOption) *Producer {
	p := &Producer{
		client:  client,
		config:  DefaultConfig(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "producer")
	return p
}

// Generate implements CodeProducer.
func (p *Producer) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &GenerationError{Message: "prompt is empty"}
	}
	if p.cache != nil {
		if source, ok := p.cache.Get(prompt); ok {
			metrics.ProducerCacheTotal.WithLabelValues("hit").Inc()
			p.logger.Debug("scene source served from cache", "prompt_len", len(prompt))
			return source, nil
		}
		metrics.ProducerCacheTotal.WithLabelValues("miss").Inc()
	}

	userPrompt := prompts.Format(prompts.MustGet(prompts.Codegen, prompts.KeyGenerate), map[string]string{"Request": prompt})
	source, err := p.call(ctx, Request{
		System:      prompts.MustGet(prompts.Codegen, prompts.KeySystem),
		Prompt:      userPrompt,
		Tier:        TierStandard,
		Temperature: p.config.GenerateTemperature,
	})
	if err != nil {
		return "", err
	}

	p.cache.Set(prompt, source)
	return source, nil
}

// Fix implements CodeProducer. The prompt carries the primary error line, the
// full error and the failing source.
func (p *Producer) Fix(ctx context.Context, source, errText string) (string, error) {
	summary := diagnose.PrimaryErrorLine(errText)
	if summary == "" {
		summary = errText
	}
	fixPrompt, err := prompts.Render(prompts.KeyFix, map[string]string{
		"Summary": summary,
		"Error":   errText,
		"Source":  source,
	})
	if err != nil {
		return "", &GenerationError{Message: "failed to build fix prompt", Cause: err}
	}

	system := prompts.MustGet(prompts.Codegen, prompts.KeySystem) +
		"\n\nAdditional rules:\n" + prompts.MustGet(prompts.Codegen, prompts.KeyFixRules)

	return p.call(ctx, Request{
		System:      system,
		Prompt:      fixPrompt,
		Tier:        TierAdvanced,
		Temperature: p.config.FixTemperature,
	})
}

func (p *Producer) call(ctx context.Context, req Request) (string, error) {
	if p.client == nil {
		return "", &GenerationError{Message: "no LLM client configured (set GEMINI_API_KEY)"}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.client.GenerateContent(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &GenerationError{Message: "model call timed out", Cause: err}
		}
		return "", &GenerationError{Message: "model call failed", Cause: err}
	}

	source := CleanCodeBlock(text)
	if source == "" {
		return "", &GenerationError{Message: "model returned no code"}
	}
	if !strings.Contains(source, "class GenScene") {
		return "", &GenerationError{Message: "generated code does not define 'class GenScene'"}
	}

	p.logger.Info("scene source generated",
		"tier", req.Tier,
		"model", p.config.GetModel(req.Tier),
		"duration_ms", time.Since(start).Milliseconds(),
		"source_len", len(source))
	return source, nil
}
