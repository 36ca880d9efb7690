package labeler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/spanlabel/internal/fastpath"
	"github.com/jmylchreest/spanlabel/internal/llm"
	"github.com/jmylchreest/spanlabel/internal/logger"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// Labeler is the pipeline entry point. It is stateless across calls: each
// LabelSpans call owns its position cache, and the provider handle, role
// set and configuration are read-only, so one Labeler is safe for
// concurrent use.
type Labeler struct {
	provider  llm.Provider
	fast      fastpath.Extractor
	roles     span.RoleSet
	validator *span.Validator
	cfg       Config
}

// New creates a Labeler around an oracle provider.
func New(provider llm.Provider, opts ...Option) *Labeler {
	l := &Labeler{
		provider: provider,
		roles:    span.DefaultRoles(),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.validator = span.NewValidator(l.roles)
	return l
}

// LabelSpans extracts labeled spans from text. Inputs over the chunk word
// threshold are split, processed per chunk and merged back into global
// coordinates; everything else takes the single-pass path.
func (l *Labeler) LabelSpans(ctx context.Context, text string, opts span.Options) (span.Result, error) {
	if strings.TrimSpace(text) == "" {
		return span.Result{}, fmt.Errorf("%w: text is empty or whitespace-only", ErrInvalidInput)
	}
	if l.provider == nil {
		return span.Result{}, fmt.Errorf("%w: no oracle provider configured", ErrInvalidInput)
	}

	words := span.CountWords(text)
	if words > l.cfg.MaxWordsPerChunk {
		return l.labelChunked(ctx, text, opts, words)
	}
	return l.labelSingle(ctx, text, opts)
}

// labelSingle is the single-pass path: fast path first, oracle fallback,
// strict validation, then lenient validation or a single repair round.
func (l *Labeler) labelSingle(ctx context.Context, text string, opts span.Options) (span.Result, error) {
	cache := span.NewPositionCache(text)

	a := &assessor{cfg: l.cfg, fast: l.fast, validator: l.validator}
	if res := a.extract(text, opts, cache); res != nil {
		logger.Debug("fast path accepted, oracle skipped", "spans", len(res.Spans))
		return *res, nil
	}

	resp, err := l.callOracle(ctx, opLabelSpans, buildLabelPrompt(text, l.roles, opts))
	if err != nil {
		return span.Result{}, err
	}

	p, perr := parseResponse(resp.Content, opts)
	if perr != nil {
		if !opts.EnableRepair {
			return span.Result{}, perr
		}
		// A malformed response is repairable while the repair attempt is
		// still available.
		return l.repair(ctx, text, resp.Content, []string{perr.Error()}, opts, cache)
	}

	// Fail closed on adversarial input: no validation, no repair.
	if p.IsAdversarial {
		logger.Warn("adversarial input detected, returning empty result")
		return adversarialResult(p.Meta), nil
	}

	strict := l.validator.Validate(p.Spans, p.Meta, text, opts.Policy, opts, span.AttemptStrict, cache, false)
	if strict.OK {
		return strict, nil
	}

	if !opts.EnableRepair {
		logger.Debug("strict validation failed, falling back to lenient",
			"violations", len(strict.Errors))
		lenient := l.validator.Validate(p.Spans, p.Meta, text, opts.Policy, opts, span.AttemptLenient, cache, false)
		return lenient, nil
	}

	return l.repair(ctx, text, resp.Content, strict.Errors, opts, cache)
}

// callOracle issues one oracle call with the standard system prompt and
// structured-output settings.
func (l *Labeler) callOracle(ctx context.Context, operation, userMessage string) (llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		Operation: operation,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userMessage},
		},
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
		JSONMode:    true,
	}
	if l.provider.SupportsJSONSchema() {
		req.JSONSchema = responseJSONSchema(l.roles)
	}

	start := time.Now()
	resp, err := l.provider.Complete(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("oracle call %q failed: %w", operation, err)
	}
	logger.Debug("oracle call complete",
		"operation", operation,
		"provider", l.provider.Name(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start))
	return resp, nil
}

func adversarialResult(meta span.Meta) span.Result {
	return span.Result{
		OK:            true,
		Spans:         []span.Span{},
		Meta:          meta,
		IsAdversarial: true,
	}
}
