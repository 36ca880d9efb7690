// Package labeler implements the hybrid span extraction and validation
// pipeline: a deterministic fast path, an LLM oracle fallback, chunked
// processing for oversized inputs and a single-shot repair loop.
package labeler

import (
	"github.com/jmylchreest/spanlabel/internal/fastpath"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// Config holds the pipeline tuning knobs. It is immutable once a Labeler
// is constructed; there is no process-wide mutable state.
type Config struct {
	// MaxWordsPerChunk routes longer inputs through the chunker.
	MaxWordsPerChunk int
	// MaxConcurrentChunks bounds the chunk worker pool.
	MaxConcurrentChunks int
	// ProcessChunksInParallel selects parallel or serial chunk processing.
	ProcessChunksInParallel bool

	// MinSpansThreshold is the floor for the expected-span-count step
	// function.
	MinSpansThreshold int
	// MinCoveragePercent is the word-token coverage below which a
	// fast-path result needs the sparse high-confidence override.
	MinCoveragePercent float64
	// SparseMinSpans is the minimum span count for the sparse override.
	SparseMinSpans int
	// SparseHighConfidenceThreshold is the minimum average confidence for
	// the sparse override (raised by Options.MinConfidence when higher).
	SparseHighConfidenceThreshold float64
	// SparseMinSignalSpans is the minimum number of high-signal-category
	// spans for the sparse override.
	SparseMinSignalSpans int

	// MaxTokens and Temperature are passed through to the oracle.
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWordsPerChunk:              300,
		MaxConcurrentChunks:           3,
		ProcessChunksInParallel:       true,
		MinSpansThreshold:             1,
		MinCoveragePercent:            55,
		SparseMinSpans:                3,
		SparseHighConfidenceThreshold: 0.85,
		SparseMinSignalSpans:          2,
		MaxTokens:                     8192,
		Temperature:                   0.1,
	}
}

// Option configures a Labeler.
type Option func(*Labeler)

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg Config) Option {
	return func(l *Labeler) {
		l.cfg = cfg
	}
}

// WithFastExtractor installs the deterministic fast-path extractor. Without
// one, every call goes straight to the oracle.
func WithFastExtractor(fx fastpath.Extractor) Option {
	return func(l *Labeler) {
		l.fast = fx
	}
}

// WithRoles replaces the built-in role taxonomy.
func WithRoles(roles span.RoleSet) Option {
	return func(l *Labeler) {
		l.roles = roles
	}
}
