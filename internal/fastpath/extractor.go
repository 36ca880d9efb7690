// Package fastpath provides the deterministic candidate-span extractor the
// pipeline tries before falling back to the labeling oracle.
package fastpath

import "github.com/jmylchreest/spanlabel/pkg/span"

// Extractor produces candidate spans without network I/O. Implementations
// must be deterministic: identical text yields identical candidates.
type Extractor interface {
	// Extract returns candidate spans for text. Candidates carry exact
	// byte offsets into text.
	Extract(text string) []span.Span

	// Ready reports whether the extractor's open-vocabulary matcher is
	// loaded. Long prompts are only accepted on the fast path when the
	// extractor is ready.
	Ready() bool
}
