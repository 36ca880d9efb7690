package labeler

import (
	"github.com/jmylchreest/spanlabel/internal/fastpath"
	"github.com/jmylchreest/spanlabel/internal/logger"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// Word count at which the long-prompt category-coverage gate kicks in.
const longPromptWords = 80

// Cap applied to the expected-span step function when Options.MaxSpans is
// unset.
const defaultMaxSpans = 60

// coreCategories are the categories a long prompt must cover (at least two
// of) before the fast path may be accepted. Narrow category coverage on a
// long prompt means the oracle's broader understanding is needed.
var coreCategories = []string{"subject", "action", "environment"}

// Assessment is the ephemeral record of one fast-path acceptance decision.
// Computed per attempt, logged, never persisted.
type Assessment struct {
	SpanCount                    int
	ExpectedMinSpans             int
	CoveragePercent              float64
	AvgConfidence                float64
	HighSignalCount              int
	SparseHighConfidenceAccepted bool
	CategoryCoverage             map[string]int
}

// assessor scores fast-extractor candidates against the acceptance
// heuristic and validates accepted sets.
type assessor struct {
	cfg       Config
	fast      fastpath.Extractor
	validator *span.Validator
}

// extract runs the fast extractor and returns a validated result when the
// candidates pass the acceptance heuristic, or nil to fall through to the
// oracle. Insufficiency is a routing decision, not an error.
func (a *assessor) extract(text string, opts span.Options, cache *span.PositionCache) *span.Result {
	if a.fast == nil {
		return nil
	}

	candidates := a.fast.Extract(text)
	wordCount := span.CountWords(text)

	assessment, accepted := a.assess(candidates, text, wordCount, opts)
	logger.Debug("fast path assessed",
		"span_count", assessment.SpanCount,
		"expected_min_spans", assessment.ExpectedMinSpans,
		"coverage_percent", assessment.CoveragePercent,
		"avg_confidence", assessment.AvgConfidence,
		"high_signal_count", assessment.HighSignalCount,
		"sparse_accepted", assessment.SparseHighConfidenceAccepted,
		"accepted", accepted)
	if !accepted {
		return nil
	}

	meta := span.Meta{Version: opts.TemplateVersion, Notes: "fast-path extraction"}

	strict := a.validator.Validate(candidates, meta, text, opts.Policy, opts, span.AttemptStrict, cache, false)
	if strict.OK {
		return &strict
	}

	// Strict failure: drop the offenders and re-run the same acceptance
	// assessment against the lenient result before accepting it.
	lenient := a.validator.Validate(candidates, meta, text, opts.Policy, opts, span.AttemptLenient, cache, false)
	if _, ok := a.assess(lenient.Spans, text, wordCount, opts); ok {
		return &lenient
	}
	return nil
}

// assess applies the acceptance heuristic to a candidate set.
func (a *assessor) assess(spans []span.Span, text string, wordCount int, opts span.Options) (Assessment, bool) {
	as := Assessment{
		SpanCount:        len(spans),
		ExpectedMinSpans: a.expectedMinSpans(wordCount, opts.MaxSpans),
		CoveragePercent:  coveragePercent(text, spans),
		CategoryCoverage: make(map[string]int),
	}

	var confSum float64
	for _, sp := range spans {
		confSum += sp.Confidence
		cat := sp.Category()
		as.CategoryCoverage[cat]++
		if span.HighSignalCategories[cat] {
			as.HighSignalCount++
		}
	}
	if len(spans) > 0 {
		as.AvgConfidence = confSum / float64(len(spans))
	}

	highConfidenceThreshold := a.cfg.SparseHighConfidenceThreshold
	if opts.MinConfidence > highConfidenceThreshold {
		highConfidenceThreshold = opts.MinConfidence
	}

	as.SparseHighConfidenceAccepted = as.CoveragePercent < a.cfg.MinCoveragePercent &&
		as.SpanCount >= a.cfg.SparseMinSpans &&
		as.AvgConfidence >= highConfidenceThreshold &&
		as.HighSignalCount >= a.cfg.SparseMinSignalSpans

	// Long prompts with narrow category coverage need the oracle
	// regardless of span count.
	if wordCount >= longPromptWords {
		if !a.fast.Ready() {
			return as, false
		}
		core := 0
		for _, c := range coreCategories {
			if as.CategoryCoverage[c] > 0 {
				core++
			}
		}
		if core < 2 {
			return as, false
		}
	}

	accepted := as.SpanCount >= as.ExpectedMinSpans || as.SparseHighConfidenceAccepted
	return as, accepted
}

// expectedMinSpans is the step function mapping prompt length to the span
// count a sufficient extraction should produce, clamped to
// [max(1, MinSpansThreshold), MaxSpans].
func (a *assessor) expectedMinSpans(wordCount, maxSpans int) int {
	var n int
	switch {
	case wordCount < 40:
		n = 1
	case wordCount < 80:
		n = 4
	case wordCount < 140:
		n = 8
	case wordCount < 220:
		n = 12
	default:
		n = 15
	}

	if n < a.cfg.MinSpansThreshold {
		n = a.cfg.MinSpansThreshold
	}
	if n < 1 {
		n = 1
	}

	limit := maxSpans
	if limit <= 0 {
		limit = defaultMaxSpans
	}
	if n > limit {
		n = limit
	}
	return n
}

// coveragePercent is the percentage of word tokens touched by at least one
// span interval.
func coveragePercent(text string, spans []span.Span) float64 {
	tokens := span.WordTokens(text)
	if len(tokens) == 0 {
		return 0
	}

	covered := 0
	for _, tok := range tokens {
		for _, sp := range spans {
			if sp.Start < tok[1] && sp.End > tok[0] {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(tokens)) * 100
}
