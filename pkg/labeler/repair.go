package labeler

import (
	"context"

	"github.com/jmylchreest/spanlabel/internal/logger"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// repair drives the single-shot repair round: one follow-up oracle call
// carrying the original response and the concrete violations, then lenient
// validation of the corrected response. There is no retry loop — a second
// failure is fatal, capping oracle cost at two calls per input.
func (l *Labeler) repair(ctx context.Context, text, rawResponse string, violations []string, opts span.Options, cache *span.PositionCache) (span.Result, error) {
	logger.Debug("repair round starting", "violations", len(violations))

	resp, err := l.callOracle(ctx, opRepairSpans, buildRepairPrompt(rawResponse, violations))
	if err != nil {
		return span.Result{}, err
	}

	p, perr := parseResponse(resp.Content, opts)
	if perr != nil {
		// Repair is exhausted; malformed output is now fatal.
		return span.Result{}, perr
	}

	if p.IsAdversarial {
		return adversarialResult(p.Meta), nil
	}

	lenient := l.validator.Validate(p.Spans, p.Meta, text, opts.Policy, opts, span.AttemptLenient, cache, false)

	// The corrected response produced spans but every one of them was
	// still invalid: surface the aggregated violations to the caller.
	if len(lenient.Spans) == 0 && len(p.Spans) > 0 && len(lenient.Errors) > 0 {
		return span.Result{}, &ValidationFailedError{Violations: lenient.Errors}
	}

	logger.Debug("repair round complete",
		"spans", len(lenient.Spans),
		"dropped_violations", len(lenient.Errors))
	return lenient, nil
}
