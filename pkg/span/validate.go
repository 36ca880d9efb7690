package span

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Validation attempts. Strict collects every violation and fails the
// result; lenient drops the offending spans and always succeeds.
const (
	AttemptStrict  = 1
	AttemptLenient = 2
)

// Validator checks candidate spans against a source text, a role taxonomy
// and a policy. It never returns an error: violations are reported as
// human-readable strings on the result, and the caller decides whether a
// non-ok strict result is fatal.
type Validator struct {
	roles    RoleSet
	validate *validator.Validate
}

// NewValidator creates a validator bound to a role taxonomy.
func NewValidator(roles RoleSet) *Validator {
	return &Validator{
		roles:    roles,
		validate: validator.New(),
	}
}

// Validate checks spans against source. Spans are corrected in place
// (offset relocation via the cache) or dropped (lenient mode); span text is
// never rewritten beyond syncing it to the claimed source slice. The
// returned spans are deduplicated, confidence-filtered, capped to
// opts.MaxSpans and sorted by start offset.
func (v *Validator) Validate(spans []Span, meta Meta, source string, policy Policy, opts Options, attempt int, cache *PositionCache, isAdversarial bool) Result {
	lenient := attempt >= AttemptLenient
	cache.ResetClaims()

	var errs []string
	kept := make([]Span, 0, len(spans))

	for i, sp := range spans {
		violations := v.checkSpan(&sp, i, source, policy, cache)
		errs = append(errs, violations...)
		if len(violations) > 0 && lenient {
			continue
		}
		kept = append(kept, sp)
	}

	// Overlap policy runs over the surviving set, sorted by position.
	sortByStart(kept)
	if !policy.AllowOverlap {
		kept, errs = v.applyOverlapPolicy(kept, errs, lenient)
	}

	kept = postProcess(kept, opts)

	return Result{
		OK:            lenient || len(errs) == 0,
		Errors:        errs,
		Spans:         kept,
		Meta:          meta,
		IsAdversarial: isAdversarial,
	}
}

// checkSpan runs the structural and positional checks for one span,
// correcting offsets through the cache where possible.
func (v *Validator) checkSpan(sp *Span, idx int, source string, policy Policy, cache *PositionCache) []string {
	var violations []string

	if err := v.validate.Struct(sp); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			violations = append(violations,
				fmt.Sprintf("span %d: field %q %s", idx, fe.Field(), formatFieldError(fe)))
		}
		return violations
	}

	// Positional check: exact offsets win; otherwise relocate to the
	// nearest unclaimed occurrence of the span text.
	if offsetsExact(*sp, source) {
		cache.MarkUsed(sp.Text, sp.Start)
	} else {
		start, end, ok := cache.ClaimNearest(sp.Text, sp.Start)
		if !ok {
			violations = append(violations,
				fmt.Sprintf("span %d: text %q not found in source text", idx, sp.Text))
		} else {
			sp.Start, sp.End = start, end
			sp.Text = source[start:end]
		}
	}

	if !v.roles.Contains(sp.Role) {
		violations = append(violations,
			fmt.Sprintf("span %d: role %q is not in the valid role set", idx, sp.Role))
	}

	if policy.NonTechnicalWordLimit > 0 && !HighSignalCategories[sp.Category()] {
		if n := CountWords(sp.Text); n > policy.NonTechnicalWordLimit {
			violations = append(violations,
				fmt.Sprintf("span %d: non-technical span of %d words exceeds limit of %d",
					idx, n, policy.NonTechnicalWordLimit))
		}
	}

	return violations
}

// applyOverlapPolicy flags overlapping spans. In lenient mode the later
// (by start) of an overlapping pair is dropped. Input must be sorted by
// start.
func (v *Validator) applyOverlapPolicy(spans []Span, errs []string, lenient bool) ([]Span, []string) {
	kept := spans[:0]
	lastEnd := -1
	for _, sp := range spans {
		if lastEnd > sp.Start && len(kept) > 0 {
			prev := kept[len(kept)-1]
			errs = append(errs, fmt.Sprintf(
				"span %q [%d,%d) overlaps span %q [%d,%d)",
				sp.Text, sp.Start, sp.End, prev.Text, prev.Start, prev.End))
			if lenient {
				continue
			}
		}
		kept = append(kept, sp)
		if sp.End > lastEnd {
			lastEnd = sp.End
		}
	}
	return kept, errs
}

// postProcess deduplicates, confidence-filters, caps and orders the
// accepted set. Applied in both strict and lenient mode.
func postProcess(spans []Span, opts Options) []Span {
	// De-duplicate exact (start,end,role) triples, keeping the most
	// confident copy.
	type key struct {
		start, end int
		role       string
	}
	seen := make(map[key]int, len(spans))
	deduped := make([]Span, 0, len(spans))
	for _, sp := range spans {
		k := key{sp.Start, sp.End, sp.Role}
		if j, ok := seen[k]; ok {
			if sp.Confidence > deduped[j].Confidence {
				deduped[j] = sp
			}
			continue
		}
		seen[k] = len(deduped)
		deduped = append(deduped, sp)
	}

	filtered := deduped[:0]
	for _, sp := range deduped {
		if sp.Confidence >= opts.MinConfidence {
			filtered = append(filtered, sp)
		}
	}

	if opts.MaxSpans > 0 && len(filtered) > opts.MaxSpans {
		// Keep the highest-confidence spans, ties broken by earliest start.
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].Confidence != filtered[j].Confidence {
				return filtered[i].Confidence > filtered[j].Confidence
			}
			return filtered[i].Start < filtered[j].Start
		})
		filtered = filtered[:opts.MaxSpans]
	}

	sortByStart(filtered)
	return filtered
}

func sortByStart(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
}

// offsetsExact reports whether the span's offsets already point at its
// text, byte-exact, no trimming.
func offsetsExact(sp Span, source string) bool {
	return sp.Start >= 0 && sp.End <= len(source) && sp.Start < sp.End &&
		source[sp.Start:sp.End] == sp.Text
}

// formatFieldError renders a validator tag as a readable message.
func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", fe.Tag())
	}
}
