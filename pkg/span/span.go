// Package span defines the labeled-span data model and its validation rules.
package span

import "strings"

// Span is a labeled substring of a source text. Start and End are byte
// offsets into the source; Text must equal source[Start:End] exactly.
type Span struct {
	Text       string  `json:"text" yaml:"text" validate:"required"`
	Start      int     `json:"start" yaml:"start"`
	End        int     `json:"end" yaml:"end"`
	Role       string  `json:"role" yaml:"role" validate:"required"`
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// Category returns the top-level category of the span's role, i.e. the
// segment before the first dot ("camera.movement" -> "camera").
func (s Span) Category() string {
	return Category(s.Role)
}

// Category returns the top-level category of a role identifier.
func Category(role string) string {
	if i := strings.IndexByte(role, '.'); i >= 0 {
		return role[:i]
	}
	return role
}

// HighSignalCategories are the role categories treated as domain-salient.
// Spans in these categories count toward sparse high-confidence acceptance,
// and are exempt from the non-technical word limit.
var HighSignalCategories = map[string]bool{
	"technical": true,
	"camera":    true,
	"shot":      true,
	"style":     true,
	"audio":     true,
	"lighting":  true,
}

// Policy holds per-call validation constraints.
type Policy struct {
	// AllowOverlap permits spans whose intervals overlap.
	AllowOverlap bool
	// NonTechnicalWordLimit flags non-technical-category spans longer than
	// this many words. Zero disables the check.
	NonTechnicalWordLimit int
}

// DefaultPolicy returns the default validation policy.
func DefaultPolicy() Policy {
	return Policy{
		AllowOverlap:          false,
		NonTechnicalWordLimit: 8,
	}
}

// Options holds per-call processing options. Immutable once a call starts.
type Options struct {
	MaxSpans        int
	MinConfidence   float64
	TemplateVersion string
	Policy          Policy
	EnableRepair    bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxSpans:        60,
		MinConfidence:   0.0,
		TemplateVersion: "v1",
		Policy:          DefaultPolicy(),
	}
}

// Meta carries result metadata. Version and Notes come from the oracle (or
// the fast path); the chunking fields are set when the input was split.
type Meta struct {
	Version    string `json:"version" yaml:"version"`
	Notes      string `json:"notes" yaml:"notes"`
	Chunked    bool   `json:"chunked,omitempty" yaml:"chunked,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty" yaml:"chunk_count,omitempty"`
	TotalWords int    `json:"total_words,omitempty" yaml:"total_words,omitempty"`
}

// Result is the unit passed between the validator, the repair coordinator
// and the orchestrator, and ultimately returned to the caller.
type Result struct {
	OK            bool     `json:"ok" yaml:"ok"`
	Errors        []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Spans         []Span   `json:"spans" yaml:"spans"`
	Meta          Meta     `json:"meta" yaml:"meta"`
	IsAdversarial bool     `json:"is_adversarial" yaml:"is_adversarial"`
}
