package fastpath

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jmylchreest/spanlabel/pkg/span"
)

// Entry is one lexicon phrase with its role and base confidence.
type Entry struct {
	Role       string
	Confidence float64
}

// Lexicon is a deterministic phrase-matching extractor. It scans the text
// for known phrases, case-insensitively, at word boundaries. It is the
// reference Extractor implementation; deployments with a full symbolic NLP
// pipeline plug in their own.
type Lexicon struct {
	phrases map[string]Entry
	ordered []string // longest-first, then lexicographic, for determinism
}

// NewLexicon builds an extractor from phrase -> entry mappings. Phrase keys
// are matched case-insensitively.
func NewLexicon(phrases map[string]Entry) *Lexicon {
	normalized := make(map[string]Entry, len(phrases))
	ordered := make([]string, 0, len(phrases))
	for p, e := range phrases {
		lp := strings.ToLower(p)
		normalized[lp] = e
		ordered = append(ordered, lp)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	return &Lexicon{phrases: normalized, ordered: ordered}
}

// Extract returns every lexicon phrase occurrence as a candidate span,
// sorted by start offset. Longer phrases mask shorter ones covering the
// same bytes ("tracking shot" wins over "shot").
func (l *Lexicon) Extract(text string) []span.Span {
	lower := strings.ToLower(text)
	taken := make([]bool, len(text))

	var spans []span.Span
	for _, phrase := range l.ordered {
		entry := l.phrases[phrase]
		from := 0
		for {
			i := strings.Index(lower[from:], phrase)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(phrase)
			from = start + 1

			if !boundary(lower, start, end) || overlapsTaken(taken, start, end) {
				continue
			}
			for j := start; j < end; j++ {
				taken[j] = true
			}
			spans = append(spans, span.Span{
				Text:       text[start:end],
				Start:      start,
				End:        end,
				Role:       entry.Role,
				Confidence: entry.Confidence,
			})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// Ready reports whether the lexicon has phrases loaded.
func (l *Lexicon) Ready() bool {
	return len(l.phrases) > 0
}

// boundary decodes the neighboring runes properly; indexing single bytes
// would misread a multibyte letter's continuation byte as a non-word
// character.
func boundary(lower string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(lower[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(lower) {
		if r, _ := utf8.DecodeRuneInString(lower[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlapsTaken(taken []bool, start, end int) bool {
	for j := start; j < end; j++ {
		if taken[j] {
			return true
		}
	}
	return false
}

// DefaultLexicon returns a built-in phrase table for the video-prompt
// taxonomy. Confidence values reflect how unambiguous each phrase is.
func DefaultLexicon() *Lexicon {
	return NewLexicon(map[string]Entry{
		// camera
		"aerial view":   {Role: "camera.angle", Confidence: 0.92},
		"low angle":     {Role: "camera.angle", Confidence: 0.88},
		"high angle":    {Role: "camera.angle", Confidence: 0.88},
		"bird's eye":    {Role: "camera.angle", Confidence: 0.9},
		"dolly zoom":    {Role: "camera.movement", Confidence: 0.95},
		"tracking shot": {Role: "camera.movement", Confidence: 0.93},
		"pan left":      {Role: "camera.movement", Confidence: 0.9},
		"pan right":     {Role: "camera.movement", Confidence: 0.9},
		"handheld":      {Role: "camera.movement", Confidence: 0.85},
		"wide angle":    {Role: "camera.lens", Confidence: 0.88},
		"telephoto":     {Role: "camera.lens", Confidence: 0.9},
		"macro lens":    {Role: "camera.lens", Confidence: 0.92},
		// shot
		"close-up":          {Role: "shot.framing", Confidence: 0.92},
		"extreme close-up":  {Role: "shot.framing", Confidence: 0.94},
		"wide shot":         {Role: "shot.framing", Confidence: 0.9},
		"medium shot":       {Role: "shot.framing", Confidence: 0.9},
		"over the shoulder": {Role: "shot.composition", Confidence: 0.88},
		"rule of thirds":    {Role: "shot.composition", Confidence: 0.9},
		"match cut":         {Role: "shot.transition", Confidence: 0.9},
		// lighting
		"golden hour":   {Role: "lighting.quality", Confidence: 0.93},
		"soft lighting": {Role: "lighting.quality", Confidence: 0.88},
		"harsh shadows": {Role: "lighting.quality", Confidence: 0.85},
		"neon lights":   {Role: "lighting.source", Confidence: 0.9},
		"candlelight":   {Role: "lighting.source", Confidence: 0.9},
		"backlit":       {Role: "lighting.source", Confidence: 0.85},
		// technical
		"slow motion": {Role: "technical.framerate", Confidence: 0.93},
		"timelapse":   {Role: "technical.framerate", Confidence: 0.93},
		"4k":          {Role: "technical.resolution", Confidence: 0.95},
		"8k":          {Role: "technical.resolution", Confidence: 0.95},
		"anamorphic":  {Role: "technical.aspect", Confidence: 0.9},
		// style
		"cinematic": {Role: "style.aesthetic", Confidence: 0.82},
		"film noir": {Role: "style.aesthetic", Confidence: 0.92},
		"vintage":   {Role: "style.era", Confidence: 0.8},
		"retro":     {Role: "style.era", Confidence: 0.78},
		// audio
		"orchestral score": {Role: "audio.music", Confidence: 0.9},
		"ambient sound":    {Role: "audio.sfx", Confidence: 0.85},
		"voiceover":        {Role: "audio.dialogue", Confidence: 0.88},
		// subject / action / environment
		"woman":       {Role: "subject.person", Confidence: 0.75},
		"man":         {Role: "subject.person", Confidence: 0.75},
		"child":       {Role: "subject.person", Confidence: 0.75},
		"dog":         {Role: "subject.animal", Confidence: 0.78},
		"crowd":       {Role: "subject.group", Confidence: 0.75},
		"running":     {Role: "action.movement", Confidence: 0.72},
		"walking":     {Role: "action.movement", Confidence: 0.7},
		"dancing":     {Role: "action.movement", Confidence: 0.75},
		"waving":      {Role: "action.gesture", Confidence: 0.72},
		"city street": {Role: "environment.location", Confidence: 0.82},
		"forest":      {Role: "environment.location", Confidence: 0.78},
		"beach":       {Role: "environment.location", Confidence: 0.78},
		"at night":    {Role: "environment.time", Confidence: 0.8},
		"sunset":      {Role: "environment.time", Confidence: 0.78},
		"in the rain": {Role: "environment.weather", Confidence: 0.82},
		"foggy":       {Role: "environment.weather", Confidence: 0.78},
	})
}
