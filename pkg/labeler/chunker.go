package labeler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode"

	"github.com/jmylchreest/spanlabel/internal/logger"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// Chunk is a contiguous slice of the source text. StartOffset is the
// chunk's byte position in the original text, used to translate local span
// offsets to global coordinates.
type Chunk struct {
	Text        string
	StartOffset int
}

// chunkText splits text into chunks of at most maxWords words each,
// breaking only at sentence or whitespace boundaries, never inside a
// token. Every chunk is an exact substring of text.
func chunkText(text string, maxWords int) []Chunk {
	segments := sentenceSegments(text, maxWords)

	var chunks []Chunk
	chunkStart := -1
	chunkEnd := 0
	chunkWords := 0

	flush := func() {
		if chunkStart >= 0 && chunkEnd > chunkStart {
			chunks = append(chunks, Chunk{
				Text:        text[chunkStart:chunkEnd],
				StartOffset: chunkStart,
			})
		}
		chunkStart = -1
		chunkWords = 0
	}

	for _, seg := range segments {
		words := span.CountWords(text[seg[0]:seg[1]])
		if chunkStart >= 0 && chunkWords+words > maxWords {
			flush()
		}
		if chunkStart < 0 {
			chunkStart = seg[0]
		}
		chunkEnd = seg[1]
		chunkWords += words
	}
	flush()

	return chunks
}

// sentenceSegments partitions text into contiguous [start,end) segments
// ending after sentence punctuation and its trailing whitespace. A segment
// longer than the word budget is further split at whitespace runs, so a
// single giant sentence still chunks cleanly.
func sentenceSegments(text string, maxWords int) [][2]int {
	var segs [][2]int
	start := 0
	i := 0
	runes := []rune(text)
	byteIdx := make([]int, len(runes)+1)
	bi := 0
	for j, r := range runes {
		byteIdx[j] = bi
		bi += len(string(r))
	}
	byteIdx[len(runes)] = len(text)

	for i < len(runes) {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			// consume the punctuation run and trailing whitespace
			j := i
			for j < len(runes) && (runes[j] == '.' || runes[j] == '!' || runes[j] == '?') {
				j++
			}
			if j < len(runes) && unicode.IsSpace(runes[j]) {
				for j < len(runes) && unicode.IsSpace(runes[j]) {
					j++
				}
				segs = append(segs, [2]int{byteIdx[start], byteIdx[j]})
				start = j
			}
			i = j
			continue
		}
		i++
	}
	if byteIdx[start] < len(text) {
		segs = append(segs, [2]int{byteIdx[start], len(text)})
	}

	return splitOversized(text, segs, maxWords)
}

// splitOversized breaks any segment over the word budget at whitespace
// runs, so no single segment can exceed a chunk on its own.
func splitOversized(text string, segs [][2]int, budget int) [][2]int {
	if budget < 1 {
		budget = 1
	}

	var out [][2]int
	for _, seg := range segs {
		tokens := span.WordTokens(text[seg[0]:seg[1]])
		if len(tokens) <= budget {
			out = append(out, seg)
			continue
		}
		start := seg[0]
		for n := budget; n < len(tokens); n += budget {
			// cut after the n-th token, extended through whitespace
			cut := seg[0] + tokens[n-1][1]
			for cut < seg[1] && unicode.IsSpace(rune(text[cut])) {
				cut++
			}
			out = append(out, [2]int{start, cut})
			start = cut
		}
		if start < seg[1] {
			out = append(out, [2]int{start, seg[1]})
		}
	}
	return out
}

// labelChunked fans the chunks out over the single-pass path and merges
// the per-chunk results back into global coordinates.
func (l *Labeler) labelChunked(ctx context.Context, text string, opts span.Options, totalWords int) (span.Result, error) {
	chunks := chunkText(text, l.cfg.MaxWordsPerChunk)
	logger.Debug("chunked processing",
		"chunks", len(chunks),
		"total_words", totalWords,
		"parallel", l.cfg.ProcessChunksInParallel)

	// Results are indexed by chunk position so the merge order is
	// independent of completion order.
	results := make([]span.Result, len(chunks))

	if l.cfg.ProcessChunksInParallel && l.cfg.MaxConcurrentChunks > 1 {
		batch := l.cfg.MaxConcurrentChunks
		for lo := 0; lo < len(chunks); lo += batch {
			hi := lo + batch
			if hi > len(chunks) {
				hi = len(chunks)
			}
			var wg sync.WaitGroup
			for i := lo; i < hi; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = l.labelChunk(ctx, i, chunks[i], opts)
				}(i)
			}
			wg.Wait()
		}
	} else {
		for i := range chunks {
			results[i] = l.labelChunk(ctx, i, chunks[i], opts)
		}
	}

	spans, adversarial := mergeChunkedSpans(chunks, results)
	spans = capMergedSpans(spans, opts.MaxSpans)

	return span.Result{
		OK:    true,
		Spans: spans,
		Meta: span.Meta{
			Version:    opts.TemplateVersion,
			Notes:      fmt.Sprintf("merged from %d chunks", len(chunks)),
			Chunked:    true,
			ChunkCount: len(chunks),
			TotalWords: totalWords,
		},
		IsAdversarial: adversarial,
	}, nil
}

// labelChunk runs one chunk through the single-pass path. Failures —
// including cancellation of an in-flight oracle call — degrade to an empty
// result for that chunk; one bad chunk must not fail the whole document.
func (l *Labeler) labelChunk(ctx context.Context, idx int, c Chunk, opts span.Options) (res span.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("chunk processing panicked", "chunk", idx, "panic", r)
			res = emptyChunkResult(opts)
		}
	}()

	result, err := l.labelSingle(ctx, c.Text, opts)
	if err != nil {
		logger.Warn("chunk failed, continuing with empty result", "chunk", idx, "error", err)
		return emptyChunkResult(opts)
	}
	return result
}

func emptyChunkResult(opts span.Options) span.Result {
	return span.Result{
		OK:    true,
		Spans: []span.Span{},
		Meta:  span.Meta{Version: opts.TemplateVersion},
	}
}

// mergeChunkedSpans translates per-chunk spans into global coordinates,
// collapses boundary duplicates and sorts by global start. A true
// adversarial flag on any chunk discards the whole span set (fail-closed
// at the document level).
func mergeChunkedSpans(chunks []Chunk, results []span.Result) ([]span.Span, bool) {
	adversarial := false
	var all []span.Span
	for i, res := range results {
		if res.IsAdversarial {
			adversarial = true
		}
		for _, sp := range res.Spans {
			sp.Start += chunks[i].StartOffset
			sp.End += chunks[i].StartOffset
			all = append(all, sp)
		}
	}

	if adversarial {
		return []span.Span{}, true
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End < all[j].End
	})

	return collapseBoundaryDuplicates(all), false
}

// collapseBoundaryDuplicates removes the duplicate copies of a phrase that
// straddles a chunk boundary and was detected independently in both
// adjacent chunks. Two spans are duplicates when their text matches and
// their global intervals overlap; the higher-confidence copy wins, ties
// keep the earlier chunk's copy. Input must be sorted by start. The scan
// cannot stop at the first non-overlapping kept span: a short span can sit
// between two overlapping copies of a longer one, so every kept span is
// checked.
func collapseBoundaryDuplicates(spans []span.Span) []span.Span {
	if len(spans) < 2 {
		return spans
	}

	kept := spans[:0]
	for _, sp := range spans {
		merged := false
		for k := len(kept) - 1; k >= 0; k-- {
			prev := kept[k]
			if prev.End <= sp.Start || prev.Text != sp.Text {
				continue
			}
			if sp.Confidence > prev.Confidence {
				kept[k] = sp
			}
			merged = true
			break
		}
		if !merged {
			kept = append(kept, sp)
		}
	}
	return kept
}

// capMergedSpans enforces the caller's span cap on the merged document. The
// per-chunk validator only caps each chunk, so without this the merged set
// could grow to chunkCount times the cap. Keeps the highest-confidence
// spans, ties broken by earliest start, then restores start order.
func capMergedSpans(spans []span.Span, maxSpans int) []span.Span {
	if maxSpans <= 0 || len(spans) <= maxSpans {
		return spans
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Confidence != spans[j].Confidence {
			return spans[i].Confidence > spans[j].Confidence
		}
		return spans[i].Start < spans[j].Start
	})
	spans = spans[:maxSpans]

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	return spans
}
