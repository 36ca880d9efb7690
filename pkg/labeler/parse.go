package labeler

import (
	"encoding/json"
	"strings"

	"github.com/jmylchreest/spanlabel/pkg/span"
)

// oracleResponse is the documented oracle response shape. Optional fields
// may be omitted by oracle implementations; omission is not an error.
type oracleResponse struct {
	AnalysisTrace string       `json:"analysis_trace"`
	Spans         []oracleSpan `json:"spans"`
	Meta          *oracleMeta  `json:"meta"`
	IsAdversarial bool         `json:"is_adversarial"`
}

type oracleSpan struct {
	Text       string  `json:"text"`
	Start      *int    `json:"start"`
	End        *int    `json:"end"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

type oracleMeta struct {
	Version string `json:"version"`
	Notes   string `json:"notes"`
}

// parsed is the defensively-defaulted result of decoding an oracle
// response.
type parsed struct {
	Spans         []span.Span
	Meta          span.Meta
	IsAdversarial bool
}

// parseResponse decodes the oracle's JSON payload, stripping markdown
// fences and surrounding prose, and fills defaults for omitted optional
// fields. Missing offsets become -1 so the validator relocates them via
// the position cache.
func parseResponse(content string, opts span.Options) (parsed, error) {
	raw := extractJSON(content)

	var resp oracleResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return parsed{}, &ProtocolError{Cause: err, Raw: truncateForError(content)}
	}

	meta := span.Meta{Version: opts.TemplateVersion}
	if resp.Meta != nil {
		if resp.Meta.Version != "" {
			meta.Version = resp.Meta.Version
		}
		meta.Notes = resp.Meta.Notes
	}

	spans := make([]span.Span, 0, len(resp.Spans))
	for _, os := range resp.Spans {
		sp := span.Span{
			Text:       os.Text,
			Start:      -1,
			End:        -1,
			Role:       os.Role,
			Confidence: os.Confidence,
		}
		if os.Start != nil && os.End != nil {
			sp.Start = *os.Start
			sp.End = *os.End
		}
		spans = append(spans, sp)
	}

	return parsed{
		Spans:         spans,
		Meta:          meta,
		IsAdversarial: resp.IsAdversarial,
	}, nil
}

// extractJSON strips markdown code fences and any prose around the
// outermost JSON object. Oracles in JSON mode usually return bare JSON,
// but not reliably.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first >= 0 && last > first {
		return s[first : last+1]
	}
	return s
}
