package budget

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Summary is the lossy form of one artifact.
type Summary struct {
	Text       string
	Summarized bool
}

// Summarizer shrinks artifact content towards a token target.
type Summarizer interface {
	Summarize(raw json.RawMessage, targetTokens int) Summary
}

// TruncatedMarker is appended to text cut by proportional truncation.
const TruncatedMarker = "\n...[truncated]"

// HeuristicSummarizer is a deterministic stand-in for model summarization.
// Structured objects keep their first MaxFields top-level fields with long
// strings shortened and arrays replaced by a length note; plain text is cut
// proportionally to the target.
type HeuristicSummarizer struct {
	Estimator      SizeEstimator
	MaxFields      int
	MaxStringChars int
}

// Defaults for HeuristicSummarizer.
const (
	DefaultMaxFields      = 5
	DefaultMaxStringChars = 100
)

// NewHeuristicSummarizer returns a summarizer with default limits.
func NewHeuristicSummarizer(est SizeEstimator) *HeuristicSummarizer {
	return &HeuristicSummarizer{
		Estimator:      est,
		MaxFields:      DefaultMaxFields,
		MaxStringChars: DefaultMaxStringChars,
	}
}

// Summarize implements Summarizer.
func (h *HeuristicSummarizer) Summarize(raw json.RawMessage, targetTokens int) Summary {
	text := Serialize(raw)
	if h.Estimator.Estimate(text) <= targetTokens {
		return Summary{Text: text}
	}
	if isObject(raw) {
		if condensed, err := h.condenseObject(raw); err == nil {
			// Nested values are kept whole and can still overshoot.
			if h.Estimator.Estimate(condensed) > targetTokens {
				condensed = h.truncate(condensed, targetTokens)
			}
			return Summary{Text: condensed, Summarized: true}
		}
		// Malformed structured content: fall through to raw truncation.
	}
	return Summary{Text: h.truncate(text, targetTokens), Summarized: true}
}

// truncate keeps roughly targetTokens worth of text, proportional to the
// current estimate, and marks the cut.
func (h *HeuristicSummarizer) truncate(text string, targetTokens int) string {
	est := h.Estimator.Estimate(text)
	if est == 0 {
		return text
	}
	keep := len(text) * targetTokens / est
	return truncateBytes(text, keep) + TruncatedMarker
}

type field struct {
	key   string
	value json.RawMessage
}

// condenseObject decodes the top-level fields of a JSON object in document
// order and rebuilds a reduced object from the first MaxFields of them.
func (h *HeuristicSummarizer) condenseObject(raw json.RawMessage) (string, error) {
	fields, err := orderedFields(raw, h.maxFields())
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, f := range fields {
		key, _ := json.Marshal(f.key)
		val, err := h.condenseValue(f.value)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "  %s: %s", key, val)
		if i < len(fields)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func (h *HeuristicSummarizer) condenseValue(v json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return []byte("null"), nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		if cut, ok := truncateRunes(s, h.maxStringChars()); ok {
			s = cut + "..."
		}
		return json.Marshal(s)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return json.Marshal(fmt.Sprintf("[%d items]", len(items)))
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err != nil {
			return nil, err
		}
		return compact.Bytes(), nil
	}
}

func (h *HeuristicSummarizer) maxFields() int {
	if h.MaxFields <= 0 {
		return DefaultMaxFields
	}
	return h.MaxFields
}

func (h *HeuristicSummarizer) maxStringChars() int {
	if h.MaxStringChars <= 0 {
		return DefaultMaxStringChars
	}
	return h.MaxStringChars
}

// orderedFields returns up to limit top-level fields of a JSON object. The
// whole object is still read so trailing garbage is reported as an error.
func orderedFields(raw json.RawMessage, limit int) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not a JSON object")
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		if len(fields) < limit {
			fields = append(fields, field{key: key, value: val})
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}
