// Package extract recovers structured answers from free-form AI model output.
// Models are prompted to return JSON but frequently wrap it in markdown
// fences, prose, or emit several JSON-like spans; Extract tries progressively
// more tolerant strategies until one yields a usable object.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// previewLen bounds how much raw text is echoed back in extraction errors.
const previewLen = 240

// Extraction is the normalized answer recovered from raw model output.
type Extraction struct {
	Answer     domain.Outcome
	Confidence int // 0-100
	Reasoning  string
}

// rawAnswer mirrors the JSON shape models are asked to produce.
type rawAnswer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// fenceRe strips markdown code fences, with or without a language tag.
var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// objectRe finds the first {...} span. Greedy so that nested objects are
// captured whole; the brace scan below handles the cases this misses.
var objectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Extract parses raw model output into an Extraction. It is pure and
// deterministic: no network, no clock. Strategies are tried in order and the
// first one producing a parseable object with a recognizable answer wins.
func Extract(raw string) (Extraction, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Extraction{}, fmt.Errorf("extract: empty input: %w", domain.ErrNoValidJSON)
	}

	// 1. Strip markdown fences and try the fenced body directly.
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if ex, err := parseCandidate(m[1]); err == nil {
			return ex, nil
		}
	}

	// 2. Direct parse of the trimmed text.
	if ex, err := parseCandidate(text); err == nil {
		return ex, nil
	}

	// 3. Greedy regex for the first {...} span.
	if span := objectRe.FindString(text); span != "" {
		if ex, err := parseCandidate(span); err == nil {
			return ex, nil
		}
	}

	// 4. Brace-depth scan: try every balanced span until one parses.
	for _, span := range balancedSpans(text) {
		if ex, err := parseCandidate(span); err == nil {
			return ex, nil
		}
	}

	return Extraction{}, fmt.Errorf("extract: %w: %q", domain.ErrNoValidJSON, preview(text))
}

// parseCandidate attempts to decode a single candidate span and normalize it.
func parseCandidate(candidate string) (Extraction, error) {
	var ra rawAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &ra); err != nil {
		return Extraction{}, err
	}

	answer, ok := normalizeAnswer(ra.Answer)
	if !ok {
		return Extraction{}, fmt.Errorf("unrecognized answer %q", ra.Answer)
	}

	return Extraction{
		Answer:     answer,
		Confidence: clampConfidence(ra.Confidence),
		Reasoning:  strings.TrimSpace(ra.Reasoning),
	}, nil
}

// normalizeAnswer maps the model's answer string onto a domain outcome.
func normalizeAnswer(s string) (domain.Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "TRUE":
		return domain.OutcomeYes, true
	case "NO", "FALSE":
		return domain.OutcomeNo, true
	case "INVALID", "UNKNOWN", "UNDETERMINED":
		return domain.OutcomeInvalid, true
	default:
		return "", false
	}
}

// clampConfidence forces a model-reported confidence into 0-100. Models
// occasionally report 0.0-1.0 probabilities; treat those as percentages.
func clampConfidence(c float64) int {
	if c > 0 && c <= 1 {
		c *= 100
	}
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return int(c)
}

// balancedSpans scans the text tracking brace depth and returns every span
// whose depth returns to zero, in order of appearance.
func balancedSpans(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// preview returns a bounded prefix of the raw text for error messages.
func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen] + "..."
}
