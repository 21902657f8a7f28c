package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxSubquestions caps a plan. Models asked for 2-4 sometimes return more.
const MaxSubquestions = 4

var (
	fenceRegex = regexp.MustCompile("```[a-zA-Z]*")
	thinkRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// cleanModelText drops reasoning blocks and markdown fences.
func cleanModelText(raw string) string {
	s := thinkRegex.ReplaceAllString(raw, "")
	s = fenceRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// enclosed returns the text from the first open to the last close, or ""
// when the pair is absent.
func enclosed(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parsePlan decodes a list of subquestions. A nil result means the output
// was not list-shaped or held no usable entries.
func parsePlan(raw string) []string {
	text := cleanModelText(raw)
	if text == "" {
		return nil
	}
	candidates := []string{text}
	if inner := enclosed(text, '[', ']'); inner != "" && inner != text {
		candidates = append(candidates, inner)
	}

	for _, c := range candidates {
		var items []any
		if err := json.Unmarshal([]byte(c), &items); err == nil {
			if plan := planItems(items); len(plan) > 0 {
				return plan
			}
			continue
		}
		// Single-quoted lists are valid YAML flow sequences.
		if !strings.HasPrefix(c, "[") {
			continue
		}
		if err := yaml.Unmarshal([]byte(c), &items); err == nil {
			if plan := planItems(items); len(plan) > 0 {
				return plan
			}
		}
	}
	return nil
}

func planItems(items []any) []string {
	var out []string
	for _, it := range items {
		switch it.(type) {
		case string, float64, int, bool:
		default:
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(it))
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSubquestions {
			break
		}
	}
	return out
}

// Verdict is the parsed critic output.
type Verdict struct {
	Status CriticStatus
	Notes  string
}

// parseVerdict never fails. It tries strict JSON on the extracted object,
// then a permissive YAML read of the same text, then looks for the word
// "retry" anywhere in the output.
func parseVerdict(raw string) Verdict {
	text := cleanModelText(raw)
	if obj := enclosed(text, '{', '}'); obj != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(obj), &fields); err == nil {
			return verdictFrom(fields)
		}
		fields = nil
		if err := yaml.Unmarshal([]byte(obj), &fields); err == nil && fields != nil {
			return verdictFrom(fields)
		}
	}

	if strings.Contains(strings.ToLower(text), "retry") {
		return Verdict{Status: StatusRetry, Notes: text}
	}
	return Verdict{Status: StatusOK, Notes: text}
}

func verdictFrom(fields map[string]any) Verdict {
	v := Verdict{Status: StatusOK}
	if s, ok := fields["status"]; ok && s != nil {
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(s)), string(StatusRetry)) {
			v.Status = StatusRetry
		}
	}
	if n, ok := fields["notes"]; ok && n != nil {
		v.Notes = strings.TrimSpace(fmt.Sprint(n))
	}
	return v
}
