// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synthesis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/poiesic/contentpulse/ai"
)

// MaxKeywords is the largest keyword list a suggestion may carry.
const MaxKeywords = 8

// output is the object the model is asked to produce.
type output struct {
	Topic       string   `json:"topic"`
	Keywords    []string `json:"keywords"`
	Rationale   string   `json:"rationale"`
	Description string   `json:"description"`
	Label       string   `json:"label"`
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// parseOutput turns a model response into a validated output. Fenced and
// chatty responses are tolerated as long as one JSON value can be recovered.
func parseOutput(response string) (*output, error) {
	text := extractJSON(stripFences(response))
	if text == "" {
		return nil, fmt.Errorf("%w: no JSON value in response", ErrMalformedOutput)
	}

	var raw json.RawMessage
	candidates := []string{text}
	repaired := trailingComma.ReplaceAllString(repairKeys(text), "$1")
	candidates = append(candidates, repaired, strings.ReplaceAll(repaired, "'", `"`))

	var lastErr error
	for _, c := range candidates {
		if lastErr = json.Unmarshal([]byte(c), &raw); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, lastErr)
	}

	// Some models answer with an array even when asked for one object.
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrMalformedOutput)
		}
		raw = list[0]
	}

	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	if err := out.normalize(); err != nil {
		return nil, err
	}
	return &out, nil
}

// normalize trims every field and checks the result.
func (o *output) normalize() error {
	o.Topic = strings.TrimSpace(o.Topic)
	o.Rationale = strings.TrimSpace(o.Rationale)
	if o.Rationale == "" {
		o.Rationale = strings.TrimSpace(o.Description)
	}
	o.Description = ""
	o.Label = strings.ToLower(strings.TrimSpace(o.Label))

	keywords := o.Keywords[:0]
	for _, k := range o.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	o.Keywords = keywords

	switch {
	case o.Topic == "":
		return fmt.Errorf("%w: topic is empty", ErrMalformedOutput)
	case len(o.Keywords) == 0:
		return fmt.Errorf("%w: no keywords", ErrMalformedOutput)
	case len(o.Keywords) > MaxKeywords:
		return fmt.Errorf("%w: %d keywords, at most %d allowed", ErrMalformedOutput, len(o.Keywords), MaxKeywords)
	case o.Rationale == "":
		return fmt.Errorf("%w: rationale is empty", ErrMalformedOutput)
	case o.Label != "" && !ai.IsLabel(o.Label):
		return fmt.Errorf("%w: unknown label %q", ErrMalformedOutput, o.Label)
	}
	return nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the first balanced object or array in s. An
// unterminated value is returned up to the end of s.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{' || ch == '[':
			depth++
		case ch == '}' || ch == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// repairKeys quotes object keys a model left bare or half quoted:
// `{topic: ...}` and `{topic": ...}` both become `{"topic": ...}`.
// Text inside string values is copied untouched.
func repairKeys(s string) string {
	src := []rune(s)
	fixed := make([]rune, 0, len(src)+32)

	inString, escaped := false, false
	i := 0
	for i < len(src) {
		ch := src[i]

		if inString {
			fixed = append(fixed, ch)
			i++
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			fixed = append(fixed, ch)
			i++
			continue
		}

		fixed = append(fixed, ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}

		for i < len(src) && isSpace(src[i]) {
			fixed = append(fixed, src[i])
			i++
		}
		if i >= len(src) || !isKeyStart(src[i]) {
			continue
		}

		keyStart := i
		for i < len(src) && isKeyRune(src[i]) {
			i++
		}
		key := string(src[keyStart:i])

		switch {
		case i+1 < len(src) && src[i] == '"' && src[i+1] == ':':
			// Missing opening quote; consume the closing one too.
			fixed = append(fixed, []rune(`"`+key+`"`)...)
			i++
		case i < len(src) && (src[i] == ':' || isSpace(src[i])) && followedByColon(src, i):
			fixed = append(fixed, []rune(`"`+key+`"`)...)
		default:
			fixed = append(fixed, src[keyStart:i]...)
		}
	}

	return string(fixed)
}

func followedByColon(src []rune, i int) bool {
	for i < len(src) && isSpace(src[i]) {
		i++
	}
	return i < len(src) && src[i] == ':'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func isKeyStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isKeyRune(r rune) bool {
	return isKeyStart(r) || (r >= '0' && r <= '9')
}
