package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"seerlord/internal/domain"
)

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// StripCodeFences removes markdown code fences if the LLM wrapped its output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractJSON pulls the first complete JSON object or array out of raw LLM
// text. Models often prefix structured output with prose ("Here is the
// plan:") even when told not to, so we scan for a balanced value instead of
// requiring the whole string to parse.
func ExtractJSON(raw string) (string, error) {
	s := StripCodeFences(raw)

	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON value in output", domain.ErrStructuredOutput)
	}

	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("%w: unterminated JSON value in output", domain.ErrStructuredOutput)
}

// ValidateSchema validates parsed JSON data against a JSON Schema.
func ValidateSchema(schemaBytes []byte, data any) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaBytes)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrStructuredOutput, result.Error())
	}
	return nil
}

// DecodeStructured extracts the first JSON value from raw LLM output,
// optionally validates it against schemaBytes (nil skips validation), and
// unmarshals it into T. All failures wrap domain.ErrStructuredOutput so
// callers can fall back without string matching.
func DecodeStructured[T any](raw string, schemaBytes []byte) (T, error) {
	var out T

	jsonText, err := ExtractJSON(raw)
	if err != nil {
		return out, err
	}

	if schemaBytes != nil {
		var generic any
		if err := json.Unmarshal([]byte(jsonText), &generic); err != nil {
			return out, fmt.Errorf("%w: %v", domain.ErrStructuredOutput, err)
		}
		if err := ValidateSchema(schemaBytes, generic); err != nil {
			return out, err
		}
	}

	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrStructuredOutput, err)
	}
	return out, nil
}
