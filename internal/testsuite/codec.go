package testsuite

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a test case file encoding.
type Format string

// Supported formats.
const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatYAML   Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatNDJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "jsonl":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unknown test case format %q (want json, ndjson or yaml)", s)
}

// FormatForPath guesses the format from a file extension, defaulting to JSON.
func FormatForPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return FormatJSON
	}
	return f
}

// Write encodes cases to w.
func Write(w io.Writer, cases []RegexTestCase, format Format) error {
	if cases == nil {
		cases = []RegexTestCase{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(cases)
	case FormatNDJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range cases {
			if err := enc.Encode(&cases[i]); err != nil {
				return fmt.Errorf("failed to encode test case %d: %w", i, err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cases); err != nil {
			return fmt.Errorf("failed to encode test cases: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown test case format %q", format)
}

// Read decodes cases from r.
func Read(r io.Reader, format Format) ([]RegexTestCase, error) {
	var cases []RegexTestCase
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&cases); err != nil {
			return nil, fmt.Errorf("failed to decode test cases: %w", err)
		}
	case FormatNDJSON:
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			var tc RegexTestCase
			if err := json.Unmarshal([]byte(text), &tc); err != nil {
				return nil, fmt.Errorf("line %d: failed to decode test case: %w", line, err)
			}
			cases = append(cases, tc)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read test cases: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cases); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode test cases: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown test case format %q", format)
	}
	return cases, nil
}
