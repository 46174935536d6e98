package extraction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single NDJSON record. Usage stacks can be long.
const maxLineSize = 64 << 20

// eachLine calls fn with every non-blank line and its 1-based number.
func eachLine(r io.Reader, fn func(lineNo int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if strings.TrimSpace(string(line)) == "" {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read line %d: %w", lineNo+1, err)
	}
	return nil
}

// ReadPackageSpecs reads one PackageSpec per line.
func ReadPackageSpecs(r io.Reader) ([]PackageSpec, error) {
	var specs []PackageSpec
	err := eachLine(r, func(lineNo int, line []byte) error {
		var spec PackageSpec
		if err := json.Unmarshal(line, &spec); err != nil {
			return fmt.Errorf("line %d: failed to decode package spec: %w", lineNo, err)
		}
		specs = append(specs, spec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// ReadOption configures ReadResults.
type ReadOption func(*readConfig)

type readConfig struct {
	onInvalid func(lineNo int, err error)
}

// SkipInvalid makes ReadResults hand lines that do not decode or validate to
// fn and keep reading instead of stopping.
func SkipInvalid(fn func(lineNo int, err error)) ReadOption {
	return func(c *readConfig) { c.onInvalid = fn }
}

// ReadResults decodes one Result per line and hands each to fn.
// Decoding stops at the first malformed or invalid line, unless SkipInvalid
// is given, and always at the first error from fn.
func ReadResults(r io.Reader, fn func(Result) error, opts ...ReadOption) error {
	var cfg readConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return eachLine(r, func(lineNo int, line []byte) error {
		res, err := decodeResult(line)
		if err != nil {
			err = fmt.Errorf("line %d: %w", lineNo, err)
			if cfg.onInvalid == nil {
				return err
			}
			cfg.onInvalid(lineNo, err)
			return nil
		}
		return fn(res)
	})
}

func decodeResult(line []byte) (Result, error) {
	var res Result
	if err := json.Unmarshal(line, &res); err != nil {
		return Result{}, fmt.Errorf("failed to decode extraction result: %w", err)
	}
	if err := res.Validate(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// WriteResult appends res to w as one NDJSON line.
func WriteResult(w io.Writer, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode extraction result: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
