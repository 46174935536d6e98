// Package status defines the outcome of processing one project through the
// extraction pipeline.
//
// Status is a closed sum type: only the variants declared in this package
// implement it. Partial wraps another status to record that the project
// produced usable data despite a later failure.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status is the outcome of processing a project.
type Status interface {
	// Name is the variant name used in JSON.
	Name() string
	// Cause is a human readable explanation, empty when there is none.
	Cause() string
	// DBStatus is the string stored in processing_report.status.
	DBStatus() string

	sealed()
}

// Variant names.
const (
	NameOkay                   = "Okay"
	NameCloneFailed            = "CloneFailed"
	NameStaticExtractionError  = "StaticExtractionError"
	NameUnsupportedBuildTool   = "UnsupportedBuildTool"
	NameLanguageNotFound       = "LanguageNotFound"
	NameInstallFailed          = "InstallFailed"
	NameInstallTimeout         = "InstallTimeout"
	NameTestFailed             = "TestFailed"
	NameTestTimeout            = "TestTimeout"
	NameDynamicExtractionError = "DynamicExtractionError"
	NameNoTestSuite            = "NoTestSuite"
	NamePartial                = "Partial"
)

const partialPrefix = "PARTIAL - "

// Okay means the project was fully processed.
type Okay struct{}

// CloneFailed means the repository could not be cloned.
type CloneFailed struct{ Err string }

// StaticExtractionError means the static extractor failed.
type StaticExtractionError struct{ Err string }

// UnsupportedBuildTool means no supported build tool was detected.
type UnsupportedBuildTool struct{}

// LanguageNotFound means the project language could not be determined.
type LanguageNotFound struct{}

// InstallFailed means dependency installation failed.
type InstallFailed struct{ Err string }

// InstallTimeout means dependency installation timed out.
type InstallTimeout struct{}

// TestFailed means the test suite could not be run.
type TestFailed struct{ Err string }

// TestTimeout means the test suite timed out.
type TestTimeout struct{}

// DynamicExtractionError means the dynamic extractor failed.
type DynamicExtractionError struct{ Err string }

// NoTestSuite means the project has no test suite to run.
type NoTestSuite struct{}

// Partial wraps the status that interrupted an otherwise useful run.
type Partial struct{ Inner Status }

func (Okay) Name() string                   { return NameOkay }
func (CloneFailed) Name() string            { return NameCloneFailed }
func (StaticExtractionError) Name() string  { return NameStaticExtractionError }
func (UnsupportedBuildTool) Name() string   { return NameUnsupportedBuildTool }
func (LanguageNotFound) Name() string       { return NameLanguageNotFound }
func (InstallFailed) Name() string          { return NameInstallFailed }
func (InstallTimeout) Name() string         { return NameInstallTimeout }
func (TestFailed) Name() string             { return NameTestFailed }
func (TestTimeout) Name() string            { return NameTestTimeout }
func (DynamicExtractionError) Name() string { return NameDynamicExtractionError }
func (NoTestSuite) Name() string            { return NameNoTestSuite }
func (Partial) Name() string                { return NamePartial }

func (Okay) Cause() string                     { return "" }
func (s CloneFailed) Cause() string            { return s.Err }
func (s StaticExtractionError) Cause() string  { return s.Err }
func (UnsupportedBuildTool) Cause() string     { return "" }
func (LanguageNotFound) Cause() string         { return "" }
func (s InstallFailed) Cause() string          { return s.Err }
func (InstallTimeout) Cause() string           { return "" }
func (s TestFailed) Cause() string             { return s.Err }
func (TestTimeout) Cause() string              { return "" }
func (s DynamicExtractionError) Cause() string { return s.Err }
func (NoTestSuite) Cause() string              { return "" }

func (s Partial) Cause() string {
	if s.Inner == nil {
		return ""
	}
	return s.Inner.Cause()
}

func (Okay) DBStatus() string                   { return "OKAY" }
func (CloneFailed) DBStatus() string            { return "CLONE FAILED" }
func (StaticExtractionError) DBStatus() string  { return "STATIC EXTRACTOR FAILED" }
func (UnsupportedBuildTool) DBStatus() string   { return "BUILD TOOL NOT SUPPORTED" }
func (LanguageNotFound) DBStatus() string       { return "LANGUAGE NOT FOUND" }
func (InstallFailed) DBStatus() string          { return "INSTALL FAILED" }
func (InstallTimeout) DBStatus() string         { return "INSTALL TIMEOUT" }
func (TestFailed) DBStatus() string             { return "TEST FAILED" }
func (TestTimeout) DBStatus() string            { return "TEST TIMEOUT" }
func (DynamicExtractionError) DBStatus() string { return "DYNAMIC EXTRACTOR FAILED" }
func (NoTestSuite) DBStatus() string            { return "NO TEST SUITE" }

func (s Partial) DBStatus() string {
	if s.Inner == nil {
		return partialPrefix + "UNKNOWN"
	}
	return partialPrefix + s.Inner.DBStatus()
}

func (Okay) sealed()                   {}
func (CloneFailed) sealed()            {}
func (StaticExtractionError) sealed()  {}
func (UnsupportedBuildTool) sealed()   {}
func (LanguageNotFound) sealed()       {}
func (InstallFailed) sealed()          {}
func (InstallTimeout) sealed()         {}
func (TestFailed) sealed()             {}
func (TestTimeout) sealed()            {}
func (DynamicExtractionError) sealed() {}
func (NoTestSuite) sealed()            {}
func (Partial) sealed()                {}

// IsOkay reports whether s is a full success.
func IsOkay(s Status) bool {
	_, ok := s.(Okay)
	return ok
}

// ErrUnknownStatus is returned when a name or DB string matches no variant.
var ErrUnknownStatus = errors.New("unknown processing status")

// fromName builds a variant from its name and cause. Partial is handled by callers.
func fromName(name, cause string) (Status, error) {
	switch name {
	case NameOkay:
		return Okay{}, nil
	case NameCloneFailed:
		return CloneFailed{Err: cause}, nil
	case NameStaticExtractionError:
		return StaticExtractionError{Err: cause}, nil
	case NameUnsupportedBuildTool:
		return UnsupportedBuildTool{}, nil
	case NameLanguageNotFound:
		return LanguageNotFound{}, nil
	case NameInstallFailed:
		return InstallFailed{Err: cause}, nil
	case NameInstallTimeout:
		return InstallTimeout{}, nil
	case NameTestFailed:
		return TestFailed{Err: cause}, nil
	case NameTestTimeout:
		return TestTimeout{}, nil
	case NameDynamicExtractionError:
		return DynamicExtractionError{Err: cause}, nil
	case NameNoTestSuite:
		return NoTestSuite{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

var dbStatuses = map[string]Status{
	"OKAY":                     Okay{},
	"CLONE FAILED":             CloneFailed{},
	"STATIC EXTRACTOR FAILED":  StaticExtractionError{},
	"BUILD TOOL NOT SUPPORTED": UnsupportedBuildTool{},
	"LANGUAGE NOT FOUND":       LanguageNotFound{},
	"INSTALL FAILED":           InstallFailed{},
	"INSTALL TIMEOUT":          InstallTimeout{},
	"TEST FAILED":              TestFailed{},
	"TEST TIMEOUT":             TestTimeout{},
	"DYNAMIC EXTRACTOR FAILED": DynamicExtractionError{},
	"NO TEST SUITE":            NoTestSuite{},
}

// Parse converts a processing_report.status value back into a Status.
// Causes are not stored in the database, so error variants come back empty.
func Parse(dbStatus string) (Status, error) {
	if inner, ok := strings.CutPrefix(dbStatus, partialPrefix); ok {
		s, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		return Partial{Inner: s}, nil
	}
	if s, ok := dbStatuses[dbStatus]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, dbStatus)
}

type envelope struct {
	Type  string    `json:"type"`
	Cause string    `json:"cause,omitempty"`
	Inner *envelope `json:"inner,omitempty"`
}

func toEnvelope(s Status) *envelope {
	if s == nil {
		return nil
	}
	e := &envelope{Type: s.Name()}
	if p, ok := s.(Partial); ok {
		e.Inner = toEnvelope(p.Inner)
		return e
	}
	e.Cause = s.Cause()
	return e
}

func (e *envelope) status() (Status, error) {
	if e.Type == NamePartial {
		if e.Inner == nil {
			return nil, fmt.Errorf("%w: partial status without inner", ErrUnknownStatus)
		}
		inner, err := e.Inner.status()
		if err != nil {
			return nil, err
		}
		return Partial{Inner: inner}, nil
	}
	return fromName(e.Type, e.Cause)
}

// Marshal encodes s as {"type": ..., "cause": ..., "inner": ...}.
func Marshal(s Status) ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(toEnvelope(s))
}

// Unmarshal decodes the form produced by Marshal.
func Unmarshal(data []byte) (Status, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return e.status()
}

// Value holds a Status inside JSON documents.
type Value struct {
	Status
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return Marshal(v.Status)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		v.Status = nil
		return nil
	}
	s, err := Unmarshal(data)
	if err != nil {
		return err
	}
	v.Status = s
	return nil
}
