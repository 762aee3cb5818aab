// Package parser reads database linter feeds and classifies their findings.
//
// A feed is a JSON or YAML document holding lint findings, either as a bare
// array or wrapped in an object under "warnings" or "lints":
//
//	warnings, err := parser.ReadFeed("lint.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	classified := parser.Classify(warnings)
//
// Classification never fails. Findings with an unknown name are dropped and
// missing or mistyped metadata falls back to defaults.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/pthm/rlsguard/pkg/model"
)

// ErrInvalidFeed is returned when a linter feed cannot be decoded.
var ErrInvalidFeed = errors.New("rlsguard: invalid linter feed")

// ReadFeed reads a linter feed file.
func ReadFeed(path string) ([]model.RawWarning, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading feed file: %w", err)
	}
	return ParseFeed(content)
}

// ParseFeed decodes a JSON or YAML feed. Records that are not objects are
// dropped, and a metadata block that is not an object decodes as nil.
func ParseFeed(content []byte) ([]model.RawWarning, error) {
	// YAML is a superset of JSON, so a single conversion handles both.
	jsonContent, err := yaml.YAMLToJSON(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	records, err := feedRecords(jsonContent)
	if err != nil {
		return nil, err
	}
	warnings := make([]model.RawWarning, 0, len(records))
	for _, raw := range records {
		if w, ok := decodeRecord(raw); ok {
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

func feedRecords(content []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(content, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Warnings []json.RawMessage `json:"warnings"`
		Lints    []json.RawMessage `json:"lints"`
	}
	if err := json.Unmarshal(content, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: expected an array or an object with warnings", ErrInvalidFeed)
	}
	if wrapped.Warnings == nil && wrapped.Lints == nil {
		return nil, fmt.Errorf("%w: expected an array or an object with warnings", ErrInvalidFeed)
	}
	return append(wrapped.Warnings, wrapped.Lints...), nil
}

func decodeRecord(raw json.RawMessage) (model.RawWarning, bool) {
	var rec struct {
		model.RawWarning
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.RawWarning{}, false
	}
	w := rec.RawWarning
	var md map[string]any
	if err := json.Unmarshal(rec.Metadata, &md); err == nil {
		w.Metadata = md
	}
	return w, true
}
