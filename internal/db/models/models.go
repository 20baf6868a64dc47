// Package models defines the ledger row types.
// Each type corresponds to a database table and uses struct tags for both
// JSON serialization and sqlx row scanning. Models are pure data types —
// business logic belongs in the service layer, query logic in repositories.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Visibility values for solutions. The enum is closed: anything else is a
// validation failure, never coerced.
const (
	VisibilityPrivate = "private"
	VisibilityTeam    = "team"
)

// NormalizeVisibility lower-cases and validates a visibility value. An empty
// input normalizes to empty (meaning "no explicit filter" on reads, "default"
// on writes); the caller decides the default.
func NormalizeVisibility(value string) (string, error) {
	switch lowered := strings.ToLower(strings.TrimSpace(value)); lowered {
	case "":
		return "", nil
	case VisibilityPrivate, VisibilityTeam:
		return lowered, nil
	default:
		return "", fmt.Errorf("invalid visibility: %q", value)
	}
}

// Embedding status values. skipped is terminal and only set when vector
// search is disabled entirely.
const (
	EmbeddingPending    = "pending"
	EmbeddingProcessing = "processing"
	EmbeddingDone       = "done"
	EmbeddingFailed     = "failed"
	EmbeddingSkipped    = "skipped"
)

// StringList is a JSONB-backed []string column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// JSONMap is a JSONB-backed free-form object column (solution environment).
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(raw, (*map[string]any)(m))
}
