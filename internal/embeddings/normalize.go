// Package embeddings turns solution text into fixed-dimension vectors. An
// external provider does the real work; a deterministic fallback keeps the
// write path alive when it does not.
package embeddings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/context8/context8-docker/internal/db/models"
)

// Normalize flattens a solution's textual fields into one canonical string.
// Field ordering is fixed by sorting the keys and empty fields are omitted,
// so identical content always normalizes identically — that stability is what
// makes the fallback vector reproducible.
func Normalize(s *models.Solution) string {
	fields := map[string]string{
		"title":         s.Title,
		"error_message": s.ErrorMessage,
		"error_type":    s.ErrorType,
		"context":       s.Context,
		"root_cause":    s.RootCause,
		"solution":      s.Solution,
	}
	if s.CodeChanges != nil {
		fields["code_changes"] = *s.CodeChanges
	}
	if len(s.Tags) > 0 {
		fields["tags"] = strings.Join(s.Tags, ",")
	}
	if s.ProgrammingLanguage != nil {
		fields["programming_language"] = *s.ProgrammingLanguage
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, strings.TrimSpace(fields[k])))
	}
	return strings.Join(parts, " | ")
}
