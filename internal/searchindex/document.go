// Package searchindex wraps the bleve index that serves as the content query
// surface. Every solution has exactly one document here; the ledger row is
// authoritative for votes and embedding state, the index for search.
package searchindex

import (
	"time"

	"github.com/context8/context8-docker/internal/db/models"
)

// Document is the indexed projection of one solution.
type Document struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	APIKeyID             string    `json:"api_key_id"`
	Title                string    `json:"title"`
	ErrorMessage         string    `json:"error_message"`
	ErrorType            string    `json:"error_type"`
	Context              string    `json:"context"`
	RootCause            string    `json:"root_cause"`
	Solution             string    `json:"solution"`
	CodeChanges          string    `json:"code_changes,omitempty"`
	Tags                 []string  `json:"tags"`
	ConversationLanguage string    `json:"conversation_language,omitempty"`
	ProgrammingLanguage  string    `json:"programming_language,omitempty"`
	VibecodingSoftware   string    `json:"vibecoding_software,omitempty"`
	Visibility           string    `json:"visibility"`
	Upvotes              int       `json:"upvotes"`
	Downvotes            int       `json:"downvotes"`
	Embedding            []float32 `json:"embedding,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// FromSolution projects a ledger row into its index document.
func FromSolution(s *models.Solution) *Document {
	doc := &Document{
		ID:           s.ID,
		UserID:       s.UserID,
		APIKeyID:     s.APIKeyID,
		Title:        s.Title,
		ErrorMessage: s.ErrorMessage,
		ErrorType:    s.ErrorType,
		Context:      s.Context,
		RootCause:    s.RootCause,
		Solution:     s.Solution,
		Tags:         s.Tags,
		Visibility:   s.Visibility,
		Upvotes:      s.Upvotes,
		Downvotes:    s.Downvotes,
		Embedding:    s.Embedding,
		CreatedAt:    s.CreatedAt,
	}
	if s.CodeChanges != nil {
		doc.CodeChanges = *s.CodeChanges
	}
	if s.ConversationLanguage != nil {
		doc.ConversationLanguage = *s.ConversationLanguage
	}
	if s.ProgrammingLanguage != nil {
		doc.ProgrammingLanguage = *s.ProgrammingLanguage
	}
	if s.VibecodingSoftware != nil {
		doc.VibecodingSoftware = *s.VibecodingSoftware
	}
	return doc
}

// VoteScore mirrors the ledger-derived score for API responses built from
// index hits.
func (d *Document) VoteScore() int { return d.Upvotes - d.Downvotes }
