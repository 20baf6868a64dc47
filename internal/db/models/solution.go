package models

import (
	"time"

	"github.com/lib/pq"
)

// Solution is the knowledge entry: a diagnosed error and its fix. The
// identifying fields are immutable after creation; visibility, vote
// aggregates and embedding state are the only mutable parts.
//
// Upvotes and downvotes are derived from solution_votes and recomputed there
// on every vote mutation — they are never maintained independently.
type Solution struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"userId"`
	APIKeyID             string          `db:"api_key_id" json:"apiKeyId"`
	Title                string          `db:"title" json:"title"`
	ErrorMessage         string          `db:"error_message" json:"errorMessage"`
	ErrorType            string          `db:"error_type" json:"errorType"`
	Context              string          `db:"context" json:"context"`
	RootCause            string          `db:"root_cause" json:"rootCause"`
	Solution             string          `db:"solution" json:"solution"`
	CodeChanges          *string         `db:"code_changes" json:"codeChanges"`
	Tags                 StringList      `db:"tags" json:"tags"`
	ConversationLanguage *string         `db:"conversation_language" json:"conversationLanguage"`
	ProgrammingLanguage  *string         `db:"programming_language" json:"programmingLanguage"`
	VibecodingSoftware   *string         `db:"vibecoding_software" json:"vibecodingSoftware"`
	ProjectPath          *string         `db:"project_path" json:"projectPath"`
	Environment          JSONMap         `db:"environment" json:"environment"`
	Visibility           string          `db:"visibility" json:"visibility"`
	Upvotes              int             `db:"upvotes" json:"upvotes"`
	Downvotes            int             `db:"downvotes" json:"downvotes"`
	Embedding            pq.Float32Array `db:"embedding" json:"-"`
	EmbeddingStatus      string          `db:"embedding_status" json:"embeddingStatus"`
	EmbeddingError       *string         `db:"embedding_error" json:"embeddingError"`
	EmbeddingUpdatedAt   *time.Time      `db:"embedding_updated_at" json:"embeddingUpdatedAt"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
}

// VoteScore is the derived upvotes-minus-downvotes value exposed to clients.
func (s *Solution) VoteScore() int { return s.Upvotes - s.Downvotes }
