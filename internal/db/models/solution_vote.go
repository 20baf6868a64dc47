package models

import "time"

// SolutionVote is one user's vote on one solution. The table is unique on
// (solution_id, user_id) and value is constrained to +1 or -1; that unique
// constraint, not application logic, is what stops two concurrent first votes
// from both landing.
type SolutionVote struct {
	ID         string    `db:"id" json:"id"`
	SolutionID string    `db:"solution_id" json:"solutionId"`
	UserID     string    `db:"user_id" json:"userId"`
	Value      int       `db:"value" json:"value"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}
