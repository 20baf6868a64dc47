package models

import "time"

// APIKey is a root credential. The raw secret is shown once at creation; only
// its deterministic hash is stored. Revocation is a soft delete and is
// irreversible.
type APIKey struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"userId"`
	Name         string    `db:"name" json:"name"`
	KeyHash      string    `db:"key_hash" json:"-"`
	Revoked      bool      `db:"revoked" json:"revoked"`
	DailyLimit   *int      `db:"daily_limit" json:"dailyLimit"`
	MonthlyLimit *int      `db:"monthly_limit" json:"monthlyLimit"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// SubAPIKey is a delegated credential under exactly one parent APIKey,
// inheriting the owning user but carrying its own permission flags and quotas.
type SubAPIKey struct {
	ID             string    `db:"id" json:"id"`
	ParentAPIKeyID string    `db:"parent_api_key_id" json:"parentApiKeyId"`
	UserID         string    `db:"user_id" json:"userId"`
	Name           string    `db:"name" json:"name"`
	KeyHash        string    `db:"key_hash" json:"-"`
	Revoked        bool      `db:"revoked" json:"revoked"`
	CanRead        bool      `db:"can_read" json:"canRead"`
	CanWrite       bool      `db:"can_write" json:"canWrite"`
	DailyLimit     *int      `db:"daily_limit" json:"dailyLimit"`
	MonthlyLimit   *int      `db:"monthly_limit" json:"monthlyLimit"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
