package services

import (
	"context"
	"strings"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

// CreatedKey pairs a stored key row with its raw secret, which exists only in
// this response.
type CreatedKey struct {
	Key    *models.APIKey `json:"key"`
	Secret string         `json:"secret"`
}

// CreatedSubKey is the sub-key variant of CreatedKey.
type CreatedSubKey struct {
	Key    *models.SubAPIKey `json:"key"`
	Secret string            `json:"secret"`
}

// KeyListing is one root key with its sub keys.
type KeyListing struct {
	Key     models.APIKey      `json:"key"`
	SubKeys []models.SubAPIKey `json:"subKeys"`
}

// APIKeyService manages credentials and the revocation cascade that removes
// a revoked key's content from both stores.
type APIKeyService struct {
	users     *repositories.UserRepository
	keys      *repositories.APIKeyRepository
	solutions *repositories.SolutionRepository
	index     indexStore
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(users *repositories.UserRepository, keys *repositories.APIKeyRepository, solutions *repositories.SolutionRepository, index indexStore) *APIKeyService {
	return &APIKeyService{users: users, keys: keys, solutions: solutions, index: index}
}

// Create mints a root key for the user. The secret is returned exactly once.
func (s *APIKeyService) Create(ctx context.Context, userID, name string, daily, monthly *int) (*CreatedKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.Invalid, "key name is required")
	}
	if err := validLimits(daily, monthly); err != nil {
		return nil, err
	}
	if _, err := s.users.Ensure(ctx, userID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "ensure user")
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "generate secret")
	}
	key := &models.APIKey{
		ID:           auth.NewKeyID(),
		UserID:       userID,
		Name:         strings.TrimSpace(name),
		KeyHash:      auth.HashSecret(secret),
		DailyLimit:   daily,
		MonthlyLimit: monthly,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "store api key")
	}
	return &CreatedKey{Key: key, Secret: secret}, nil
}

// CreateSub mints a delegated key under one of the user's root keys. Write
// permission implies read; a key that can do neither is rejected.
func (s *APIKeyService) CreateSub(ctx context.Context, userID, parentID, name string, canRead, canWrite bool, daily, monthly *int) (*CreatedSubKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.Invalid, "key name is required")
	}
	if err := validLimits(daily, monthly); err != nil {
		return nil, err
	}
	canRead, canWrite, err := normalizePermissions(canRead, canWrite)
	if err != nil {
		return nil, err
	}

	parent, err := s.keys.GetByIDForUser(ctx, parentID, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load parent key")
	}
	if parent == nil {
		return nil, apperr.New(apperr.NotFound, "api key not found")
	}
	if parent.Revoked {
		return nil, apperr.New(apperr.Invalid, "cannot create a sub key under a revoked key")
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "generate secret")
	}
	key := &models.SubAPIKey{
		ID:             auth.NewSubKeyID(),
		ParentAPIKeyID: parent.ID,
		UserID:         userID,
		Name:           strings.TrimSpace(name),
		KeyHash:        auth.HashSecret(secret),
		CanRead:        canRead,
		CanWrite:       canWrite,
		DailyLimit:     daily,
		MonthlyLimit:   monthly,
	}
	if err := s.keys.CreateSub(ctx, key); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "store sub api key")
	}
	return &CreatedSubKey{Key: key, Secret: secret}, nil
}

func validLimits(daily, monthly *int) error {
	if daily != nil && *daily < 1 {
		return apperr.New(apperr.Invalid, "daily limit must be positive")
	}
	if monthly != nil && *monthly < 1 {
		return apperr.New(apperr.Invalid, "monthly limit must be positive")
	}
	return nil
}

// normalizePermissions applies write-implies-read and rejects a useless key.
func normalizePermissions(canRead, canWrite bool) (bool, bool, error) {
	if canWrite {
		canRead = true
	}
	if !canRead && !canWrite {
		return false, false, apperr.New(apperr.Invalid, "a key must be able to read or write")
	}
	return canRead, canWrite, nil
}

// List returns all of the user's root keys with their sub keys, revoked ones
// included.
func (s *APIKeyService) List(ctx context.Context, userID string) ([]KeyListing, error) {
	roots, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list api keys")
	}
	out := make([]KeyListing, 0, len(roots))
	for _, root := range roots {
		subs, err := s.keys.ListSubsByParent(ctx, root.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "list sub keys")
		}
		out = append(out, KeyListing{Key: root, SubKeys: subs})
	}
	return out, nil
}

// UpdateLimits replaces a root key's quota limits.
func (s *APIKeyService) UpdateLimits(ctx context.Context, userID, keyID string, daily, monthly *int) error {
	if err := validLimits(daily, monthly); err != nil {
		return err
	}
	key, err := s.keys.GetByIDForUser(ctx, keyID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load api key")
	}
	if key == nil {
		return apperr.New(apperr.NotFound, "api key not found")
	}
	if err := s.keys.UpdateLimits(ctx, keyID, daily, monthly); err != nil {
		return apperr.Wrap(apperr.Internal, err, "update limits")
	}
	return nil
}

// UpdateSubPermissions replaces a sub key's permission flags, with the same
// normalization as creation.
func (s *APIKeyService) UpdateSubPermissions(ctx context.Context, userID, subID string, canRead, canWrite bool) error {
	canRead, canWrite, err := normalizePermissions(canRead, canWrite)
	if err != nil {
		return err
	}
	key, err := s.keys.GetSubByIDForUser(ctx, subID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load sub key")
	}
	if key == nil {
		return apperr.New(apperr.NotFound, "api key not found")
	}
	if err := s.keys.UpdateSubPermissions(ctx, subID, canRead, canWrite); err != nil {
		return apperr.Wrap(apperr.Internal, err, "update permissions")
	}
	return nil
}

// Revoke revokes a root key and cascades: every solution written under it or
// its sub keys leaves the index first, then the ledger rows, sub keys, and
// the revoked flag land in one transaction. Revocation is irreversible.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	key, err := s.keys.GetByIDForUser(ctx, keyID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load api key")
	}
	if key == nil {
		return apperr.New(apperr.NotFound, "api key not found")
	}
	if key.Revoked {
		return nil
	}

	subs, err := s.keys.ListSubsByParent(ctx, keyID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "list sub keys")
	}
	credentialIDs := []string{keyID}
	for _, sub := range subs {
		credentialIDs = append(credentialIDs, sub.ID)
	}

	sols := []models.Solution{}
	for _, credID := range credentialIDs {
		owned, err := s.solutions.ListByAPIKey(ctx, credID)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "list owned solutions")
		}
		sols = append(sols, owned...)
	}

	if err := s.removeFromIndex(sols); err != nil {
		return err
	}

	solutionIDs := make([]string, 0, len(sols))
	for _, sol := range sols {
		solutionIDs = append(solutionIDs, sol.ID)
	}

	tx, err := s.solutions.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "begin revocation transaction")
	}
	defer tx.Rollback()

	if err := s.solutions.DeleteManyWithVotesTx(ctx, tx, solutionIDs); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	if err := s.keys.RevokeSubsTx(ctx, tx, keyID); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	if err := s.keys.RevokeTx(ctx, tx, keyID); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	if err := tx.Commit(); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	return nil
}

// RevokeSub revokes one sub key and cascades over its own solutions only.
func (s *APIKeyService) RevokeSub(ctx context.Context, userID, subID string) error {
	key, err := s.keys.GetSubByIDForUser(ctx, subID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load sub key")
	}
	if key == nil {
		return apperr.New(apperr.NotFound, "api key not found")
	}
	if key.Revoked {
		return nil
	}

	sols, err := s.solutions.ListByAPIKey(ctx, subID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "list owned solutions")
	}
	if err := s.removeFromIndex(sols); err != nil {
		return err
	}

	solutionIDs := make([]string, 0, len(sols))
	for _, sol := range sols {
		solutionIDs = append(solutionIDs, sol.ID)
	}

	tx, err := s.solutions.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "begin revocation transaction")
	}
	defer tx.Rollback()

	if err := s.solutions.DeleteManyWithVotesTx(ctx, tx, solutionIDs); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	if err := s.keys.RevokeSubTx(ctx, tx, subID); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	if err := tx.Commit(); err != nil {
		return s.restoreAfterLedgerFailure(sols, err)
	}
	return nil
}

// removeFromIndex deletes the given solutions' index documents. A mid-batch
// failure restores the documents already deleted, so a partially revoked key
// never half-disappears from search.
func (s *APIKeyService) removeFromIndex(sols []models.Solution) error {
	for i := range sols {
		if err := s.index.Delete(sols[i].ID); err != nil {
			for j := 0; j < i; j++ {
				doc := searchindex.FromSolution(&sols[j])
				if restoreErr := s.index.Upsert(doc); restoreErr != nil {
					telemetry.LogCompensation("revoke", sols[j].ID, false, restoreErr)
					return apperr.Unreconciled(err, "revocation index delete failed mid-batch and restore failed")
				}
			}
			telemetry.LogCompensation("revoke", sols[i].ID, true, err)
			return apperr.Wrap(apperr.Upstream, err, "remove revoked content from index")
		}
	}
	return nil
}

// restoreAfterLedgerFailure re-indexes everything removed before the ledger
// transaction failed.
func (s *APIKeyService) restoreAfterLedgerFailure(sols []models.Solution, cause error) error {
	for i := range sols {
		doc := searchindex.FromSolution(&sols[i])
		if restoreErr := s.index.Upsert(doc); restoreErr != nil {
			telemetry.LogCompensation("revoke", sols[i].ID, false, restoreErr)
			return apperr.Unreconciled(cause, "revocation failed and index restore failed")
		}
	}
	if len(sols) > 0 {
		telemetry.LogCompensation("revoke", sols[0].ID, true, cause)
	}
	return apperr.Compensated(cause, "revocation failed, index restored")
}
