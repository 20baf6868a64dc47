package auth

import (
	"context"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/db/repositories"
)

// KeyScope is one resolved, non-revoked credential.
type KeyScope struct {
	ID           string
	ParentID     string // set for sub keys only
	UserID       string
	IsSub        bool
	CanRead      bool
	CanWrite     bool
	DailyLimit   *int
	MonthlyLimit *int
}

// ReadContext is the authorization context for read operations.
type ReadContext struct {
	UserID string
	// APIKeyIDs is the expanded credential set: every resolved key plus, for
	// each resolved root key, its active sub keys.
	APIKeyIDs  []string
	AllowTeam  bool
	AllowAdmin bool
	// FromBearer records whether the identity came from a session token.
	FromBearer bool
}

// WriteContext is the authorization context for write operations. Exactly one
// credential is ever attributed as the writer.
type WriteContext struct {
	UserID     string
	WriteKeyID string
	Scope      KeyScope
	APIKeyIDs  []string
	AllowAdmin bool
}

// Resolver turns raw credentials (a bearer token, raw API key secrets) into a
// single authorization context. All resolution failures collapse into three
// outcomes: Unauthenticated (nothing resolvable), Forbidden (resolvable but
// not permitted), Invalid (malformed combination).
type Resolver struct {
	users  *repositories.UserRepository
	keys   *repositories.APIKeyRepository
	tokens *TokenVerifier
}

// NewResolver creates a Resolver.
func NewResolver(users *repositories.UserRepository, keys *repositories.APIKeyRepository, tokens *TokenVerifier) *Resolver {
	return &Resolver{users: users, keys: keys, tokens: tokens}
}

type bearerIdentity struct {
	userID  string
	isAdmin bool
}

// resolveBearer verifies a session token and loads its user, creating the
// row on first sight. A failed decode returns (nil, fallback=true) so the
// caller can retry the raw value as an API key secret; that fallback happens
// exactly once.
func (r *Resolver) resolveBearer(ctx context.Context, bearer string) (*bearerIdentity, bool, error) {
	claims, err := r.tokens.Verify(bearer)
	if err != nil {
		return nil, true, nil
	}
	user, err := r.users.Ensure(ctx, claims.Subject)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, err, "load session user")
	}
	if user == nil {
		return nil, false, apperr.New(apperr.Unauthenticated, "session user not found")
	}
	return &bearerIdentity{userID: user.ID, isAdmin: user.IsAdmin}, false, nil
}

// resolveSecret hashes one raw secret and looks it up in both credential
// tables. A hash present in both tables is a collision and is rejected
// outright rather than silently preferring either.
func (r *Resolver) resolveSecret(ctx context.Context, secret string) (*KeyScope, error) {
	hash := HashSecret(secret)
	root, err := r.keys.GetByHash(ctx, hash)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "resolve api key")
	}
	sub, err := r.keys.GetSubByHash(ctx, hash)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "resolve api key")
	}
	switch {
	case root != nil && sub != nil:
		return nil, apperr.New(apperr.Unauthenticated, "ambiguous api key")
	case root != nil:
		return &KeyScope{
			ID:           root.ID,
			UserID:       root.UserID,
			CanRead:      true,
			CanWrite:     true,
			DailyLimit:   root.DailyLimit,
			MonthlyLimit: root.MonthlyLimit,
		}, nil
	case sub != nil:
		return &KeyScope{
			ID:           sub.ID,
			ParentID:     sub.ParentAPIKeyID,
			UserID:       sub.UserID,
			IsSub:        true,
			CanRead:      sub.CanRead,
			CanWrite:     sub.CanWrite,
			DailyLimit:   sub.DailyLimit,
			MonthlyLimit: sub.MonthlyLimit,
		}, nil
	default:
		return nil, apperr.New(apperr.Unauthenticated, "invalid api key")
	}
}

// resolveAll resolves the bearer and every secret, enforcing that everything
// belongs to one user.
func (r *Resolver) resolveAll(ctx context.Context, bearer string, secrets []string) (*bearerIdentity, []KeyScope, error) {
	var identity *bearerIdentity
	if bearer != "" {
		id, fallback, err := r.resolveBearer(ctx, bearer)
		if err != nil {
			return nil, nil, err
		}
		if fallback {
			secrets = append(append([]string{}, secrets...), bearer)
		} else {
			identity = id
		}
	}

	scopes := make([]KeyScope, 0, len(secrets))
	for _, secret := range secrets {
		scope, err := r.resolveSecret(ctx, secret)
		if err != nil {
			return nil, nil, err
		}
		scopes = append(scopes, *scope)
	}

	owner := ""
	if identity != nil {
		owner = identity.userID
	}
	for _, scope := range scopes {
		if owner == "" {
			owner = scope.UserID
			continue
		}
		if scope.UserID != owner {
			return nil, nil, apperr.New(apperr.Forbidden, "credentials belong to different users")
		}
	}
	if owner == "" {
		return nil, nil, apperr.New(apperr.Unauthenticated, "no credentials provided")
	}
	return identity, scopes, nil
}

// expandKeyIDs returns the resolved key ids plus, for every root key among
// them, the ids of its active sub keys. A sub key never pulls in its parent
// or siblings.
func (r *Resolver) expandKeyIDs(ctx context.Context, scopes []KeyScope) ([]string, error) {
	seen := map[string]bool{}
	ids := []string{}
	rootIDs := []string{}
	for _, scope := range scopes {
		if !seen[scope.ID] {
			seen[scope.ID] = true
			ids = append(ids, scope.ID)
		}
		if !scope.IsSub {
			rootIDs = append(rootIDs, scope.ID)
		}
	}
	subs, err := r.keys.ListActiveSubsByParents(ctx, rootIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "expand sub keys")
	}
	for _, sub := range subs {
		if !seen[sub.ID] {
			seen[sub.ID] = true
			ids = append(ids, sub.ID)
		}
	}
	return ids, nil
}

// sessionKeyScopes loads every active credential of a user, for bearer-only
// requests where no explicit secret narrows the scope.
func (r *Resolver) sessionKeyScopes(ctx context.Context, userID string) ([]KeyScope, error) {
	roots, err := r.keys.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list session keys")
	}
	scopes := make([]KeyScope, 0, len(roots))
	for _, root := range roots {
		scopes = append(scopes, KeyScope{
			ID:           root.ID,
			UserID:       root.UserID,
			CanRead:      true,
			CanWrite:     true,
			DailyLimit:   root.DailyLimit,
			MonthlyLimit: root.MonthlyLimit,
		})
	}
	return scopes, nil
}

// ResolveRead builds the read authorization context. Team visibility is
// granted to any resolved identity; admin bypass only when the admin flag is
// set and the identity came from the bearer token.
func (r *Resolver) ResolveRead(ctx context.Context, bearer string, secrets []string) (*ReadContext, error) {
	identity, scopes, err := r.resolveAll(ctx, bearer, secrets)
	if err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		if !scope.CanRead {
			return nil, apperr.New(apperr.Forbidden, "api key %s is not permitted to read", scope.ID)
		}
	}

	userID := ""
	if identity != nil {
		userID = identity.userID
	} else {
		userID = scopes[0].UserID
	}
	if len(scopes) == 0 {
		// Bearer-only: the session sees everything its keys see.
		if scopes, err = r.sessionKeyScopes(ctx, userID); err != nil {
			return nil, err
		}
	}
	ids, err := r.expandKeyIDs(ctx, scopes)
	if err != nil {
		return nil, err
	}
	return &ReadContext{
		UserID:     userID,
		APIKeyIDs:  ids,
		AllowTeam:  true,
		AllowAdmin: identity != nil && identity.isAdmin,
		FromBearer: identity != nil,
	}, nil
}

// ResolveWrite builds the write authorization context. At most one raw secret
// is accepted; a bearer-only write is attributed to the user's oldest active
// root key.
func (r *Resolver) ResolveWrite(ctx context.Context, bearer string, secrets []string) (*WriteContext, error) {
	if len(secrets) > 1 {
		return nil, apperr.New(apperr.Invalid, "write accepts at most one api key")
	}
	identity, scopes, err := r.resolveAll(ctx, bearer, secrets)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 1 {
		return nil, apperr.New(apperr.Invalid, "write accepts at most one api key")
	}

	var scope KeyScope
	if len(scopes) == 1 {
		scope = scopes[0]
		if !scope.CanWrite {
			return nil, apperr.New(apperr.Forbidden, "api key %s is not permitted to write", scope.ID)
		}
	} else {
		roots, err := r.keys.ListActiveByUser(ctx, identity.userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "list session keys")
		}
		if len(roots) == 0 {
			return nil, apperr.New(apperr.Invalid, "no active api key to attribute the write to")
		}
		oldest := roots[0]
		scope = KeyScope{
			ID:           oldest.ID,
			UserID:       oldest.UserID,
			CanRead:      true,
			CanWrite:     true,
			DailyLimit:   oldest.DailyLimit,
			MonthlyLimit: oldest.MonthlyLimit,
		}
	}

	ids, err := r.expandKeyIDs(ctx, []KeyScope{scope})
	if err != nil {
		return nil, err
	}
	return &WriteContext{
		UserID:     scope.UserID,
		WriteKeyID: scope.ID,
		Scope:      scope,
		APIKeyIDs:  ids,
		AllowAdmin: identity != nil && identity.isAdmin,
	}, nil
}
