package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles recognised by the authorization matrix. Campaign managers and
// company admins are scoped to a company; admins span all of them.
const (
	RoleUser            = "user"
	RoleCampaignManager = "campaign_manager"
	RoleCompanyAdmin    = "company_admin"
	RoleAdmin           = "admin"
)

// ErrUserLoaderUnavailable is returned by Identity.User when the identity
// was built without access to the Firebase Admin user API.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader fetches the Firebase user profile for a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the authenticated principal extracted from a verified
// Firebase ID token. CompanyID scopes company-bound roles; Locale feeds
// per-request localisation of validation messages.
type Identity struct {
	UID       string
	Email     string
	Roles     []string
	CompanyID string
	Locale    string

	token      *firebaseauth.Token
	userLoader UserLoader

	userOnce   sync.Once
	userRecord *firebaseauth.UserRecord
	userErr    error
}

// Token returns the decoded Firebase ID token, or nil when the identity
// was constructed directly (tests, service identities).
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the role. Comparison is
// case-insensitive.
func (i *Identity) HasRole(role string) bool {
	if i == nil || strings.TrimSpace(role) == "" {
		return false
	}
	for _, held := range i.Roles {
		if strings.EqualFold(held, strings.TrimSpace(role)) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// User loads the full Firebase user record on first call and memoises the
// result, including the error.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.userLoader == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.userOnce.Do(func() {
		i.userRecord, i.userErr = i.userLoader(ctx, i.UID)
	})
	return i.userRecord, i.userErr
}

type identityKey struct{}

// WithIdentity attaches the identity to ctx for downstream handlers and
// services.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
