package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/merchkit/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the Firebase ID token failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter retrieves Firebase user records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// ClaimMapping names the custom claims the identity fields are read from.
// Zero fields keep their defaults.
type ClaimMapping struct {
	Role    string
	Company string
	Locale  string
	Email   string
}

func defaultClaims() ClaimMapping {
	return ClaimMapping{Role: "role", Company: "company_id", Locale: "locale", Email: "email"}
}

// Authenticator turns Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter

	claims       ClaimMapping
	fallbackRole string
	timeout      time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithUserGetter enables lazy loading of full user records on the identity.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) { a.users = getter }
}

// WithClaimMapping overrides where identity fields are read from in the
// token's custom claims.
func WithClaimMapping(m ClaimMapping) Option {
	return func(a *Authenticator) {
		if v := strings.TrimSpace(m.Role); v != "" {
			a.claims.Role = v
		}
		if v := strings.TrimSpace(m.Company); v != "" {
			a.claims.Company = v
		}
		if v := strings.TrimSpace(m.Locale); v != "" {
			a.claims.Locale = v
		}
		if v := strings.TrimSpace(m.Email); v != "" {
			a.claims.Email = v
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = canonicalRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds token verification and user loading.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds an Authenticator around the given verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		claims:       defaultClaims(),
		fallbackRole: RoleUser,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the Authorization bearer token, builds the
// request identity and, when allowedRoles is non-empty, rejects identities
// holding none of them.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = canonicalRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil || a.verifier == nil {
				deny(r.Context(), w, "unauthenticated", "authorization service unavailable")
				return
			}
			tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(r.Context(), w, "unauthenticated", "authorization header missing or invalid")
				return
			}

			verifyCtx, cancel := a.bounded(r.Context())
			defer cancel()

			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			if err != nil {
				denyToken(r.Context(), w, err)
				return
			}

			identity := a.identityFromToken(token)
			if len(identity.Roles) == 0 {
				deny(r.Context(), w, "missing_role", "no roles associated with identity")
				return
			}
			if len(required) > 0 && !identity.HasAnyRole(required...) {
				deny(r.Context(), w, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:       token.UID,
		Email:     stringClaim(token.Claims, a.claims.Email, "email"),
		CompanyID: stringClaim(token.Claims, a.claims.Company),
		Locale:    stringClaim(token.Claims, a.claims.Locale, "locale"),
		Roles:     rolesClaim(token.Claims[a.claims.Role]),
		token:     token,
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	if a.users != nil {
		identity.userLoader = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			if uid == "" {
				uid = identity.UID
			}
			ctx, cancel := a.bounded(ctx)
			defer cancel()
			return a.users.GetUser(ctx, uid)
		}
	}
	return identity
}

func (a *Authenticator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// stringClaim reads the first non-empty string claim among the given keys.
func stringClaim(claims map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// rolesClaim accepts the shapes Firebase custom claims show up in: a single
// string, a list, or a role-to-bool map.
func rolesClaim(raw interface{}) []string {
	appendRole := func(out []string, candidate string) []string {
		role := canonicalRole(candidate)
		if role == "" {
			return out
		}
		for _, existing := range out {
			if existing == role {
				return out
			}
		}
		return append(out, role)
	}

	switch v := raw.(type) {
	case string:
		return appendRole(nil, v)
	case []string:
		var out []string
		for _, item := range v {
			out = appendRole(out, item)
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = appendRole(out, s)
			}
		}
		return out
	case map[string]interface{}:
		var out []string
		for name, granted := range v {
			if enabled, ok := granted.(bool); ok && enabled {
				out = appendRole(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func denyToken(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		deny(ctx, w, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		deny(ctx, w, "invalid_token", "firebase id token invalid")
	default:
		deny(ctx, w, "invalid_token", "firebase id token verification failed")
	}
}
