package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/tenancy"
)

// Claims carries the caller identity. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs an HS256 token for caller. Used by tooling and tests; real
// deployments mint tokens in the identity service.
func (a *Authenticator) Issue(caller tenancy.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: caller.TenantID.String(),
		Role:     string(caller.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and resolves the caller it names.
func (a *Authenticator) Parse(raw string) (tenancy.Caller, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return tenancy.Caller{}, fmt.Errorf("parse token: %w", err)
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return tenancy.Caller{}, errors.New("token tenant_id is not a uuid")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return tenancy.Caller{}, errors.New("token subject is not a uuid")
	}
	caller := tenancy.Caller{TenantID: tenantID, UserID: userID, Role: tenancy.Role(claims.Role)}
	if err := caller.Validate(); err != nil {
		return tenancy.Caller{}, err
	}
	if caller.Role == tenancy.RoleSystem {
		return tenancy.Caller{}, errors.New("system role is not accepted over http")
	}
	return caller, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	// EventSource and browser WebSocket clients cannot set headers.
	if strings.HasPrefix(r.URL.Path, "/v1/stream/") || strings.HasPrefix(r.URL.Path, "/v1/ws/") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Authenticate resolves the caller from the bearer token and stores it on
// the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		caller, err := a.Parse(raw)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected token")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}

		ctx := tenancy.WithCaller(r.Context(), caller)
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("tenant_id", caller.TenantID.String()).Str("user_id", caller.UserID.String())
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom reads the caller stored by Authenticate.
func callerFrom(w http.ResponseWriter, r *http.Request) (tenancy.Caller, bool) {
	caller, ok := tenancy.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller")
		return tenancy.Caller{}, false
	}
	return caller, true
}
