package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/flowershop/internal/domain/auth"
)

// Claims are the bearer token claims issued by the account service. The
// subject is the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Role auth.Role `json:"role,omitempty"`
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator returns an Authenticator for tokens signed with secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate resolves the principal from the Authorization header.
func (a *Authenticator) Authenticate(r *http.Request) (auth.Principal, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	var claims Claims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return auth.Principal{}, fmt.Errorf("%w: bad subject %q", auth.ErrUnauthenticated, claims.Subject)
	}

	role := claims.Role
	switch role {
	case "":
		role = auth.RoleClient
	case auth.RoleClient, auth.RoleAdmin:
	default:
		return auth.Principal{}, fmt.Errorf("%w: unknown role %q", auth.ErrUnauthenticated, role)
	}
	return auth.Principal{UserID: userID, Role: role}, nil
}

type principalHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

// authenticated rejects requests without a valid bearer token and stores the
// principal in the request context.
func (h *Handler) authenticated(next principalHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.authn.Authenticate(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)), p)
	})
}

// admin is authenticated restricted to RoleAdmin.
func (h *Handler) admin(next principalHandler) http.Handler {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request, p auth.Principal) {
		if !p.IsAdmin() {
			writeErr(w, r, auth.ErrInsufficientPermission)
			return
		}
		next(w, r, p)
	})
}
