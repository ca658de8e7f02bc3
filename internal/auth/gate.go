package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/umrahops/realtime/internal/ierr"
)

const RoleAdmin = "Admin"

// Identity is the resolved subject of a credential. It is captured once at
// connection time and stays immutable for the life of the connection, even
// if the underlying user record changes.
type Identity struct {
	UserID int64  `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Directory resolves a credential subject against the user record store.
// Lookups must fail with a NotFound code for missing or deactivated users.
type Directory interface {
	Lookup(ctx context.Context, userID int64) (Identity, error)
}

type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"userId"`
}

type Gate struct {
	secret    []byte
	directory Directory
	jwtParser *jwt.Parser
}

func NewGate(secret string, directory Directory) *Gate {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	return &Gate{
		secret:    []byte(secret),
		directory: directory,
		jwtParser: jwtParser,
	}
}

func (g *Gate) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return g.secret, nil
}

// Authenticate verifies the signed credential and resolves it to a live
// identity. It is a pure lookup; no state is created on failure.
func (g *Gate) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("no token provided"))
	}

	claims := Claims{}

	_, err := g.jwtParser.ParseWithClaims(tokenString, &claims, g.keyFunc)
	if err != nil {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	if claims.UserID == 0 {
		return Identity{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid userId claim"))
	}

	identity, err := g.directory.Lookup(ctx, claims.UserID)
	if err != nil {
		if ierr.CodeOf(err) == ierr.ErrorCodeNotFound {
			return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not found or deactivated"))
		}

		return Identity{}, err
	}

	return identity, nil
}

// TokenFromRequest extracts the credential from the Authorization header or,
// for websocket handshakes where headers are awkward, the token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
