package security

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the claims carried by a rolling login token (§3 User,
// §6 "Token:" header).
type Claims struct {
	Username string   `json:"username"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// AuthManager issues and validates login tokens and checks HTTP Basic
// credentials against the user store.
type AuthManager struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	rbac      *RBAC
	users     *UserStore
}

// NewAuthManager creates a new auth manager.
func NewAuthManager(jwtSecret string, tokenTTL time.Duration, users *UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthManager{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		rbac:      NewRBAC(),
		users:     users,
	}
}

// RBAC exposes the manager's permission predicate, consumed by the
// dispatcher's action contract.
func (a *AuthManager) RBAC() *RBAC { return a.rbac }

// GenerateToken generates a rolling login token for a user.
func (a *AuthManager) GenerateToken(username string, scopes []string) (string, error) {
	claims := &Claims{
		Username: username,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken validates a login token string.
func (a *AuthManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Mode identifies which of the two supported authentication mechanisms a
// request used (§6: "Token: <loginToken>" or HTTP Basic).
type Mode string

const (
	ModeToken    Mode = "token"
	ModePassword Mode = "password"
)

// AuthResult is what the dispatcher's auth step needs about the caller.
type AuthResult struct {
	Username string
	Scopes   []string
	Mode     Mode
}

// AuthenticateRequest implements the §6 auth rule: either a Token header
// carrying a login token, or HTTP Basic credentials. Returns
// ErrAuthRequired when neither is present, ErrAuthInvalid when present but
// rejected.
func (a *AuthManager) AuthenticateRequest(r *http.Request) (*AuthResult, error) {
	if tok := r.Header.Get("Token"); tok != "" {
		claims, err := a.ValidateToken(tok)
		if err != nil {
			return nil, ErrAuthInvalid
		}
		return &AuthResult{Username: claims.Username, Scopes: claims.Scopes, Mode: ModeToken}, nil
	}

	if authz := r.Header.Get("Authorization"); authz != "" {
		username, password, ok := parseBasicAuth(authz)
		if !ok {
			return nil, ErrAuthInvalid
		}
		user, err := a.users.Authenticate(username, password)
		if err != nil {
			return nil, ErrAuthInvalid
		}
		return &AuthResult{Username: user.Username, Scopes: user.Roles, Mode: ModePassword}, nil
	}

	return nil, ErrAuthRequired
}

// Authorize checks whether the caller's scopes grant permission for an
// action on a resource (the dispatcher's permission predicate, §4.6).
func (a *AuthManager) Authorize(res *AuthResult, resource, action string) bool {
	if res == nil {
		return false
	}
	return a.rbac.IsAllowed(res.Scopes, resource, action)
}

var (
	// ErrAuthRequired is returned when no credentials were presented.
	ErrAuthRequired = errors.New("auth required")
	// ErrAuthInvalid is returned when credentials were presented but rejected.
	ErrAuthInvalid = errors.New("auth invalid")
)

func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ConstantTimeEquals compares two secrets (update tokens, passphrase
// hashes) without leaking timing information.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
