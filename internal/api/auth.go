package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/security"
)

// AuthHandler implements the login-token issuance action: exchange HTTP
// Basic credentials, already verified by the dispatcher's auth step, for
// a rolling login token (§3 User, §6 "Token:" header).
type AuthHandler struct {
	auth     *security.AuthManager
	tokenTTL time.Duration
	logger   *zap.Logger
}

// NewAuthHandler creates an auth handler bound to auth.
func NewAuthHandler(auth *security.AuthManager, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, tokenTTL: tokenTTL, logger: logger}
}

// Register binds the token-issuance action onto d.
func (h *AuthHandler) Register(d *dispatch.Dispatcher) {
	d.Register([]string{"auth", "token"}, &dispatch.Action{
		Name: "issue-token", Verb: dispatch.PUT,
		AuthModes: []security.Mode{security.ModePassword},
		Resource:  "auth", Operation: "token",
		Handler: h.issueToken,
	})
}

func (h *AuthHandler) issueToken(ctx *dispatch.Context) (interface{}, error) {
	token, err := h.auth.GenerateToken(ctx.Auth.Username, ctx.Auth.Scopes)
	if err != nil {
		return nil, err
	}
	return models.TokenGrant{Token: token, Deadline: time.Now().Add(h.tokenTTL)}, nil
}
