package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
)

const (
	defaultSessionCookieName  = "session"
	defaultPasswordCookieName = "password"
	shareTokenQueryParameter  = "share"
)

var (
	// ErrNoCredentials indicates the request carried no session cookie at all.
	ErrNoCredentials = errors.New("auth: no session credential present")
	// ErrPasswordMismatch indicates the candidate hash did not match the stored one.
	ErrPasswordMismatch = errors.New("auth: password verification failed")

	errMissingStore = errors.New("auth: session store is required")
)

// SessionLoader is the slice of the session store the gate depends on.
type SessionLoader interface {
	Get(ctx context.Context, sessionID string) (session.Session, error)
}

// ShareTokenValidator validates a share token and returns the session id
// it grants access to.
type ShareTokenValidator func(token string) (string, error)

// GateConfig describes the dependencies for an access gate.
type GateConfig struct {
	Store              SessionLoader
	ShareTokens        ShareTokenValidator
	SessionCookieName  string
	PasswordCookieName string
	Logger             *zap.Logger
}

// Gate resolves a request's credentials into an authenticated session.
// Per-request states: unauthenticated, then after credential lookup either
// authenticated or rejected; there is no partial outcome.
type Gate struct {
	store              SessionLoader
	shareTokens        ShareTokenValidator
	sessionCookieName  string
	passwordCookieName string
	logger             *zap.Logger
}

// NewGate validates the configuration and constructs a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	sessionCookieName := strings.TrimSpace(cfg.SessionCookieName)
	if sessionCookieName == "" {
		sessionCookieName = defaultSessionCookieName
	}
	passwordCookieName := strings.TrimSpace(cfg.PasswordCookieName)
	if passwordCookieName == "" {
		passwordCookieName = defaultPasswordCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:              cfg.Store,
		shareTokens:        cfg.ShareTokens,
		sessionCookieName:  sessionCookieName,
		passwordCookieName: passwordCookieName,
		logger:             logger,
	}, nil
}

// SessionCookieName returns the cookie name carrying the session id.
func (g *Gate) SessionCookieName() string {
	return g.sessionCookieName
}

// PasswordCookieName returns the cookie name carrying the candidate hash.
func (g *Gate) PasswordCookieName() string {
	return g.passwordCookieName
}

// SessionFromRequest authenticates an HTTP request (or a websocket
// handshake, which carries the same cookies) and returns the session it is
// bound to. A session without a stored hash is authenticated by the
// session cookie alone.
func (g *Gate) SessionFromRequest(ctx context.Context, r *http.Request) (session.Session, error) {
	sessionCookie, err := r.Cookie(g.sessionCookieName)
	if err != nil || sessionCookie.Value == "" {
		return session.Session{}, ErrNoCredentials
	}

	record, err := g.store.Get(ctx, sessionCookie.Value)
	if err != nil {
		return session.Session{}, err
	}
	if !record.HasPassword() {
		return record, nil
	}

	if candidate := g.candidateHash(r); candidate != "" && candidate == record.PasswordHash {
		return record, nil
	}
	if g.shareTokenGrants(r, record.SessionID) {
		return record, nil
	}

	g.logger.Info("password verification failed", zap.String("session_id", record.SessionID))
	return session.Session{}, ErrPasswordMismatch
}

// Verify compares a candidate hash against the session's stored one,
// mirroring the request path for callers that already hold both.
func (g *Gate) Verify(record session.Session, candidateHash string) bool {
	if !record.HasPassword() {
		return true
	}
	return candidateHash != "" && candidateHash == record.PasswordHash
}

func (g *Gate) candidateHash(r *http.Request) string {
	passwordCookie, err := r.Cookie(g.passwordCookieName)
	if err != nil {
		return ""
	}
	return passwordCookie.Value
}

func (g *Gate) shareTokenGrants(r *http.Request, sessionID string) bool {
	if g.shareTokens == nil {
		return false
	}
	token := r.URL.Query().Get(shareTokenQueryParameter)
	if token == "" {
		return false
	}
	grantedSession, err := g.shareTokens(token)
	if err != nil {
		g.logger.Info("share token rejected", zap.Error(err))
		return false
	}
	return grantedSession == sessionID
}
