package auth

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"formulachat/internal/models"
)

const identityContextKey = "auth_identity"

// Identity is the gate's per-request verdict. Session is non-nil exactly
// when Authenticated is true.
type Identity struct {
	Authenticated bool
	Session       *models.Session
}

// Gate resolves the request's bearer token into an Identity and attaches it
// to the gin context. It never rejects a request: every failing check
// degrades to an unauthenticated identity and the downstream handler decides
// the response. This keeps one gate reusable across routes with different
// failure responses.
func (s *Service) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityContextKey, s.resolve(c))
		c.Next()
	}
}

// IdentityFromContext retrieves the gate's verdict for this request.
func IdentityFromContext(c *gin.Context) Identity {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return Identity{}
	}
	ident, ok := val.(Identity)
	if !ok {
		return Identity{}
	}
	return ident
}

// resolve runs the per-request checks, short-circuiting to unauthenticated
// at the first failure. Failures are never surfaced as errors.
func (s *Service) resolve(c *gin.Context) Identity {
	presented := s.extractToken(c)
	if presented == "" {
		return Identity{}
	}

	sessionID, err := s.codec.Decode(presented)
	if err != nil {
		return Identity{}
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()

	if se, ok := s.sessions.Load(ctx, sessionID); ok {
		if se.Token == presented && se.Valid(now) {
			return Identity{Authenticated: true, Session: se}
		}
		return Identity{}
	}

	se, err := s.store.FindSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("session lookup failed")
		}
		return Identity{}
	}
	// The decoded id only names a row; the presented string must equal the
	// stored token exactly so a superseded or logged-out credential cannot
	// impersonate the session.
	if se.Token != presented {
		return Identity{}
	}
	if !se.Valid(now) {
		return Identity{}
	}
	s.sessions.Store(ctx, se)
	return Identity{Authenticated: true, Session: se}
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(authHeader)
}
