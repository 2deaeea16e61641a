package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"formulachat/internal/models"
)

const sessionKeyPrefix = "session:"

// Sessions is a best-effort read-through cache in front of the session
// store. A nil *Client disables it: every method degrades to a miss or a
// no-op, so callers never branch on whether redis is configured.
type Sessions struct {
	client *Client
	log    zerolog.Logger
}

// NewSessions wraps the redis client for session caching.
func NewSessions(client *Client, log zerolog.Logger) *Sessions {
	return &Sessions{client: client, log: log}
}

// Load returns the cached session, or ok=false on miss or any cache error.
func (s *Sessions) Load(ctx context.Context, id uuid.UUID) (*models.Session, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id.String())
	if err != nil {
		if err != ErrCacheMiss {
			s.log.Warn().Err(err).Str("session_id", id.String()).Msg("session cache read failed")
		}
		return nil, false
	}
	var se models.Session
	if err := json.Unmarshal([]byte(raw), &se); err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("session cache decode failed")
		return nil, false
	}
	return &se, true
}

// Store caches the session until its own expiry. Already-expired sessions
// are left out so a stale entry can never outlive its row.
func (s *Sessions) Store(ctx context.Context, se *models.Session) {
	if s == nil || s.client == nil || se == nil {
		return
	}
	ttl := time.Until(se.ExpiresAt)
	if ttl <= 0 {
		s.Invalidate(ctx, se.ID)
		return
	}
	data, err := json.Marshal(se)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", se.ID.String()).Msg("session cache encode failed")
		return
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+se.ID.String(), data, ttl); err != nil {
		s.log.Warn().Err(err).Str("session_id", se.ID.String()).Msg("session cache write failed")
	}
}

// Invalidate drops the cached session.
func (s *Sessions) Invalidate(ctx context.Context, id uuid.UUID) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Del(ctx, sessionKeyPrefix+id.String()); err != nil && err != ErrCacheMiss {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("session cache invalidate failed")
	}
}
