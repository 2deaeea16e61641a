package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"formulachat/internal/cache"
	"formulachat/internal/models"
	"formulachat/internal/store"
	"formulachat/internal/token"
)

// Service issues sessions and resolves bearer tokens into them.
type Service struct {
	store      *store.Store
	codec      *token.Codec
	sessions   *cache.Sessions
	sessionTTL time.Duration
	headerName string
	log        zerolog.Logger
}

// NewService constructs an auth service with the supplied session lifetime.
// A non-positive ttl falls back to the codec's claim lifetime so the stored
// expiry and the token's exp claim stay aligned.
func NewService(st *store.Store, codec *token.Codec, sessions *cache.Sessions, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = codec.TTL()
	}
	return &Service{
		store:      st,
		codec:      codec,
		sessions:   sessions,
		sessionTTL: ttl,
		headerName: "Authorization",
		log:        log,
	}
}

// Issue creates a session for the user, valid for the configured lifetime,
// and persists it before handing it out.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	id := uuid.New()
	bearer, err := s.codec.Encode(id)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	now := time.Now().UTC()
	se := &models.Session{
		ID:        id,
		UserID:    userID,
		Token:     bearer,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.InsertSession(ctx, se); err != nil {
		return nil, err
	}
	s.sessions.Store(ctx, se)
	return se, nil
}

// Logout invalidates the session immediately by moving its expiry to now.
// The row stays behind; cleanup is someone else's job.
func (s *Service) Logout(ctx context.Context, se *models.Session) error {
	if se == nil {
		return nil
	}
	if err := s.store.UpdateSessionExpiry(ctx, se.ID, time.Now().UTC()); err != nil {
		return err
	}
	s.sessions.Invalidate(ctx, se.ID)
	return nil
}
