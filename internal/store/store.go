package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formulachat/internal/models"
)

// Store is the typed accessor over persisted user/session/chat/message rows.
// It is the single writer for all four record sets; callers hold only
// transient copies.
type Store struct {
	db *sql.DB
}

// New builds a store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindSession loads one session by its identifier.
func (s *Store) FindSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, token, created_at, expires_at FROM user_sessions WHERE session_id = ?`, id,
	)
	var se models.Session
	if err := row.Scan(&se.ID, &se.UserID, &se.Token, &se.CreatedAt, &se.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &se, nil
}

// InsertSession persists a freshly issued session.
func (s *Store) InsertSession(ctx context.Context, se *models.Session) error {
	if se == nil {
		return errors.New("session is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (session_id, user_id, token, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		se.ID, se.UserID, se.Token, se.CreatedAt, se.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionExpiry moves a session's expiry instant. Logout invalidates
// a session by setting the expiry to now; rows are never deleted here.
func (s *Store) UpdateSessionExpiry(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET expires_at = ? WHERE session_id = ?`, at, id,
	)
	if err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindUserByName loads a user by username.
func (s *Store) FindUserByName(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, email, password_hash, created_at FROM users WHERE username = ?`, username,
	)
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// InsertUser persists a new account.
func (s *Store) InsertUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return errors.New("user is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// InsertChat persists a new chat.
func (s *Store) InsertChat(ctx context.Context, c *models.Chat) error {
	if c == nil {
		return errors.New("chat is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// FindChat loads one chat owned by the given user.
func (s *Store) FindChat(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, title, created_at FROM chats WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	var c models.Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &c, nil
}

// ListChats returns all chats owned by the user, newest first.
func (s *Store) ListChats(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and its messages for the given owner.
func (s *Store) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

// InsertMessage appends one message to a chat's transcript.
func (s *Store) InsertMessage(ctx context.Context, chatID uuid.UUID, role models.Role, content string) (*models.Message, error) {
	msg := models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, chat_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a chat's messages in transcript order.
func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, chat_id, role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY timestamp ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
