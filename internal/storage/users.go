package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"event-rsvp/internal/models"
)

// GetOrCreateUser returns the user for phone, creating it on first
// sight. created reports whether this call inserted the row.
func (q *Queries) GetOrCreateUser(ctx context.Context, phone string, now time.Time) (*models.User, bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, phone_number, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(phone_number) DO NOTHING`,
		uuid.NewString(), phone, now.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	created, err := rowsChanged(res)
	if err != nil {
		return nil, false, err
	}

	user, err := q.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// GetUserByPhone retrieves a user by phone number
func (q *Queries) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := q.get(ctx, &user, "user", `SELECT * FROM users WHERE phone_number = ?`, phone); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser retrieves a user by id.
func (q *Queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := q.get(ctx, &user, "user", `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetVerificationCode stores a freshly issued code, replacing any
// outstanding one.
func (q *Queries) SetVerificationCode(ctx context.Context, userID, code string, sentAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET verification_code = ?, verification_code_sent_at = ? WHERE id = ?`,
		code, sentAt.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// ConsumeVerificationCode marks the user verified and clears the code,
// but only while code is still the outstanding one. It reports false
// when another caller consumed it first. A non-empty name replaces the
// stored display name.
func (q *Queries) ConsumeVerificationCode(ctx context.Context, userID, code, name string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users
		 SET is_verified = 1,
		     verification_code = '',
		     verification_code_sent_at = NULL,
		     name = CASE WHEN ? = '' THEN name ELSE ? END
		 WHERE id = ? AND verification_code = ? AND verification_code <> ''`,
		name, name, userID, code)
	if err != nil {
		return false, fmt.Errorf("failed to consume verification code: %w", err)
	}
	return rowsChanged(res)
}

// UpdateUserName sets the display name.
func (q *Queries) UpdateUserName(ctx context.Context, userID, name string) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE users SET name = ? WHERE id = ?`, name, userID); err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	return nil
}

// CreateSession stores a login session.
func (q *Queries) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session by token.
func (q *Queries) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session
	if err := q.get(ctx, &s, "session", `SELECT * FROM sessions WHERE token = ?`, token); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session; deleting a missing one is not an error.
func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
