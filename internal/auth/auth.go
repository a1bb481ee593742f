// Package auth signs users in with one-time codes sent to their phone.
//
// A user moves from unverified to code-sent when a code is issued, and
// to verified when the code is entered within CodeTTL. Codes are single
// use. A new code may be requested once ResendCooldown has passed.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/models"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/storage"
)

// SessionTTL is how long a login lasts.
const SessionTTL = 30 * 24 * time.Hour

// Transport is the synchronous sender codes go out through.
type Transport interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

// DeliveryReport describes one code delivery. A failed delivery is
// reported here rather than as an error so the caller can show it.
type DeliveryReport struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service issues and checks verification codes and sessions.
type Service struct {
	store     *storage.Storage
	transport Transport
	phones    *phone.Formatter
	clock     clock.Clock
	log       zerolog.Logger
	newCode   func() (string, error)
}

// NewService returns a Service.
func NewService(store *storage.Storage, transport Transport, phones *phone.Formatter, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		transport: transport,
		phones:    phones,
		clock:     clk,
		log:       log.With().Str("component", "auth").Logger(),
		newCode:   generateCode,
	}
}

// generateCode returns a uniformly random six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SendVerificationCode issues a fresh code to number, creating the
// user on first sight. number must already be normalized. Gateway
// failures are reported in the DeliveryReport and not retried.
func (s *Service) SendVerificationCode(ctx context.Context, number string) (*DeliveryReport, error) {
	now := s.clock.Now()
	user, created, err := s.store.GetOrCreateUser(ctx, number, now)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info().Str("phone", number).Msg("Created user")
	}
	return s.issue(ctx, user, now)
}

func (s *Service) issue(ctx context.Context, user *models.User, now time.Time) (*DeliveryReport, error) {
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	if err := s.store.SetVerificationCode(ctx, user.ID, code, now); err != nil {
		return nil, err
	}

	id, err := s.transport.Send(ctx, user.PhoneNumber, fmt.Sprintf("Your verification code is %s.", code))
	if err != nil {
		s.log.Error().Err(err).Str("phone", user.PhoneNumber).Msg("Failed to send verification code")
		return &DeliveryReport{Success: false, Error: apperr.UserMessage(err)}, nil
	}
	s.log.Info().Str("phone", user.PhoneNumber).Str("message_id", id).Msg("Verification code sent")
	return &DeliveryReport{Success: true, MessageID: id}, nil
}

// RequestCode is the login entry point: it normalizes raw and sends a
// code unless the cooldown from a previous code is still running.
func (s *Service) RequestCode(ctx context.Context, raw string) (*DeliveryReport, error) {
	number, err := s.phones.Normalize(raw)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByPhone(ctx, number)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		return s.SendVerificationCode(ctx, number)
	case err != nil:
		return nil, err
	}

	now := s.clock.Now()
	if err := checkCooldown(user, now); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, now)
}

// Resend issues a new code to an existing user once the cooldown has
// passed.
func (s *Service) Resend(ctx context.Context, raw string) (*DeliveryReport, error) {
	number, err := s.phones.Normalize(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByPhone(ctx, number)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := checkCooldown(user, now); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, now)
}

func checkCooldown(user *models.User, now time.Time) error {
	if user.CanResendCode(now) {
		return nil
	}
	return apperr.Newf(apperr.KindValidation,
		"Please wait %d seconds before requesting another code.", user.ResendCooldownSeconds(now))
}

// VerifyCode checks code against the user's outstanding code and, on
// a match, marks the user verified and burns the code. A non-empty
// name is stored as the display name.
func (s *Service) VerifyCode(ctx context.Context, raw, code, name string) (*models.User, error) {
	number, err := s.phones.Normalize(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByPhone(ctx, number)
	if err != nil {
		return nil, err
	}

	if user.VerificationCode == "" {
		return nil, apperr.New(apperr.KindInvalidCode, "Invalid verification code.")
	}
	if user.CodeExpired(s.clock.Now()) {
		return nil, apperr.New(apperr.KindExpired, "Verification code expired. Please request a new one.")
	}
	if subtle.ConstantTimeCompare([]byte(user.VerificationCode), []byte(code)) != 1 {
		return nil, apperr.New(apperr.KindInvalidCode, "Invalid verification code.")
	}

	consumed, err := s.store.ConsumeVerificationCode(ctx, user.ID, code, name)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, apperr.New(apperr.KindInvalidCode, "Invalid verification code.")
	}

	s.log.Info().Str("user_id", user.ID).Msg("Phone verified")
	return s.store.GetUser(ctx, user.ID)
}

// Login verifies the code and opens a session.
func (s *Service) Login(ctx context.Context, raw, code, name string) (*models.Session, *models.User, error) {
	user, err := s.VerifyCode(ctx, raw, code, name)
	if err != nil {
		return nil, nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now().UTC()
	session := &models.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(SessionTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindPermission, "Please log in.")
	}
	session, err := s.store.GetSession(ctx, token)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.New(apperr.KindPermission, "Please log in.")
	}
	if err != nil {
		return nil, err
	}
	if !s.clock.Now().Before(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			s.log.Warn().Err(err).Msg("Failed to delete expired session")
		}
		return nil, apperr.New(apperr.KindExpired, "Your session has expired. Please log in again.")
	}
	return s.store.GetUser(ctx, session.UserID)
}

// Logout ends a session.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
