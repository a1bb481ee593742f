package models

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	// CodeTTL is how long a verification code stays valid.
	CodeTTL = 5 * time.Minute
	// ResendCooldown is the minimum gap between two codes for one user.
	ResendCooldown = time.Minute

	// MaxOrganizers counts the creator.
	MaxOrganizers = 5
	// MaxTextBlasts is the per-event broadcast cap.
	MaxTextBlasts = 20
	// MaxInvitesPerBatch bounds one invitation request.
	MaxInvitesPerBatch = 20
	// MaxQuestions bounds an event's questionnaire.
	MaxQuestions = 5
)

// User is identified by phone number.
type User struct {
	ID               string     `db:"id" json:"id"`
	PhoneNumber      string     `db:"phone_number" json:"phone_number"`
	Name             string     `db:"name" json:"name"`
	VerificationCode string     `db:"verification_code" json:"-"`
	CodeSentAt       *time.Time `db:"verification_code_sent_at" json:"-"`
	IsVerified       bool       `db:"is_verified" json:"is_verified"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// CodeExpired reports whether the outstanding code is past CodeTTL.
// A user with no code on record is treated as expired.
func (u *User) CodeExpired(now time.Time) bool {
	if u.CodeSentAt == nil {
		return true
	}
	return now.After(u.CodeSentAt.Add(CodeTTL))
}

// CanResendCode is true when no code was ever sent or the cooldown
// has elapsed.
func (u *User) CanResendCode(now time.Time) bool {
	if u.CodeSentAt == nil {
		return true
	}
	return !now.Before(u.CodeSentAt.Add(ResendCooldown))
}

// ResendCooldownSeconds is the remaining wait before CanResendCode
// turns true, truncated to whole seconds.
func (u *User) ResendCooldownSeconds(now time.Time) int {
	if u.CodeSentAt == nil {
		return 0
	}
	remaining := u.CodeSentAt.Add(ResendCooldown).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// CoverStatus tracks the image pipeline for an event's cover photo.
type CoverStatus string

const (
	CoverPending    CoverStatus = "pending"
	CoverProcessing CoverStatus = "processing"
	CoverComplete   CoverStatus = "complete"
	CoverFailed     CoverStatus = "failed"
)

// ReminderWindow names one of the two reminder latches on an event.
type ReminderWindow string

const (
	Reminder24h ReminderWindow = "24h"
	Reminder1h  ReminderWindow = "1h"
)

// Event is a gathering people RSVP to.
type Event struct {
	ID                   string      `db:"id" json:"id"`
	Title                string      `db:"title" json:"title"`
	Description          string      `db:"description" json:"description"`
	Location             string      `db:"location" json:"location"`
	StartAt              time.Time   `db:"start_at" json:"start_at"`
	EndAt                *time.Time  `db:"end_at" json:"end_at,omitempty"`
	Timezone             string      `db:"timezone" json:"timezone"`
	CoverStatus          CoverStatus `db:"cover_photo_status" json:"cover_photo_status"`
	CoverAVIFURL         string      `db:"cover_photo_avif_url" json:"cover_photo_avif_url,omitempty"`
	CoverWebPURL         string      `db:"cover_photo_webp_url" json:"cover_photo_webp_url,omitempty"`
	PhotoAlbumURL        string      `db:"photo_album_url" json:"photo_album_url,omitempty"`
	CreatedBy            string      `db:"created_by" json:"created_by"`
	ShortCode            string      `db:"short_code" json:"short_code"`
	MaxAttendees         *int        `db:"max_attendees" json:"max_attendees,omitempty"`
	IsActive             bool        `db:"is_active" json:"is_active"`
	HideAttendeeCount    bool        `db:"hide_attendee_count" json:"hide_attendee_count"`
	IsListed             bool        `db:"is_listed" json:"is_listed"`
	AllowRSVP            bool        `db:"allow_rsvp" json:"allow_rsvp"`
	AllowMaybeRSVP       bool        `db:"allow_maybe_rsvp" json:"allow_maybe_rsvp"`
	AutoRemindersEnabled bool        `db:"auto_reminders_enabled" json:"auto_reminders_enabled"`
	Reminder24hSent      bool        `db:"reminder_24h_sent" json:"-"`
	Reminder1hSent       bool        `db:"reminder_1h_sent" json:"-"`
	TextBlastCount       int         `db:"text_blast_count" json:"text_blast_count"`
	CreatedAt            time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at" json:"updated_at"`
}

// EndTime falls back to the start when no end is set.
func (e *Event) EndTime() time.Time {
	if e.EndAt != nil {
		return *e.EndAt
	}
	return e.StartAt
}

// IsPast reports whether the event has ended.
func (e *Event) IsPast(now time.Time) bool {
	return e.EndTime().Before(now)
}

// IsFull reports whether attending has reached MaxAttendees.
func (e *Event) IsFull(attending int) bool {
	return e.MaxAttendees != nil && attending >= *e.MaxAttendees
}

// ShortURL is the shareable link for the event.
func (e *Event) ShortURL(domain string) string {
	return fmt.Sprintf("http://%s/e/%s", domain, e.ShortCode)
}

// Zone returns the event's location, UTC when the name is unknown.
func (e *Event) Zone() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatStart renders the start time in the event's timezone.
func (e *Event) FormatStart(layout string) string {
	return e.StartAt.In(e.Zone()).Format(layout)
}

// EventQuestion is one entry of an event's questionnaire.
type EventQuestion struct {
	ID         int64     `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"event_id"`
	Text       string    `db:"text" json:"text"`
	IsRequired bool      `db:"is_required" json:"is_required"`
	Order      int       `db:"position" json:"order"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RSVPStatus represents the attendance confirmation status
type RSVPStatus string

const (
	RSVPAttending    RSVPStatus = "attending"
	RSVPMaybe        RSVPStatus = "maybe"
	RSVPNotAttending RSVPStatus = "not_attending"
)

// Valid reports whether s is one of the three known statuses.
func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPAttending, RSVPMaybe, RSVPNotAttending:
		return true
	}
	return false
}

// RequiresAnswers is true for statuses that carry questionnaire answers.
func (s RSVPStatus) RequiresAnswers() bool {
	return s == RSVPAttending || s == RSVPMaybe
}

// RSVP is unique per (user, event).
type RSVP struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	EventID   string     `db:"event_id" json:"event_id"`
	Status    RSVPStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// RSVPAnswer is unique per (RSVP, question).
type RSVPAnswer struct {
	RSVPID     string    `db:"rsvp_id" json:"rsvp_id"`
	QuestionID int64     `db:"question_id" json:"question_id"`
	Answer     string    `db:"answer" json:"answer"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// EventInvitation is unique per (event, phone number).
type EventInvitation struct {
	EventID     string    `db:"event_id" json:"event_id"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	InvitedBy   string    `db:"invited_by" json:"invited_by"`
	InvitedAt   time.Time `db:"invited_at" json:"invited_at"`
}

// BlastAudience selects which RSVP holders receive a text blast.
type BlastAudience string

const (
	AudienceAttending BlastAudience = "attending"
	AudienceMaybe     BlastAudience = "maybe"
	AudienceBoth      BlastAudience = "both"
)

// Statuses expands the audience into RSVP statuses.
func (a BlastAudience) Statuses() []RSVPStatus {
	switch a {
	case AudienceMaybe:
		return []RSVPStatus{RSVPMaybe}
	case AudienceBoth:
		return []RSVPStatus{RSVPAttending, RSVPMaybe}
	}
	return []RSVPStatus{RSVPAttending}
}

// TextBlast is an append-only record of a broadcast.
type TextBlast struct {
	ID             string        `db:"id" json:"id"`
	EventID        string        `db:"event_id" json:"event_id"`
	SentBy         string        `db:"sent_by" json:"sent_by"`
	Message        string        `db:"message" json:"message"`
	SentTo         BlastAudience `db:"sent_to" json:"sent_to"`
	RecipientCount int           `db:"recipient_count" json:"recipient_count"`
	DisplayOnPage  bool          `db:"display_on_page" json:"display_on_page"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Session binds a bearer token to a verified user.
type Session struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"user_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
