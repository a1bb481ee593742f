package rsvp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type queuedText struct {
	phone, message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []queuedText
	err  error
}

func (f *fakeNotifier) SendSingle(ctx context.Context, phone, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, queuedText{phone, message})
	return "job", nil
}

type fixture struct {
	store    *storage.Storage
	notifier *fakeNotifier
	clock    *clock.FakeClock
	engine   *Engine
	host     *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.Fake(testNow)
	notifier := &fakeNotifier{}
	f := &fixture{
		store:    store,
		notifier: notifier,
		clock:    clk,
		engine:   NewEngine(store, notifier, clk, "rsvp.test", zerolog.Nop()),
	}
	f.host = f.user(t, "+16502530000")
	return f
}

func (f *fixture) user(t *testing.T, phone string) *models.User {
	t.Helper()
	u, _, err := f.store.GetOrCreateUser(context.Background(), phone, testNow)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (f *fixture) event(t *testing.T, mutate func(e *models.Event)) *models.Event {
	t.Helper()
	e := &models.Event{
		ID: uuid.NewString(), Title: "Launch party", StartAt: time.Date(2026, 7, 4, 23, 0, 0, 0, time.UTC),
		Timezone: "UTC", CoverStatus: models.CoverComplete, CreatedBy: f.host.ID,
		ShortCode: uuid.NewString()[:8], IsActive: true, AllowRSVP: true, AllowMaybeRSVP: true,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	if mutate != nil {
		mutate(e)
	}
	if err := f.store.InsertEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *fixture) questions(t *testing.T, e *models.Event, entries ...storage.QuestionInput) []models.EventQuestion {
	t.Helper()
	ctx := context.Background()
	if err := f.store.SyncQuestions(ctx, e.ID, entries, testNow); err != nil {
		t.Fatal(err)
	}
	qs, err := f.store.ListQuestions(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	return qs
}

func limit(n int) func(*models.Event) {
	return func(e *models.Event) { e.MaxAttendees = &n }
}

func TestCapacityScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, limit(1))
	a := f.user(t, "+16502530001")
	b := f.user(t, "+16502530002")

	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: f.host.ID, Status: models.RSVPAttending}); err != nil {
		t.Fatalf("host: %v", err)
	}
	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: a.ID, Status: models.RSVPAttending}); err != nil {
		t.Fatalf("A attending: %v", err)
	}

	_, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: b.ID, Status: models.RSVPAttending})
	if !apperr.Is(err, apperr.KindConflict) || apperr.UserMessage(err) != "This event is full." {
		t.Fatalf("B attending err = %v, want event full", err)
	}

	out, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: a.ID, Status: models.RSVPAttending})
	if err != nil {
		t.Fatalf("A resubmit: %v", err)
	}
	if out.Created {
		t.Fatal("resubmission created a second RSVP")
	}

	if n, _ := f.store.CountAttending(ctx, e.ID); n != 1 {
		t.Fatalf("attending = %d, want 1", n)
	}
	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: b.ID, Status: models.RSVPMaybe}); err != nil {
		t.Fatalf("B maybe on a full event: %v", err)
	}
}

func TestConcurrentLastSeat(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, limit(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 5; i++ {
		u := f.user(t, "+1650253000"+string(rune('1'+i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: u.ID, Status: models.RSVPAttending})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !apperr.Is(err, apperr.KindConflict) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d attendees for one seat", accepted)
	}
}

func TestCreatorIsForcedAttending(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *models.Event) { e.AllowRSVP = false })

	out, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: f.host.ID, Status: models.RSVPNotAttending})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.RSVP.Status != models.RSVPAttending {
		t.Fatalf("creator status = %s, want attending", out.RSVP.Status)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatal("creator got a confirmation text")
	}
}

func TestClosedRSVPsAllowWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, nil)
	guest := f.user(t, "+16502530001")
	stranger := f.user(t, "+16502530002")

	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending}); err != nil {
		t.Fatal(err)
	}
	e.AllowRSVP = false
	if err := f.store.UpdateEventDetails(ctx, e); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: stranger.ID, Status: models.RSVPNotAttending})
	if apperr.UserMessage(err) != "This event has closed RSVPs." {
		t.Fatalf("stranger err = %v", err)
	}
	_, err = f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPMaybe})
	if apperr.UserMessage(err) != "This event has closed RSVPs." {
		t.Fatalf("guest maybe err = %v", err)
	}
	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPNotAttending}); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *models.Event) { e.AllowMaybeRSVP = false })
	guest := f.user(t, "+16502530001")

	tests := []struct {
		status models.RSVPStatus
		want   string
	}{
		{"interested", "Please select a valid RSVP status."},
		{models.RSVPMaybe, "This event doesn't allow maybe responses."},
	}
	for _, tt := range tests {
		_, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: guest.ID, Status: tt.status})
		if !apperr.Is(err, apperr.KindValidation) || apperr.UserMessage(err) != tt.want {
			t.Errorf("status %q: err = %v, want %q", tt.status, err, tt.want)
		}
	}
}

func TestRequiredQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, nil)
	qs := f.questions(t, e,
		storage.QuestionInput{Text: "Dietary needs?", Required: true},
		storage.QuestionInput{Text: "Bringing a plus one?"},
	)
	guest := f.user(t, "+16502530001")

	_, err := f.engine.Submit(ctx, Submission{
		EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending,
		Answers: map[int64]string{qs[0].ID: "   "},
	})
	if apperr.UserMessage(err) != "Please answer the required question: Dietary needs?" {
		t.Fatalf("err = %v", err)
	}

	out, err := f.engine.Submit(ctx, Submission{
		EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending,
		Answers: map[int64]string{qs[0].ID: "vegan", qs[1].ID: "yes"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	answers, _ := f.store.ListAnswers(ctx, out.RSVP.ID)
	if len(answers) != 2 || answers[0].Answer != "vegan" {
		t.Fatalf("answers = %+v", answers)
	}

	// Clearing an optional answer removes it.
	if _, err := f.engine.Submit(ctx, Submission{
		EventID: e.ID, UserID: guest.ID, Status: models.RSVPMaybe,
		Answers: map[int64]string{qs[0].ID: "vegan"},
	}); err != nil {
		t.Fatal(err)
	}
	answers, _ = f.store.ListAnswers(ctx, out.RSVP.ID)
	if len(answers) != 1 {
		t.Fatalf("answers after clearing = %+v", answers)
	}

	if _, err := f.engine.Submit(ctx, Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPNotAttending}); err != nil {
		t.Fatalf("not attending: %v", err)
	}
	answers, _ = f.store.ListAnswers(ctx, out.RSVP.ID)
	if len(answers) != 0 {
		t.Fatalf("answers after declining = %+v", answers)
	}
}

func TestMissingRequiredQuestionsReportedTogether(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, nil)
	f.questions(t, e,
		storage.QuestionInput{Text: "T-shirt size?", Required: true},
		storage.QuestionInput{Text: "Team name?", Required: true},
	)
	guest := f.user(t, "+16502530001")

	_, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPMaybe})
	msg := apperr.UserMessage(err)
	if !strings.Contains(msg, "T-shirt size?") || !strings.Contains(msg, "Team name?") {
		t.Fatalf("message = %q, want both questions", msg)
	}
}

func TestConfirmationText(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *models.Event) { e.Timezone = "America/Los_Angeles"; e.ShortCode = "launch01" })
	guest := f.user(t, "+16502530001")

	if _, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending}); err != nil {
		t.Fatal(err)
	}
	want := "You're RSVPed as 'attending' for Launch party on July 04 at 04:00 PM. http://rsvp.test/e/launch01"
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != (queuedText{guest.PhoneNumber, want}) {
		t.Fatalf("sent = %+v, want %q", f.notifier.sent, want)
	}
}

func TestConfirmationFailureKeepsRSVP(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue unavailable")
	e := f.event(t, nil)
	guest := f.user(t, "+16502530001")

	if _, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r, err := f.store.FindRSVP(context.Background(), e.ID, guest.ID)
	if err != nil || r == nil || r.Status != models.RSVPAttending {
		t.Fatalf("rsvp = %+v, %v", r, err)
	}
}

func TestInactiveEventNotFound(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *models.Event) { e.IsActive = false })
	guest := f.user(t, "+16502530001")

	_, err := f.engine.Submit(context.Background(), Submission{EventID: e.ID, UserID: guest.ID, Status: models.RSVPAttending})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
