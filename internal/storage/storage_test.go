package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/models"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *Storage, phone string) *models.User {
	t.Helper()
	u, _, err := s.GetOrCreateUser(context.Background(), phone, testNow)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	return u
}

func createEvent(t *testing.T, s *Storage, creator *models.User, code string) *models.Event {
	t.Helper()
	e := &models.Event{
		ID:                   uuid.NewString(),
		Title:                "Board game night",
		StartAt:              testNow.Add(48 * time.Hour),
		Timezone:             "UTC",
		CoverStatus:          models.CoverComplete,
		CreatedBy:            creator.ID,
		ShortCode:            code,
		IsActive:             true,
		IsListed:             true,
		AllowRSVP:            true,
		AllowMaybeRSVP:       true,
		AutoRemindersEnabled: true,
		CreatedAt:            testNow,
		UpdatedAt:            testNow,
	}
	if err := s.InsertEvent(context.Background(), e); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	return e
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	first, created, err := s.GetOrCreateUser(ctx, "+16502530000", testNow)
	if err != nil || !created {
		t.Fatalf("first GetOrCreateUser: created=%v err=%v", created, err)
	}
	second, created, err := s.GetOrCreateUser(ctx, "+16502530000", testNow)
	if err != nil || created {
		t.Fatalf("second GetOrCreateUser: created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("user ids differ: %s vs %s", first.ID, second.ID)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStorage(t)
	_, err := s.GetUserByPhone(context.Background(), "+15550000000")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConsumeVerificationCodeOnce(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	u := createUser(t, s, "+16502530000")

	if err := s.SetVerificationCode(ctx, u.ID, "042917", testNow); err != nil {
		t.Fatalf("SetVerificationCode: %v", err)
	}

	ok, err := s.ConsumeVerificationCode(ctx, u.ID, "042917", "Ada")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeVerificationCode(ctx, u.ID, "042917", "")
	if err != nil || ok {
		t.Fatalf("second consume: ok=%v err=%v, want false", ok, err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsVerified || got.VerificationCode != "" || got.CodeSentAt != nil || got.Name != "Ada" {
		t.Fatalf("user after consume = %+v", got)
	}
}

func TestInsertEventDuplicateShortCode(t *testing.T) {
	s := openTestStorage(t)
	creator := createUser(t, s, "+16502530000")
	createEvent(t, s, creator, "abcd1234")

	dup := &models.Event{
		ID: uuid.NewString(), Title: "Other", StartAt: testNow, Timezone: "UTC",
		CoverStatus: models.CoverComplete, CreatedBy: creator.ID, ShortCode: "abcd1234",
		IsActive: true, CreatedAt: testNow, UpdatedAt: testNow,
	}
	err := s.InsertEvent(context.Background(), dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestUpsertRSVPCollapsesConcurrentWrites(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	guest := createUser(t, s, "+16502530001")
	event := createEvent(t, s, creator, "code0001")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.UpsertRSVP(ctx, event.ID, guest.ID, models.RSVPAttending, testNow); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("UpsertRSVP: %v", err)
	}

	var rows int
	if err := s.getRow(ctx, &rows, `SELECT COUNT(*) FROM rsvps WHERE event_id = ?`, event.ID); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("rsvp rows = %d, want 1", rows)
	}
}

func TestCountAttendingExcludesCreator(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	guest := createUser(t, s, "+16502530001")
	event := createEvent(t, s, creator, "code0002")

	if _, _, err := s.UpsertRSVP(ctx, event.ID, creator.ID, models.RSVPAttending, testNow); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertRSVP(ctx, event.ID, guest.ID, models.RSVPAttending, testNow); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountAttending(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("CountAttending = %d, want 1", n)
	}
}

func TestUpsertAnswerIgnoresDetachedQuestion(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	guest := createUser(t, s, "+16502530001")
	event := createEvent(t, s, creator, "code0003")
	other := createEvent(t, s, creator, "code0004")

	if err := s.SyncQuestions(ctx, other.ID, []QuestionInput{{Text: "Dietary needs?"}}, testNow); err != nil {
		t.Fatal(err)
	}
	foreign, err := s.ListQuestions(ctx, other.ID)
	if err != nil || len(foreign) != 1 {
		t.Fatalf("ListQuestions: %v %v", foreign, err)
	}

	rsvp, _, err := s.UpsertRSVP(ctx, event.ID, guest.ID, models.RSVPAttending, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertAnswer(ctx, rsvp.ID, event.ID, foreign[0].ID, "vegan", testNow); err != nil {
		t.Fatal(err)
	}
	answers, err := s.ListAnswers(ctx, rsvp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 0 {
		t.Fatalf("answers = %+v, want none for a question of another event", answers)
	}
}

func TestSyncQuestions(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0005")

	initial := []QuestionInput{{Text: "A", Required: true}, {Text: "B"}, {Text: "C"}}
	if err := s.SyncQuestions(ctx, event.ID, initial, testNow); err != nil {
		t.Fatal(err)
	}
	before, _ := s.ListQuestions(ctx, event.ID)

	if err := s.SyncQuestions(ctx, event.ID, []QuestionInput{{Text: "A2"}, {Text: "B"}}, testNow); err != nil {
		t.Fatal(err)
	}
	after, err := s.ListQuestions(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("questions = %+v, want 2", after)
	}
	if after[0].ID != before[0].ID || after[0].Text != "A2" || after[0].IsRequired {
		t.Errorf("first question not updated in place: %+v", after[0])
	}
	if after[1].ID != before[1].ID {
		t.Errorf("second question replaced: %+v", after[1])
	}
}

func TestClaimReminderLatch(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0006")

	claimed, err := s.ClaimReminder(ctx, event.ID, models.Reminder24h, testNow)
	if err != nil || !claimed {
		t.Fatalf("first claim: %v %v", claimed, err)
	}
	claimed, err = s.ClaimReminder(ctx, event.ID, models.Reminder24h, testNow)
	if err != nil || claimed {
		t.Fatalf("second claim: %v %v, want false", claimed, err)
	}

	from, to := testNow.Add(47*time.Hour), testNow.Add(49*time.Hour)
	candidates, err := s.ListReminderCandidates(ctx, models.Reminder24h, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Fatalf("latched event still a 24h candidate")
	}
	candidates, err = s.ListReminderCandidates(ctx, models.Reminder1h, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("1h candidates = %d, want 1", len(candidates))
	}
}

func TestReserveTextBlastLimit(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0007")

	for i := 0; i < 2; i++ {
		ok, err := s.ReserveTextBlast(ctx, event.ID, 2, testNow)
		if err != nil || !ok {
			t.Fatalf("reserve %d: %v %v", i, ok, err)
		}
	}
	ok, err := s.ReserveTextBlast(ctx, event.ID, 2, testNow)
	if err != nil || ok {
		t.Fatalf("reserve past limit: %v %v, want false", ok, err)
	}
}

func TestInsertInvitationDedupes(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0008")

	inv := &models.EventInvitation{EventID: event.ID, PhoneNumber: "+16502530009", InvitedBy: creator.ID, InvitedAt: testNow}
	if ok, err := s.InsertInvitation(ctx, inv); err != nil || !ok {
		t.Fatalf("first insert: %v %v", ok, err)
	}
	if ok, err := s.InsertInvitation(ctx, inv); err != nil || ok {
		t.Fatalf("second insert: %v %v, want false", ok, err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(q *Queries) error {
		if _, _, err := q.GetOrCreateUser(ctx, "+16502530000", testNow); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	if _, err := s.GetUserByPhone(ctx, "+16502530000"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("user survived rollback: %v", err)
	}
}

func TestListAttendeesAndAnswers(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	host := createUser(t, s, "+16502530000")
	e := createEvent(t, s, host, "attend01")
	if err := s.SyncQuestions(ctx, e.ID, []QuestionInput{{Text: "Shirt size?", Required: true}}, testNow); err != nil {
		t.Fatal(err)
	}
	questions, _ := s.ListQuestions(ctx, e.ID)

	guest := createUser(t, s, "+16502530001")
	r, _, err := s.UpsertRSVP(ctx, e.ID, guest.ID, models.RSVPMaybe, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertAnswer(ctx, r.ID, e.ID, questions[0].ID, "M", testNow); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertRSVP(ctx, e.ID, host.ID, models.RSVPAttending, testNow); err != nil {
		t.Fatal(err)
	}

	attendees, err := s.ListAttendees(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attendees) != 2 || attendees[0].Status != models.RSVPAttending || attendees[1].PhoneNumber != guest.PhoneNumber {
		t.Fatalf("attendees = %+v", attendees)
	}

	answers, err := s.ListEventAnswers(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 || answers[0].Answer != "M" || answers[0].RSVPID != r.ID {
		t.Fatalf("answers = %+v", answers)
	}
}

func TestReminderCandidatesBoundedByStart(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	soon := createEvent(t, s, creator, "code0101")

	far := createEvent(t, s, creator, "code0102")
	far.StartAt = testNow.Add(30 * 24 * time.Hour)
	far.UpdatedAt = testNow
	if err := s.UpdateEventDetails(ctx, far); err != nil {
		t.Fatal(err)
	}

	candidates, err := s.ListReminderCandidates(ctx, models.Reminder24h, testNow.Add(47*time.Hour), testNow.Add(49*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].ID != soon.ID {
		t.Fatalf("candidates = %+v, want only the event starting in 48h", candidates)
	}
}

func TestListRSVPPhonesSkipsCreator(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	guest := createUser(t, s, "+16502530001")
	event := createEvent(t, s, creator, "code0103")

	for _, u := range []*models.User{creator, guest} {
		if _, _, err := s.UpsertRSVP(ctx, event.ID, u.ID, models.RSVPAttending, testNow); err != nil {
			t.Fatal(err)
		}
	}

	phones, err := s.ListRSVPPhones(ctx, event.ID, models.RSVPAttending)
	if err != nil {
		t.Fatal(err)
	}
	if len(phones) != 1 || phones[0] != guest.PhoneNumber {
		t.Fatalf("phones = %v, want only the guest", phones)
	}
}

func TestDeleteInvitations(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0104")

	for _, number := range []string{"+16502530001", "+16502530002"} {
		inv := &models.EventInvitation{EventID: event.ID, PhoneNumber: number, InvitedBy: creator.ID, InvitedAt: testNow}
		if _, err := s.InsertInvitation(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteInvitations(ctx, event.ID, []string{"+16502530001"}); err != nil {
		t.Fatal(err)
	}

	created, err := s.InsertInvitation(ctx, &models.EventInvitation{
		EventID: event.ID, PhoneNumber: "+16502530001", InvitedBy: creator.ID, InvitedAt: testNow,
	})
	if err != nil || !created {
		t.Fatalf("re-invite after delete = %v, %v; want a new row", created, err)
	}
	created, err = s.InsertInvitation(ctx, &models.EventInvitation{
		EventID: event.ID, PhoneNumber: "+16502530002", InvitedBy: creator.ID, InvitedAt: testNow,
	})
	if err != nil || created {
		t.Fatalf("untouched invitation re-inserted = %v, %v", created, err)
	}
}

func TestReleaseTextBlast(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	creator := createUser(t, s, "+16502530000")
	event := createEvent(t, s, creator, "code0105")

	if ok, err := s.ReserveTextBlast(ctx, event.ID, models.MaxTextBlasts, testNow); err != nil || !ok {
		t.Fatalf("reserve = %v, %v", ok, err)
	}
	blast := &models.TextBlast{
		ID: uuid.NewString(), EventID: event.ID, SentBy: creator.ID, Message: "hi",
		SentTo: models.AudienceAttending, RecipientCount: 1, DisplayOnPage: true, CreatedAt: testNow,
	}
	if err := s.InsertTextBlast(ctx, blast); err != nil {
		t.Fatal(err)
	}

	if err := s.ReleaseTextBlast(ctx, event.ID, blast.ID, testNow); err != nil {
		t.Fatal(err)
	}
	stored, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TextBlastCount != 0 {
		t.Errorf("TextBlastCount = %d, want 0", stored.TextBlastCount)
	}
	blasts, err := s.ListDisplayedTextBlasts(ctx, event.ID)
	if err != nil || len(blasts) != 0 {
		t.Fatalf("blasts = %+v, %v; want none", blasts, err)
	}
}
