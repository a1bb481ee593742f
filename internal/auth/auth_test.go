package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/storage"
)

const testPhone = "+16502530000"

type fakeTransport struct {
	bodies []string
	err    error
}

func (f *fakeTransport) Send(ctx context.Context, destination, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.bodies = append(f.bodies, body)
	return "msg-1", nil
}

func newTestService(t *testing.T) (*Service, *storage.Storage, *fakeTransport, *clock.FakeClock) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	transport := &fakeTransport{}
	clk := clock.Fake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(store, transport, phone.NewFormatter("US", false), clk, zerolog.Nop())
	return svc, store, transport, clk
}

func issuedCode(t *testing.T, store *storage.Storage) string {
	t.Helper()
	user, err := store.GetUserByPhone(context.Background(), testPhone)
	if err != nil {
		t.Fatal(err)
	}
	return user.VerificationCode
}

func TestGenerateCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("code %q is not six digits", code)
		}
	}
}

func TestSendThenVerifySucceedsOnce(t *testing.T) {
	svc, store, transport, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.RequestCode(ctx, "(650) 253-0000")
	if err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if !report.Success || report.MessageID != "msg-1" {
		t.Fatalf("report = %+v", report)
	}

	code := issuedCode(t, store)
	if len(transport.bodies) != 1 || transport.bodies[0] != "Your verification code is "+code+"." {
		t.Fatalf("sent %q", transport.bodies)
	}

	user, err := svc.VerifyCode(ctx, testPhone, code, "Ada")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !user.IsVerified || user.Name != "Ada" || user.VerificationCode != "" {
		t.Fatalf("user = %+v", user)
	}

	_, err = svc.VerifyCode(ctx, testPhone, code, "")
	if !apperr.Is(err, apperr.KindInvalidCode) {
		t.Fatalf("second verify err = %v, want invalid code", err)
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, store, _, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RequestCode(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	code := issuedCode(t, store)

	clk.Advance(5*time.Minute + time.Second)
	_, err := svc.VerifyCode(ctx, testPhone, code, "")
	if !apperr.Is(err, apperr.KindExpired) {
		t.Fatalf("err = %v, want expired", err)
	}
}

func TestVerifyAtExactlyFiveMinutesSucceeds(t *testing.T) {
	svc, store, _, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RequestCode(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	code := issuedCode(t, store)

	clk.Advance(5 * time.Minute)
	if _, err := svc.VerifyCode(ctx, testPhone, code, ""); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RequestCode(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	wrong := "000000"
	if issuedCode(t, store) == wrong {
		wrong = "111111"
	}
	_, err := svc.VerifyCode(ctx, testPhone, wrong, "")
	if !apperr.Is(err, apperr.KindInvalidCode) {
		t.Fatalf("err = %v, want invalid code", err)
	}
}

func TestVerifyUnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.VerifyCode(context.Background(), testPhone, "123456", "")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResendCooldown(t *testing.T) {
	svc, store, transport, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RequestCode(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	user, _ := store.GetUserByPhone(ctx, testPhone)
	if user.CanResendCode(clk.Now()) {
		t.Fatal("CanResendCode true immediately after sending")
	}

	clk.Advance(20 * time.Second)
	_, err := svc.Resend(ctx, testPhone)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if want := "Please wait 40 seconds before requesting another code."; apperr.UserMessage(err) != want {
		t.Fatalf("message = %q, want %q", apperr.UserMessage(err), want)
	}

	clk.Advance(40 * time.Second)
	if !user.CanResendCode(clk.Now()) {
		t.Fatal("CanResendCode false at T+60s")
	}
	if _, err := svc.Resend(ctx, testPhone); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if len(transport.bodies) != 2 {
		t.Fatalf("sent %d codes, want 2", len(transport.bodies))
	}
}

func TestResendUnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Resend(context.Background(), testPhone)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRequestCodeRejectsInvalidNumber(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.RequestCode(context.Background(), "not a phone")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestGatewayFailureIsReported(t *testing.T) {
	svc, store, transport, _ := newTestService(t)
	transport.err = apperr.Wrap(apperr.KindGateway, errors.New("auth failure"), "We couldn't send a text message right now.")

	report, err := svc.RequestCode(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if report.Success || report.Error != "We couldn't send a text message right now." {
		t.Fatalf("report = %+v", report)
	}
	if issuedCode(t, store) == "" {
		t.Fatal("code was not stored")
	}
}

func TestLoginSessionLifecycle(t *testing.T) {
	svc, store, _, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RequestCode(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	session, user, err := svc.Login(ctx, testPhone, issuedCode(t, store), "Ada")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(session.Token) != 64 {
		t.Fatalf("token length = %d", len(session.Token))
	}

	got, err := svc.Authenticate(ctx, session.Token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("Authenticate = %+v, %v", got, err)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, session.Token); !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("after logout err = %v, want permission", err)
	}

	if _, err := svc.Resend(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	session, _, err = svc.Login(ctx, testPhone, issuedCode(t, store), "")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(SessionTTL)
	if _, err := svc.Authenticate(ctx, session.Token); !apperr.Is(err, apperr.KindExpired) {
		t.Fatalf("expired session err = %v, want expired", err)
	}
}
