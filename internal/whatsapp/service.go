// Package whatsapp delivers notifications over a linked WhatsApp
// account and passes incoming text replies to a handler.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"event-rsvp/internal/apperr"
)

// ReplyHandler receives the text of an incoming message and the
// sender's number in E.164 form.
type ReplyHandler func(ctx context.Context, phone, text string) error

// Service is a WhatsApp client used as a notification transport.
type Service struct {
	client       *whatsmeow.Client
	log          zerolog.Logger
	replyHandler ReplyHandler
}

// NewService opens the device store under dataDir.
func NewService(ctx context.Context, dataDir string, log zerolog.Logger) (*Service, error) {
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", dataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	service := &Service{
		client: whatsmeow.NewClient(deviceStore, nil),
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
	service.client.AddEventHandler(service.eventHandler)
	return service, nil
}

// Paired reports whether the device store holds a linked session.
func (s *Service) Paired() bool {
	return s.client.Store.ID != nil
}

// Connect connects to WhatsApp. An unpaired device prints pairing QR
// codes to qrOut until the phone links or ctx ends.
func (s *Service) Connect(ctx context.Context, qrOut io.Writer) error {
	if s.Paired() {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			q, err := qrcode.New(evt.Code, qrcode.Medium)
			if err != nil {
				fmt.Fprintf(qrOut, "QR Code: %s\n", evt.Code)
				continue
			}
			fmt.Fprintln(qrOut, "\n"+q.ToSmallString(false))
			fmt.Fprintln(qrOut, "Scan the QR code above from WhatsApp > Settings > Linked Devices.")
		case "success":
			s.log.Info().Msg("Device paired")
		default:
			s.log.Info().Str("event", evt.Event).Msg("Login event")
		}
	}
	if !s.Paired() {
		return fmt.Errorf("pairing did not complete")
	}
	return nil
}

// Disconnect disconnects from WhatsApp.
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// SetReplyHandler sets the handler for incoming text messages.
func (s *Service) SetReplyHandler(handler ReplyHandler) {
	s.replyHandler = handler
}

// Send delivers body to an E.164 number. It implements notify.Transport.
func (s *Service) Send(ctx context.Context, destination, body string) (string, error) {
	number := strings.TrimPrefix(destination, "+")

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, err, "We couldn't reach WhatsApp right now.")
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return "", apperr.Newf(apperr.KindValidation, "%s is not registered on WhatsApp.", destination)
	}
	jid := resp[0].JID

	s.log.Debug().Str("jid", jid.String()).Str("phone", destination).Msg("Attempting to send message")

	sent, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, err, "We couldn't send a WhatsApp message right now.")
	}
	return sent.ID, nil
}

func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Warn().Msg("Logged out from WhatsApp")
	}
}

func (s *Service) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Message == nil || s.replyHandler == nil {
		return
	}
	text := messageText(msg.Message)
	if text == "" {
		return
	}
	phone, ok := senderPhone(msg.Info.Sender)
	if !ok {
		s.log.Debug().Str("sender", msg.Info.Sender.String()).Msg("Ignoring message from non-phone address")
		return
	}

	if err := s.replyHandler(context.Background(), phone, text); err != nil {
		s.log.Error().Err(err).Str("phone", phone).Msg("Error handling message")
	}
}

func messageText(msg *waE2E.Message) string {
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

// senderPhone maps a phone-number JID to E.164. Hidden (LID)
// senders carry no number and are reported as not ok.
func senderPhone(jid types.JID) (string, bool) {
	jid = jid.ToNonAD()
	if jid.Server != types.DefaultUserServer || jid.User == "" {
		return "", false
	}
	return "+" + jid.User, true
}
