// Package notify delivers text messages to phone numbers. The
// Dispatcher turns every message into its own background job so one
// slow or failing recipient cannot hold up the rest of a batch.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"
	smstypes "github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2/types"
	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/config"
)

// Transport sends one message and returns the gateway's message id.
type Transport interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

// LogTransport only logs. It is selected when no gateway is configured.
type LogTransport struct {
	log zerolog.Logger
}

// NewLogTransport returns a transport that writes messages to log.
func NewLogTransport(log zerolog.Logger) *LogTransport {
	return &LogTransport{log: log.With().Str("component", "sms-debug").Logger()}
}

// Send logs the message and reports success.
func (t *LogTransport) Send(ctx context.Context, destination, body string) (string, error) {
	t.log.Info().Str("phone", destination).Str("body", body).Msg("SMS not sent (debug transport)")
	return "debug", nil
}

// smsAPI is the part of the AWS client SMSTransport uses.
type smsAPI interface {
	SendTextMessage(ctx context.Context, params *pinpointsmsvoicev2.SendTextMessageInput, optFns ...func(*pinpointsmsvoicev2.Options)) (*pinpointsmsvoicev2.SendTextMessageOutput, error)
}

// SMSTransport sends through AWS End User Messaging SMS.
type SMSTransport struct {
	client      smsAPI
	origination string
	log         zerolog.Logger
}

// NewSMSTransport builds the AWS client from static credentials in cfg.
func NewSMSTransport(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*SMSTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSMSTransport(pinpointsmsvoicev2.NewFromConfig(awsCfg), cfg.SMSOriginationIdentity(), log), nil
}

func newSMSTransport(client smsAPI, origination string, log zerolog.Logger) *SMSTransport {
	return &SMSTransport{
		client:      client,
		origination: origination,
		log:         log.With().Str("component", "sms").Logger(),
	}
}

// Send sends a transactional text. Any client error is a Gateway error.
func (t *SMSTransport) Send(ctx context.Context, destination, body string) (string, error) {
	input := &pinpointsmsvoicev2.SendTextMessageInput{
		DestinationPhoneNumber: aws.String(destination),
		MessageBody:            aws.String(body),
		MessageType:            smstypes.MessageTypeTransactional,
	}
	if t.origination != "" {
		input.OriginationIdentity = aws.String(t.origination)
	}

	out, err := t.client.SendTextMessage(ctx, input)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, err, "We couldn't send a text message right now.")
	}

	id := aws.ToString(out.MessageId)
	t.log.Debug().Str("phone", destination).Str("message_id", id).Msg("SMS sent")
	return id, nil
}
