package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"event-rsvp/internal/jobs"
)

// Job names.
const (
	TaskSendSingle = "sms.send_single"
	TaskSendBulk   = "sms.send_bulk"
)

// Enqueuer is satisfied by *jobs.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

// SingleMessage is the payload of one delivery job.
type SingleMessage struct {
	Phone   string `cbor:"phone"`
	Message string `cbor:"message"`
}

// BulkMessage is the payload of a fan-out job.
type BulkMessage struct {
	Phones  []string `cbor:"phones"`
	Message string   `cbor:"message"`
}

// DeliveryResult is stored on a finished delivery job.
type DeliveryResult struct {
	Success   bool   `cbor:"success"`
	MessageID string `cbor:"message_id"`
}

// BulkResult tallies a fan-out. Failed counts recipients whose
// delivery job could not be queued, not failed deliveries.
type BulkResult struct {
	Queued int `cbor:"queued"`
	Failed int `cbor:"failed"`
}

// Dispatcher queues messages and delivers them from workers.
type Dispatcher struct {
	transport Transport
	queue     Enqueuer
	log       zerolog.Logger
}

// NewDispatcher returns a Dispatcher sending through transport.
func NewDispatcher(transport Transport, queue Enqueuer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		queue:     queue,
		log:       log.With().Str("component", "notify").Logger(),
	}
}

// SendSingle queues one message and returns the job id.
func (d *Dispatcher) SendSingle(ctx context.Context, phone, message string) (string, error) {
	id, err := d.queue.Enqueue(ctx, TaskSendSingle, SingleMessage{Phone: phone, Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to queue message: %w", err)
	}
	return id, nil
}

// SendBulk queues a fan-out job that in turn queues one delivery per
// phone.
func (d *Dispatcher) SendBulk(ctx context.Context, phones []string, message string) (string, error) {
	id, err := d.queue.Enqueue(ctx, TaskSendBulk, BulkMessage{Phones: phones, Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to queue bulk message: %w", err)
	}
	return id, nil
}

// Deliver makes one synchronous attempt. Callers that need retries go
// through SendSingle.
func (d *Dispatcher) Deliver(ctx context.Context, phone, message string) (string, error) {
	id, err := d.transport.Send(ctx, phone, message)
	if err != nil {
		d.log.Warn().Err(err).Str("phone", phone).Msg("Failed to deliver message")
		return "", err
	}
	return id, nil
}

// Register binds the delivery jobs to pool. Single deliveries retry
// with the default policy; the fan-out itself is not retried because
// re-running it would queue duplicates.
func (d *Dispatcher) Register(pool *jobs.Pool) {
	pool.Register(TaskSendSingle, d.handleSingle, jobs.DefaultRetryPolicy)
	pool.Register(TaskSendBulk, d.handleBulk, jobs.NoRetry)
}

func (d *Dispatcher) handleSingle(ctx context.Context, job *jobs.Job) (any, error) {
	var msg SingleMessage
	if err := job.Decode(&msg); err != nil {
		return nil, err
	}
	id, err := d.Deliver(ctx, msg.Phone, msg.Message)
	if err != nil {
		return nil, err
	}
	return DeliveryResult{Success: true, MessageID: id}, nil
}

func (d *Dispatcher) handleBulk(ctx context.Context, job *jobs.Job) (any, error) {
	var msg BulkMessage
	if err := job.Decode(&msg); err != nil {
		return nil, err
	}
	return d.fanOut(ctx, msg)
}

func (d *Dispatcher) fanOut(ctx context.Context, msg BulkMessage) (BulkResult, error) {
	var result BulkResult
	for _, phone := range msg.Phones {
		if _, err := d.SendSingle(ctx, phone, msg.Message); err != nil {
			d.log.Error().Err(err).Str("phone", phone).Msg("Failed to queue bulk recipient")
			result.Failed++
			continue
		}
		result.Queued++
	}

	d.log.Info().Int("queued", result.Queued).Int("failed", result.Failed).Msg("Bulk message fanned out")
	return result, nil
}
