package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"event-rsvp/internal/auth"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/config"
	"event-rsvp/internal/events"
	"event-rsvp/internal/jobs"
	"event-rsvp/internal/media"
	"event-rsvp/internal/notify"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/reminders"
	"event-rsvp/internal/rsvp"
	"event-rsvp/internal/storage"
	"event-rsvp/internal/whatsapp"
)

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *storage.Storage
	queue      *jobs.Queue
	pool       *jobs.Pool
	dispatcher *notify.Dispatcher
	auth       *auth.Service
	events     *events.Service
	engine     *rsvp.Engine
	replies    *rsvp.ReplyHandler
	reminders  *reminders.Service
	whatsapp   *whatsapp.Service
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	clk := clock.Real()

	queue, err := jobs.NewQueue(ctx, a.store.DB(), clk, log)
	if err != nil {
		return err
	}
	a.queue = queue
	a.pool = jobs.NewPool(queue, cfg.WorkerConcurrency, log)

	transport, err := a.transport(ctx)
	if err != nil {
		return err
	}

	phones := phone.NewFormatter(cfg.DefaultRegion, cfg.Debug)
	a.dispatcher = notify.NewDispatcher(transport, queue, log)
	a.dispatcher.Register(a.pool)

	backend, err := media.NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	processor := media.NewProcessor(a.store, backend, queue, clk, log)
	processor.Register(a.pool)

	a.reminders = reminders.NewService(a.store, a.dispatcher, clk, cfg.SiteDomain, log)
	a.reminders.Register(a.pool)

	// Verification codes go out synchronously so the caller learns
	// about delivery failures right away.
	a.auth = auth.NewService(a.store, transport, phones, clk, log)
	a.events = events.NewService(a.store, a.dispatcher, processor, phones, cfg, clk, log)
	a.engine = rsvp.NewEngine(a.store, a.dispatcher, clk, cfg.SiteDomain, log)
	a.replies = rsvp.NewReplyHandler(a.engine, a.store, a.dispatcher, clk, cfg.SiteDomain, log)

	if a.whatsapp != nil {
		a.whatsapp.SetReplyHandler(a.replies.HandleReply)
	}
	return nil
}

func (a *app) transport(ctx context.Context) (notify.Transport, error) {
	switch a.cfg.NotifyTransport {
	case config.TransportSMS:
		return notify.NewSMSTransport(ctx, a.cfg, a.log)
	case config.TransportWhatsApp:
		wa, err := whatsapp.NewService(ctx, a.cfg.WhatsAppDataDir, a.log)
		if err != nil {
			return nil, err
		}
		if !wa.Paired() {
			return nil, fmt.Errorf("WhatsApp is not paired yet, run `rsvp-server whatsapp-login` first")
		}
		if err := wa.Connect(ctx, os.Stdout); err != nil {
			return nil, err
		}
		a.whatsapp = wa
		return wa, nil
	}
	return notify.NewLogTransport(a.log), nil
}

func (a *app) Close() {
	if a.whatsapp != nil {
		a.whatsapp.Disconnect()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}
