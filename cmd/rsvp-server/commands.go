package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"event-rsvp/internal/httpapi"
	"event-rsvp/internal/reminders"
	"event-rsvp/internal/whatsapp"
)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job workers and the reminder schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler, err := reminders.NewScheduler(cfg.ReminderSchedule, a.queue, log)
			if err != nil {
				return err
			}

			server := httpapi.NewServer(a.auth, a.events, a.engine, log)
			if !cfg.IsProduction() && strings.HasPrefix(cfg.MediaURL, "/") {
				server.ServeMedia(cfg.MediaURL, cfg.MediaRoot)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(ctx, cfg.HTTPAddr) })
			g.Go(func() error { return a.pool.Run(ctx) })
			g.Go(func() error { return scheduler.Run(ctx) })

			log.Info().
				Str("environment", cfg.Environment).
				Str("transport", cfg.NotifyTransport).
				Int("workers", cfg.WorkerConcurrency).
				Msg("Server started")
			return g.Wait()
		},
	}
}

func workerCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.pool.Run(cmd.Context())
		},
	}
}

func remindCmd(load loader) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Queue one reminder run, or run it in place with --now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if now {
				summary, err := a.reminders.Run(ctx)
				if summary != nil {
					fmt.Printf("events: %d, sent: %d, errors: %d\n", summary.Events, summary.Sent, summary.Errors)
				}
				return err
			}

			id, err := a.queue.Enqueue(ctx, reminders.TaskSendReminders, nil)
			if err != nil {
				return err
			}
			fmt.Println("Queued reminder run", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "run the reminder pass in this process")
	return cmd
}

func whatsappLoginCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "whatsapp-login",
		Short: "Link this server to a WhatsApp account by scanning a QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.WhatsAppDataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			wa, err := whatsapp.NewService(cmd.Context(), cfg.WhatsAppDataDir, log)
			if err != nil {
				return err
			}
			defer wa.Disconnect()

			if wa.Paired() {
				fmt.Println("Already paired.")
				return nil
			}
			if err := wa.Connect(cmd.Context(), os.Stdout); err != nil {
				return err
			}
			fmt.Println("Paired. Set NOTIFY_TRANSPORT=whatsapp to send through this account.")
			return nil
		},
	}
}
