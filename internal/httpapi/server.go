// Package httpapi exposes the services as JSON endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"event-rsvp/internal/auth"
	"event-rsvp/internal/events"
	"event-rsvp/internal/rsvp"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front end.
type Server struct {
	auth   *auth.Service
	events *events.Service
	rsvps  *rsvp.Engine
	router *gin.Engine
	log    zerolog.Logger
}

// NewServer wires the routes.
func NewServer(authSvc *auth.Service, eventSvc *events.Service, engine *rsvp.Engine, log zerolog.Logger) *Server {
	router := gin.New()

	s := &Server{
		auth:   authSvc,
		events: eventSvc,
		rsvps:  engine,
		router: router,
		log:    log.With().Str("component", "http").Logger(),
	}
	router.Use(gin.Recovery(), s.requestLogger())

	a := router.Group("/auth")
	{
		a.POST("/code", s.handleRequestCode)
		a.POST("/resend", s.handleResend)
		a.POST("/verify", s.handleVerify)
		a.POST("/logout", s.handleLogout)
		a.GET("/me", s.requireUser, s.handleMe)
	}

	router.GET("/e/:code", s.optionalUser, s.handleGetByShortCode)

	ev := router.Group("/events")
	{
		ev.POST("", s.requireUser, s.handleCreateEvent)
		ev.GET("/:id", s.optionalUser, s.handleGetEvent)
		ev.PUT("/:id", s.requireUser, s.handleUpdateEvent)
		ev.DELETE("/:id", s.requireUser, s.handleDeleteEvent)
		ev.POST("/:id/rsvp", s.requireUser, s.handleRSVP)
		ev.POST("/:id/cover", s.requireUser, s.handleUploadCover)
		ev.GET("/:id/cover/status", s.handleCoverStatus)
		ev.POST("/:id/invitations", s.requireUser, s.handleInviteGuests)
		ev.GET("/:id/organizers", s.handleListOrganizers)
		ev.POST("/:id/organizers", s.requireUser, s.handleInviteOrganizer)
		ev.DELETE("/:id/organizers/me", s.requireUser, s.handleLeaveEvent)
		ev.POST("/:id/blasts", s.requireUser, s.handleTextBlast)
		ev.GET("/:id/qr", s.handleShareQR)
		ev.GET("/:id/attendees", s.requireUser, s.handleAttendees)
		ev.GET("/:id/attendees.csv", s.requireUser, s.handleAttendeesCSV)
	}

	return s
}

// ServeMedia exposes locally stored derivatives under prefix.
func (s *Server) ServeMedia(prefix, root string) {
	s.router.Static(prefix, root)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}
