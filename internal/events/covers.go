package events

import (
	"context"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"event-rsvp/internal/media"
	"event-rsvp/internal/models"
)

// QRSize is the edge length of share QR codes in pixels.
const QRSize = 256

// CoverStatus is what clients poll while a cover is processed.
type CoverStatus struct {
	Status  models.CoverStatus `json:"status"`
	AVIFURL string             `json:"avif_url"`
	WebPURL string             `json:"webp_url"`
}

// CoverPhotoStatus reports the image pipeline state for an event.
func (s *Service) CoverPhotoStatus(ctx context.Context, eventID string) (*CoverStatus, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &CoverStatus{
		Status:  event.CoverStatus,
		AVIFURL: event.CoverAVIFURL,
		WebPURL: event.CoverWebPURL,
	}, nil
}

// UploadCover stages an uploaded image and queues it for processing.
// The event's cover status reads pending until a worker picks it up.
func (s *Service) UploadCover(ctx context.Context, userID, eventID, filename string, r io.Reader) (*CoverStatus, error) {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can change the cover photo.")
	if err != nil {
		return nil, err
	}

	tempPath, err := media.Stage(s.cfg.MediaRoot, filename, r)
	if err != nil {
		return nil, err
	}
	jobID, err := s.covers.Enqueue(ctx, event.ID, tempPath)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", event.ID).Str("job_id", jobID).Msg("Cover photo queued")
	return &CoverStatus{Status: models.CoverPending}, nil
}

// ShareQR renders the event's short URL as a PNG QR code.
func (s *Service) ShareQR(ctx context.Context, eventID string) ([]byte, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(event.ShortURL(s.cfg.SiteDomain), qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
