// Package media turns uploaded cover photos into web derivatives.
//
// The pipeline runs as a background job: decode and validate the
// staged file, drop its metadata, bound its size, flatten transparency
// onto white, encode an AVIF and a WebP copy and upload both. Keys are
// derived from the source bytes so a retried job rewrites the same
// objects and yields the same URLs.
package media

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/zeebo/blake3"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/jobs"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

// TaskProcessImage is the job name of the pipeline.
const TaskProcessImage = "media.process_image"

// ContentEventCover tags requests that target an event's cover photo.
const ContentEventCover = "event_cover"

const (
	// MaxDimension bounds the longer edge of a derivative.
	MaxDimension = 2048
	// AVIFQuality and WebPQuality are the encoder settings.
	AVIFQuality = 80
	WebPQuality = 85

	avifSpeed  = 8
	webpMethod = 4
)

// ProcessRequest is the job payload.
type ProcessRequest struct {
	ContentType string `cbor:"content_type"`
	RecordID    string `cbor:"record_id"`
	TempPath    string `cbor:"temp_path"`
}

// ProcessResult is stored on a successful job.
type ProcessResult struct {
	Success bool   `cbor:"success"`
	AVIFURL string `cbor:"avif_url"`
	WebPURL string `cbor:"webp_url"`
}

// Enqueuer is satisfied by *jobs.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

// Processor runs the pipeline against event covers.
type Processor struct {
	store   *storage.Storage
	backend Backend
	queue   Enqueuer
	clock   clock.Clock
	log     zerolog.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(store *storage.Storage, backend Backend, queue Enqueuer, clk clock.Clock, log zerolog.Logger) *Processor {
	return &Processor{
		store:   store,
		backend: backend,
		queue:   queue,
		clock:   clk,
		log:     log.With().Str("component", "media").Logger(),
	}
}

// Register binds the pipeline job to pool.
func (p *Processor) Register(pool *jobs.Pool) {
	pool.Register(TaskProcessImage, p.handle, jobs.DefaultRetryPolicy)
}

// Enqueue marks the cover pending and queues the pipeline for a
// staged file.
func (p *Processor) Enqueue(ctx context.Context, eventID, tempPath string) (string, error) {
	if err := p.store.ResetCover(ctx, eventID, p.clock.Now()); err != nil {
		return "", err
	}
	id, err := p.queue.Enqueue(ctx, TaskProcessImage, ProcessRequest{
		ContentType: ContentEventCover,
		RecordID:    eventID,
		TempPath:    tempPath,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue image processing: %w", err)
	}
	return id, nil
}

func (p *Processor) handle(ctx context.Context, job *jobs.Job) (any, error) {
	var req ProcessRequest
	if err := job.Decode(&req); err != nil {
		return nil, err
	}
	return p.Process(ctx, req)
}

// Process runs the pipeline once. Any failure, including a panic in an
// encoder, leaves the record marked failed; a retry moves it back to
// processing.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (result *ProcessResult, err error) {
	if req.ContentType != ContentEventCover {
		return nil, apperr.Newf(apperr.KindValidation, "unsupported content type %q", req.ContentType)
	}
	log := p.log.With().Str("event_id", req.RecordID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image processing panicked: %v", r)
		}
		if err != nil {
			if serr := p.store.SetCoverStatus(ctx, req.RecordID, models.CoverFailed, p.clock.Now()); serr != nil {
				log.Error().Err(serr).Msg("Failed to mark cover failed")
			}
			log.Error().Err(err).Msg("Cover processing failed")
		}
	}()

	if err := p.store.SetCoverStatus(ctx, req.RecordID, models.CoverProcessing, p.clock.Now()); err != nil {
		return nil, err
	}

	source, err := os.ReadFile(req.TempPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "The uploaded image is no longer available.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staged upload: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCorruptFile, err, "The uploaded file is not a valid image.")
	}
	p.inspectMetadata(log, source)

	derivatives, err := encode(prepare(img))
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("event_covers/%s/%s", req.RecordID, contentKey(source))
	avifURL, err := p.backend.Put(ctx, prefix+".avif", derivatives.avif, "image/avif")
	if err != nil {
		return nil, fmt.Errorf("failed to store avif derivative: %w", err)
	}
	webpURL, err := p.backend.Put(ctx, prefix+".webp", derivatives.webp, "image/webp")
	if err != nil {
		return nil, fmt.Errorf("failed to store webp derivative: %w", err)
	}

	if err := p.store.SetCoverDerivatives(ctx, req.RecordID, avifURL, webpURL, p.clock.Now()); err != nil {
		return nil, err
	}

	if err := os.Remove(req.TempPath); err != nil {
		log.Warn().Err(err).Str("path", req.TempPath).Msg("Failed to remove staged upload")
	}

	log.Info().Str("avif_url", avifURL).Str("webp_url", webpURL).Msg("Cover processed")
	return &ProcessResult{Success: true, AVIFURL: avifURL, WebPURL: webpURL}, nil
}

// inspectMetadata logs when the source carries a GPS position. The
// derivatives are encoded from pixels only, so no metadata survives.
func (p *Processor) inspectMetadata(log zerolog.Logger, source []byte) {
	x, err := exif.Decode(bytes.NewReader(source))
	if err != nil {
		log.Debug().Err(err).Msg("No readable EXIF data")
		return
	}
	if _, _, err := x.LatLong(); err == nil {
		log.Info().Msg("Stripping GPS location from upload")
	}
}

// prepare bounds the longer edge to MaxDimension and flattens any
// transparency onto white.
func prepare(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	if bounds.Dx() > MaxDimension || bounds.Dy() > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

type encoded struct {
	avif []byte
	webp []byte
}

func encode(img image.Image) (*encoded, error) {
	var avifBuf, webpBuf bytes.Buffer
	if err := avif.Encode(&avifBuf, img, avif.Options{Quality: AVIFQuality, Speed: avifSpeed}); err != nil {
		return nil, fmt.Errorf("failed to encode avif: %w", err)
	}
	if err := webp.Encode(&webpBuf, img, webp.Options{Quality: WebPQuality, Method: webpMethod}); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return &encoded{avif: avifBuf.Bytes(), webp: webpBuf.Bytes()}, nil
}

// contentKey names derivatives after the source bytes.
func contentKey(source []byte) string {
	sum := blake3.Sum256(source)
	return hex.EncodeToString(sum[:8])
}
