package media

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"event-rsvp/internal/apperr"
)

// MaxUploadSize bounds an uploaded cover photo.
const MaxUploadSize = 10 << 20

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Stage validates an upload and writes it to root/temp_uploads for the
// image job to pick up. It returns the staged path.
func Stage(root, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", apperr.New(apperr.KindValidation, "Please upload a JPG, PNG, GIF or WebP image.")
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", apperr.New(apperr.KindValidation, "Image must be 10MB or smaller.")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err, "That file doesn't look like an image.")
	}

	dir := filepath.Join(root, "temp_uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	return path, nil
}
