// Package imaging prepares generated illustrations for PDF embedding.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// MaxSourceBytes rejects oversized provider payloads before decoding.
const MaxSourceBytes = 10 * 1024 * 1024

var (
	ErrTooLarge          = errors.New("imaging: source image too large")
	ErrUnsupportedFormat = errors.New("imaging: unsupported image format")
)

var allowedTypes = []string{"image/png", "image/jpeg"}

// Config for page fitting
type Config struct {
	MaxWidth  int // px, A4 at ~150dpi is 1240
	MaxHeight int
	Quality   int // JPEG quality 1-100
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxWidth:  1240,
		MaxHeight: 1754,
		Quality:   82,
	}
}

// Fitted is an image ready to inline into an export.
type Fitted struct {
	JPEG   []byte
	Width  int
	Height int
}

// Processor handles image processing
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.MaxWidth <= 0 {
		config.MaxWidth = def.MaxWidth
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = def.MaxHeight
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	return &Processor{config: config}
}

// FitForPage decodes a PNG or JPEG, shrinks it to the page box keeping the
// aspect ratio, and re-encodes it as JPEG on a white background.
func (p *Processor) FitForPage(data []byte) (*Fitted, error) {
	if len(data) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	if mt := mimetype.Detect(data); !mimetype.EqualsAny(mt.String(), allowedTypes...) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > p.config.MaxWidth || b.Dy() > p.config.MaxHeight {
		img = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	// JPEG has no alpha channel.
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Fitted{
		JPEG:   buf.Bytes(),
		Width:  flat.Bounds().Dx(),
		Height: flat.Bounds().Dy(),
	}, nil
}
