// Package screenshot extracts rendered map frames for vision queries. The
// drawing surface may drop its buffer between frames, so a capture always
// follows an explicit render and the next frame tick.
package screenshot

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMinBytes is the size below which a capture is treated as blank.
const DefaultMinBytes = 10000

// ErrEmptyCapture is returned when both capture paths produce a blank frame.
var ErrEmptyCapture = eris.New("screenshot: capture is empty")

// Surface is a map drawing surface that can be captured.
type Surface interface {
	RequestRender(ctx context.Context) error
	// NextFrame blocks until the surface has presented a new frame.
	NextFrame(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
	// FallbackCapture composites the map by another route when the primary
	// buffer comes back blank.
	FallbackCapture(ctx context.Context) ([]byte, error)
}

// Options tunes a Capturer.
type Options struct {
	MinBytes int
	// MaxDimension downscales captures whose longer side exceeds it. Zero
	// keeps the original size.
	MaxDimension int
}

// Capturer takes screenshots from a Surface.
type Capturer struct {
	surface Surface
	opts    Options
}

// NewCapturer creates a Capturer for surface.
func NewCapturer(surface Surface, opts Options) *Capturer {
	if opts.MinBytes <= 0 {
		opts.MinBytes = DefaultMinBytes
	}
	return &Capturer{surface: surface, opts: opts}
}

// Capture renders, waits for the next frame and returns the encoded image.
func (c *Capturer) Capture(ctx context.Context) ([]byte, error) {
	if err := c.surface.RequestRender(ctx); err != nil {
		return nil, eris.Wrap(err, "screenshot: request render")
	}
	if err := c.surface.NextFrame(ctx); err != nil {
		return nil, eris.Wrap(err, "screenshot: wait for frame")
	}

	img, err := c.surface.Capture(ctx)
	if err != nil {
		zap.L().Debug("screenshot: primary capture failed", zap.Error(err))
	}
	if len(img) >= c.opts.MinBytes {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	zap.L().Debug("screenshot: primary capture blank, trying fallback", zap.Int("bytes", len(img)))
	img, err = c.surface.FallbackCapture(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "screenshot: fallback capture")
	}
	if len(img) < c.opts.MinBytes {
		return nil, ErrEmptyCapture
	}
	return img, nil
}

// CaptureDataURL captures, downscales when configured, and encodes the frame
// as a data URL.
func (c *Capturer) CaptureDataURL(ctx context.Context) (string, error) {
	img, err := c.Capture(ctx)
	if err != nil {
		return "", err
	}
	mime := "image/png"
	if c.opts.MaxDimension > 0 {
		scaled, err := Downscale(img, c.opts.MaxDimension)
		if err != nil {
			zap.L().Debug("screenshot: sending original size", zap.Error(err))
			mime = sniff(img)
		} else {
			img = scaled
		}
	} else {
		mime = sniff(img)
	}
	return DataURL(mime, img), nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the payload of a base64 data URL. Plain base64 is
// accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		_, s, _ = strings.Cut(rest, ",")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, eris.Wrap(err, "screenshot: decode data url")
	}
	return b, nil
}
