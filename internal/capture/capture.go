// Package capture takes still frames from a camera-like source and encodes
// them as JPEG for the vision model.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxEdge bounds the longest side of an encoded frame in pixels
	DefaultMaxEdge = 1280
	// DefaultQuality is the starting JPEG quality
	DefaultQuality = 80
	// DefaultMaxBytes is the size an encoded frame must fit in
	DefaultMaxBytes = 1024 * 1024
)

var (
	// ErrClosed is returned by Capture on a closed stream
	ErrClosed = errors.New("camera stream closed")
	// ErrTooLarge is returned when a frame cannot be squeezed under the size limit
	ErrTooLarge = errors.New("frame too large after scaling attempts")
)

// Frame is one encoded still image.
type Frame struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
	TakenAt  time.Time
}

// Camera opens streams.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera. Close releases it and is safe to call twice.
type Stream interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// Encoding controls how frames are scaled and compressed.
type Encoding struct {
	MaxEdge  int
	Quality  int
	MaxBytes int
}

func (e Encoding) withDefaults() Encoding {
	if e.MaxEdge <= 0 {
		e.MaxEdge = DefaultMaxEdge
	}
	if e.Quality <= 0 || e.Quality > 100 {
		e.Quality = DefaultQuality
	}
	if e.MaxBytes <= 0 {
		e.MaxBytes = DefaultMaxBytes
	}
	return e
}

// Encode downsizes img so its longest edge fits MaxEdge and encodes it as
// JPEG, shrinking further until it fits MaxBytes.
func (e Encoding) Encode(img image.Image) (Frame, error) {
	e = e.withDefaults()

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Frame{}, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}

	scale := 1.0
	if long := max(b.Dx(), b.Dy()); long > e.MaxEdge {
		scale = float64(e.MaxEdge) / float64(long)
	}
	quality := e.Quality

	for attempts := 0; attempts < 4; attempts++ {
		scaled := img
		if scale < 1 {
			scaled = scaleImage(img, scale)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return Frame{}, fmt.Errorf("jpeg encode failed: %w", err)
		}
		if buf.Len() <= e.MaxBytes {
			sb := scaled.Bounds()
			return Frame{
				MIMEType: "image/jpeg",
				Data:     buf.Bytes(),
				Width:    sb.Dx(),
				Height:   sb.Dy(),
				TakenAt:  time.Now(),
			}, nil
		}

		// Still too large, reduce scale and quality
		scale *= 0.7
		if quality > 20 {
			quality -= 10
		}
	}
	return Frame{}, ErrTooLarge
}

// scaleImage downscales src by the given factor (0..1].
func scaleImage(src image.Image, factor float64) image.Image {
	srcBounds := src.Bounds()
	newW := max(1, int(float64(srcBounds.Dx())*factor))
	newH := max(1, int(float64(srcBounds.Dy())*factor))
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}

// Preview captures frames from s at fps and hands each to fn until ctx is
// done or fn or a capture fails.
func Preview(ctx context.Context, s Stream, fps int, fn func(Frame) error) error {
	if fps <= 0 {
		fps = 2
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := s.Capture(ctx)
			if err != nil {
				return err
			}
			if err := fn(frame); err != nil {
				return err
			}
		}
	}
}
