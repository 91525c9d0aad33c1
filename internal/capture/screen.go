package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbinani/screenshot"
)

// ScreenCamera uses a display as the camera. It lets the companion "see"
// on machines without a webcam.
type ScreenCamera struct {
	Display  int
	Encoding Encoding
}

// Open checks the display exists and returns a stream over it.
func (c *ScreenCamera) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := screenshot.NumActiveDisplays()
	if c.Display < 0 || c.Display >= n {
		return nil, fmt.Errorf("invalid display %d, have %d displays", c.Display, n)
	}
	return &screenStream{display: c.Display, enc: c.Encoding}, nil
}

type screenStream struct {
	display int
	enc     Encoding

	mu     sync.Mutex
	closed bool
}

func (s *screenStream) Capture(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	bounds := screenshot.GetDisplayBounds(s.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return Frame{}, fmt.Errorf("capture failed: %w", err)
	}
	return s.enc.Encode(img)
}

func (s *screenStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
