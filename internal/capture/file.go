package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"os"
	"sync"
)

// FileCamera serves an image file as the camera frame. It is re-read on
// every capture so the file can change between shots.
type FileCamera struct {
	Path     string
	Encoding Encoding
}

// Open checks the file is readable and returns a stream over it.
func (c *FileCamera) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Path == "" {
		return nil, fmt.Errorf("file camera: no image path configured (NEUNA_CAMERA_FILE)")
	}
	if _, err := os.Stat(c.Path); err != nil {
		return nil, fmt.Errorf("file camera: %w", err)
	}
	return &fileStream{path: c.Path, enc: c.Encoding}, nil
}

type fileStream struct {
	path string
	enc  Encoding

	mu     sync.Mutex
	closed bool
}

func (s *fileStream) Capture(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return DecodeFile(s.path, s.enc)
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Decode re-encodes an uploaded PNG, JPEG or GIF image as a frame.
func Decode(r io.Reader, enc Encoding) (Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Frame{}, fmt.Errorf("decode image: %w", err)
	}
	return enc.Encode(img)
}

// DecodeFile reads a PNG, JPEG or GIF file and re-encodes it as a frame.
func DecodeFile(path string, enc Encoding) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, err
	}
	defer f.Close()

	frame, err := Decode(f, enc)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}
