// Package audio records short microphone clips and turns them into text.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	cmdexec "github.com/neuna/neuna/internal/exec"
)

const (
	// MaxClipDuration bounds a single recording
	MaxClipDuration = 60 * time.Second
	// DefaultClipDuration is used when no duration is given
	DefaultClipDuration = 5 * time.Second

	sampleRate = 16000
)

// ErrNoRecorder is returned when the configured recorder is not installed.
var ErrNoRecorder = errors.New("no audio recorder available (install alsa-utils or sox)")

// Clip is a recorded WAV clip.
type Clip struct {
	MIMEType string
	Data     []byte
	Duration time.Duration
}

// Recorder captures audio from the default input device.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

// ExecRecorder records with arecord or sox through a Commander. The
// recorder process is killed when ctx is done.
type ExecRecorder struct {
	// Command is "arecord" or "sox"
	Command string
	Runner  cmdexec.Commander
	// TempDir holds clips while recording; defaults to os.TempDir()
	TempDir string
	Log     *zap.Logger
}

// NewExecRecorder returns a recorder using command, falling back to
// whichever of arecord and sox is installed when command is empty.
func NewExecRecorder(command string, runner cmdexec.Commander, log *zap.Logger) (*ExecRecorder, error) {
	if command == "" {
		found, ok := cmdexec.FirstAvailable("arecord", "sox")
		if !ok {
			return nil, ErrNoRecorder
		}
		command = found
	}
	if command != "arecord" && command != "sox" {
		return nil, fmt.Errorf("unsupported recorder %q (valid: arecord, sox)", command)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecRecorder{Command: command, Runner: runner, Log: log.Named("audio")}, nil
}

// Args returns the command line recording d seconds of 16 kHz mono WAV into
// path.
func (r *ExecRecorder) Args(path string, d time.Duration) []string {
	secs := strconv.Itoa(int(math.Ceil(d.Seconds())))
	switch r.Command {
	case "sox":
		return []string{"-q", "-d", "-r", strconv.Itoa(sampleRate), "-c", "1", "-b", "16", path, "trim", "0", secs}
	default:
		return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(sampleRate), "-c", "1", "-d", secs, path}
	}
}

// Record captures d of audio. d is clamped to (0, MaxClipDuration].
func (r *ExecRecorder) Record(ctx context.Context, d time.Duration) (Clip, error) {
	if d <= 0 {
		d = DefaultClipDuration
	}
	d = min(d, MaxClipDuration)

	f, err := os.CreateTemp(r.TempDir, "neuna-clip-*.wav")
	if err != nil {
		return Clip{}, fmt.Errorf("create clip file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	res := r.Runner.RunWithTimeout(ctx, d+5*time.Second, r.Command, r.Args(path, d)...)
	if !res.OK() {
		r.Log.Warn("recording failed",
			zap.String("command", res.String()),
			zap.String("stderr", res.StderrTail(5)))
		if res.Canceled {
			return Clip{}, ctx.Err()
		}
		return Clip{}, fmt.Errorf("record with %s: %w", r.Command, res.Error)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Clip{}, fmt.Errorf("read clip: %w", err)
	}
	if len(data) <= 44 {
		return Clip{}, fmt.Errorf("recorder produced an empty clip")
	}
	r.Log.Debug("clip recorded", zap.Int("bytes", len(data)), zap.Duration("duration", d))
	return Clip{MIMEType: "audio/wav", Data: data, Duration: d}, nil
}
