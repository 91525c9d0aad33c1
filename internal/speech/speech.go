// Package speech speaks replies aloud through the platform's synthesizer.
//
// A Speaker is a single slot: starting a new utterance cancels the one in
// progress, and there is no queue.
package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	cmdexec "github.com/neuna/neuna/internal/exec"
	"github.com/neuna/neuna/internal/prefs"
)

var (
	// ErrNoEngine is returned when no speech synthesizer is installed
	ErrNoEngine = errors.New("no speech engine available (install espeak-ng)")
	// ErrInterrupted is returned by Speak when a newer utterance or Stop cut it off
	ErrInterrupted = errors.New("speech interrupted")
)

const baseWordsPerMinute = 175

// Voice is one installed voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Speaker runs one utterance at a time.
type Speaker struct {
	engine string
	runner cmdexec.Commander
	log    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpeaker returns a speaker using engine ("say", "espeak-ng" or
// "espeak"). An empty engine picks the first one installed.
func NewSpeaker(engine string, runner cmdexec.Commander, log *zap.Logger) (*Speaker, error) {
	if engine == "" {
		found, ok := cmdexec.FirstAvailable("say", "espeak-ng", "espeak")
		if !ok {
			return nil, ErrNoEngine
		}
		engine = found
	}
	switch engine {
	case "say", "espeak", "espeak-ng":
	default:
		return nil, fmt.Errorf("unsupported speech engine %q", engine)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Speaker{engine: engine, runner: runner, log: log.Named("speech")}, nil
}

// Engine returns the synthesizer command in use.
func (s *Speaker) Engine() string { return s.engine }

// Speak says text with p, cancelling whatever is being said. It blocks
// until the utterance ends and returns ErrInterrupted if it was cut off.
func (s *Speaker) Speak(ctx context.Context, text string, p prefs.Speech) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	args := s.Args(text, p.Clamp())
	res := s.runner.RunWithTimeout(ctx, utteranceTimeout(text, p.Rate), s.engine, args...)
	switch {
	case res.Canceled:
		return ErrInterrupted
	case !res.OK():
		s.log.Warn("speech failed", zap.String("engine", s.engine), zap.String("stderr", res.StderrTail(5)), zap.Error(res.Error))
		return fmt.Errorf("%s: %w", s.engine, res.Error)
	}
	return nil
}

// Stop cancels the utterance in progress, if any, and waits for it to end.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Speaking reports whether an utterance is in progress.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// utteranceTimeout allows a generous reading time for text at rate.
func utteranceTimeout(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	words := float64(len(strings.Fields(text)))
	minutes := words / (baseWordsPerMinute * rate)
	return 30*time.Second + time.Duration(minutes*2*float64(time.Minute))
}

// Args maps settings onto the engine's command line.
func (s *Speaker) Args(text string, p prefs.Speech) []string {
	wpm := strconv.Itoa(int(math.Round(baseWordsPerMinute * p.Rate)))
	if strings.HasPrefix(text, "-") {
		text = " " + text
	}

	if s.engine == "say" {
		var args []string
		if p.Voice != "" {
			args = append(args, "-v", p.Voice)
		}
		// say takes volume and pitch as embedded commands
		embedded := fmt.Sprintf("[[volm %.2f]] [[pbas %d]] ", p.Volume, int(math.Round(50*p.Pitch)))
		return append(args, "-r", wpm, embedded+text)
	}

	args := []string{
		"-s", wpm,
		"-p", strconv.Itoa(min(99, int(math.Round(50*p.Pitch)))),
		"-a", strconv.Itoa(int(math.Round(200 * p.Volume))),
	}
	if p.Voice != "" {
		args = append(args, "-v", p.Voice)
	}
	return append(args, text)
}

// Voices lists the installed English voices.
func (s *Speaker) Voices(ctx context.Context) ([]Voice, error) {
	var (
		out string
		err error
	)
	if s.engine == "say" {
		out, err = cmdexec.RunSimple(ctx, s.runner, s.engine, "-v", "?")
	} else {
		out, err = cmdexec.RunSimple(ctx, s.runner, s.engine, "--voices=en")
	}
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}

	var all []Voice
	if s.engine == "say" {
		all = parseSayVoices(out)
	} else {
		all = parseEspeakVoices(out)
	}
	return English(all), nil
}

// VoiceIDs returns the ids of voices, for prefs.Speech.ResolveVoice.
func VoiceIDs(voices []Voice) []string {
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}
	return ids
}

// English keeps the voices whose language starts with "en".
func English(voices []Voice) []Voice {
	var out []Voice
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Lang), "en") {
			out = append(out, v)
		}
	}
	return out
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices parses `say -v ?` lines such as
// "Samantha            en_US    # Hello, my name is Samantha.".
func parseSayVoices(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		m := sayVoiceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{ID: name, Name: name, Lang: strings.ReplaceAll(m[2], "_", "-")})
	}
	return voices
}

// parseEspeakVoices parses the `espeak --voices` table:
// "Pty Language Age/Gender VoiceName File Other Languages".
func parseEspeakVoices(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, Voice{
			ID:   fields[1],
			Name: strings.ReplaceAll(fields[3], "_", " "),
			Lang: fields[1],
		})
	}
	return voices
}
