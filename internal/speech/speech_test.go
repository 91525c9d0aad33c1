package speech

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	cmdexec "github.com/neuna/neuna/internal/exec"
	"github.com/neuna/neuna/internal/prefs"
)

// blockingRunner holds every command until its context is cancelled or
// release is closed, like a synthesizer reading a long reply.
type blockingRunner struct {
	started chan []string
	release chan struct{}
	output  string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan []string, 10), release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, name string, args ...string) *cmdexec.Result {
	return &cmdexec.Result{Command: name, Args: args, Stdout: b.output}
}

func (b *blockingRunner) RunWithTimeout(ctx context.Context, _ time.Duration, name string, args ...string) *cmdexec.Result {
	b.started <- args
	select {
	case <-ctx.Done():
		return &cmdexec.Result{Command: name, ExitCode: -1, Canceled: true, Error: ctx.Err()}
	case <-b.release:
		return &cmdexec.Result{Command: name}
	}
}

func TestNewSpeakerRejectsUnknownEngine(t *testing.T) {
	if _, err := NewSpeaker("festival", newBlockingRunner(), nil); err == nil {
		t.Error("expected error")
	}
}

func TestSpeakPreemptsPrevious(t *testing.T) {
	r := newBlockingRunner()
	s, err := NewSpeaker("espeak", r, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- s.Speak(context.Background(), "first reply", prefs.DefaultSpeech()) }()
	<-r.started

	second := make(chan error, 1)
	go func() { second <- s.Speak(context.Background(), "second reply", prefs.DefaultSpeech()) }()

	if err := <-first; !errors.Is(err, ErrInterrupted) {
		t.Errorf("first = %v, want ErrInterrupted", err)
	}
	args := <-r.started
	if args[len(args)-1] != "second reply" {
		t.Errorf("second utterance args = %v", args)
	}
	close(r.release)
	if err := <-second; err != nil {
		t.Errorf("second = %v", err)
	}
	if s.Speaking() {
		t.Error("speaker should be idle")
	}
}

func TestStop(t *testing.T) {
	r := newBlockingRunner()
	s, _ := NewSpeaker("say", r, nil)

	done := make(chan error, 1)
	go func() { done <- s.Speak(context.Background(), "hello", prefs.DefaultSpeech()) }()
	<-r.started

	s.Stop()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Errorf("err = %v", err)
	}
	s.Stop() // idle stop is a no-op
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	s, _ := NewSpeaker("espeak", newBlockingRunner(), nil)
	if err := s.Speak(context.Background(), "   ", prefs.DefaultSpeech()); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestArgs(t *testing.T) {
	p := prefs.Speech{Voice: "en-gb", Rate: 2, Pitch: 2, Volume: 0.5}

	es, _ := NewSpeaker("espeak-ng", newBlockingRunner(), nil)
	want := []string{"-s", "350", "-p", "99", "-a", "100", "-v", "en-gb", "hi"}
	if got := es.Args("hi", p); !slices.Equal(got, want) {
		t.Errorf("espeak args = %v, want %v", got, want)
	}

	say, _ := NewSpeaker("say", newBlockingRunner(), nil)
	got := say.Args("-5 degrees", prefs.Speech{Voice: "Daniel", Rate: 1, Pitch: 1, Volume: 1})
	want = []string{"-v", "Daniel", "-r", "175", "[[volm 1.00]] [[pbas 50]]  -5 degrees"}
	if !slices.Equal(got, want) {
		t.Errorf("say args = %q, want %q", got, want)
	}
}

func TestVoicesSay(t *testing.T) {
	r := newBlockingRunner()
	r.output = `Alex                en_US    # Most people recognize me by my voice.
Amelie              fr_CA    # Bonjour, je m'appelle Amelie.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Daniel              en_GB    # Hello, my name is Daniel.
`
	s, _ := NewSpeaker("say", r, nil)
	voices, err := s.Voices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ids := VoiceIDs(voices)
	if !slices.Equal(ids, []string{"Alex", "Bad News", "Daniel"}) {
		t.Errorf("voices = %v", ids)
	}
	if voices[2].Lang != "en-GB" {
		t.Errorf("lang = %q", voices[2].Lang)
	}
}

func TestVoicesEspeak(t *testing.T) {
	r := newBlockingRunner()
	r.output = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 2  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  fr-fr           --/M      French             roa/fr
`
	s, _ := NewSpeaker("espeak", r, nil)
	voices, err := s.Voices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 2 || voices[0].ID != "en-gb" || voices[0].Name != "English (Great Britain)" {
		t.Errorf("voices = %+v", voices)
	}
}
