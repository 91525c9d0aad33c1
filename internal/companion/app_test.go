package companion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neuna/neuna/internal/audio"
	"github.com/neuna/neuna/internal/capture"
	"github.com/neuna/neuna/internal/chatmem"
	"github.com/neuna/neuna/internal/devices"
	cmdexec "github.com/neuna/neuna/internal/exec"
	"github.com/neuna/neuna/internal/kvstore"
	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/mode"
	"github.com/neuna/neuna/internal/permission"
	"github.com/neuna/neuna/internal/prefs"
	"github.com/neuna/neuna/internal/speech"
)

// recordingBackend wraps the echo backend and keeps every request.
type recordingBackend struct {
	*llm.EchoBackend
	mu   sync.Mutex
	reqs []*llm.GenerateRequest
}

func (b *recordingBackend) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	b.mu.Unlock()
	return b.EchoBackend.Generate(ctx, req)
}

func (b *recordingBackend) last() *llm.GenerateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reqs[len(b.reqs)-1]
}

// blockingBackend holds every request until release is closed.
type blockingBackend struct {
	*llm.EchoBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.EchoBackend.Generate(ctx, req)
}

type failingBackend struct {
	*llm.EchoBackend
}

func (failingBackend) Generate(context.Context, *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return nil, &llm.PermanentError{Err: errors.New("quota exceeded")}
}

type fakeCamera struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *fakeCamera) Open(context.Context) (capture.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return &fakeStream{cam: c}, nil
}

func (c *fakeCamera) counts() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

type fakeStream struct {
	cam    *fakeCamera
	closed bool
}

func (s *fakeStream) Capture(context.Context) (capture.Frame, error) {
	if s.closed {
		return capture.Frame{}, capture.ErrClosed
	}
	return capture.Frame{MIMEType: "image/jpeg", Data: []byte("jpegbytes"), Width: 4, Height: 3, TakenAt: time.Now()}, nil
}

func (s *fakeStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cam.mu.Lock()
	s.cam.closed++
	s.cam.mu.Unlock()
	return nil
}

type testEnv struct {
	app   *App
	store *kvstore.MemStore
	reg   *devices.Registry
	cam   *fakeCamera
}

func newTestApp(t *testing.T, backend llm.Backend) *testEnv {
	t.Helper()
	store := kvstore.NewMemStore()
	reg, err := devices.NewRegistry(devices.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	cam := &fakeCamera{}
	app, err := New(Deps{
		Gateway:      llm.NewGateway(backend, llm.Config{}, nil),
		Conversation: chatmem.New(store, nil),
		Devices:      reg,
		Prefs:        prefs.NewStore(store, nil),
		Gate:         permission.NewGate(permission.Allow),
		Camera:       cam,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Close() })
	return &testEnv{app: app, store: store, reg: reg, cam: cam}
}

// persistedLen flushes the conversation and counts the stored messages.
func (e *testEnv) persistedLen(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	if err := e.app.conv.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := e.store.Get(ctx, chatmem.StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Messages []chatmem.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return len(env.Messages)
}

func TestChatTurnsOnOfficeLight(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	before := env.persistedLen(t)

	ex, err := env.app.Chat(context.Background(), "turn on office light")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if dev, _ := env.reg.Get("2"); !dev.On {
		t.Error("gamer setup should be on")
	}
	if ex.User.Role != chatmem.RoleUser || ex.Reply.Role != chatmem.RoleAssistant {
		t.Errorf("roles = %s, %s", ex.User.Role, ex.Reply.Role)
	}
	if ex.Reply.Text != "Done. Device Gamer Setup set to ON" {
		t.Errorf("reply = %q", ex.Reply.Text)
	}
	if got := env.persistedLen(t); got != before+2 {
		t.Errorf("persisted messages = %d, want %d", got, before+2)
	}
}

func TestChatSendsHistory(t *testing.T) {
	backend := &recordingBackend{EchoBackend: llm.NewEchoBackend()}
	env := newTestApp(t, backend)
	ctx := context.Background()

	if _, err := env.app.Chat(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.app.Chat(ctx, "again"); err != nil {
		t.Fatal(err)
	}

	turns := backend.last().Turns
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[0].Role != llm.RoleUser || turns[0].Parts[0].Text != "hello" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != llm.RoleModel || !strings.Contains(turns[1].Parts[0].Text, "hello") {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	if turns[2].Parts[0].Text != "again" {
		t.Errorf("turn 2 = %+v", turns[2])
	}
}

func TestChatHistoryLimit(t *testing.T) {
	backend := &recordingBackend{EchoBackend: llm.NewEchoBackend()}
	env := newTestApp(t, backend)
	env.app.opts.HistoryLimit = 2
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := env.app.Chat(ctx, text); err != nil {
			t.Fatal(err)
		}
	}
	// two prior messages plus the new one
	if turns := backend.last().Turns; len(turns) != 3 || turns[0].Parts[0].Text != "two" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestChatBusy(t *testing.T) {
	backend := &blockingBackend{
		EchoBackend: llm.NewEchoBackend(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	env := newTestApp(t, backend)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.app.Chat(ctx, "first")
		done <- err
	}()
	<-backend.entered

	if _, err := env.app.Chat(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if n := len(env.app.History()); n != 2 {
		t.Errorf("history = %d messages, want 2", n)
	}
}

func TestChatDegradesOnBackendFailure(t *testing.T) {
	env := newTestApp(t, failingBackend{EchoBackend: llm.NewEchoBackend()})

	ex, err := env.app.Chat(context.Background(), "hi")
	if !errors.Is(err, llm.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if ex == nil || ex.Reply.Text != llm.DegradedReply {
		t.Fatalf("exchange = %+v", ex)
	}
	if got := env.persistedLen(t); got != 2 {
		t.Errorf("persisted = %d, want 2", got)
	}
}

func TestChatRejectsEmptyText(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	if _, err := env.app.Chat(context.Background(), "   "); !errors.Is(err, llm.ErrInvalidRequest) {
		t.Errorf("err = %v", err)
	}
	if n := len(env.app.History()); n != 0 {
		t.Errorf("history = %d", n)
	}
}

func TestCameraClosesOnModeSwitch(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	ctx := context.Background()

	if err := env.app.OpenCamera(ctx); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if env.app.Mode() != mode.Camera || !env.app.CameraOpen() {
		t.Fatalf("mode = %v, open = %v", env.app.Mode(), env.app.CameraOpen())
	}
	if _, err := env.app.SwitchMode(mode.Notes); err != nil {
		t.Fatal(err)
	}
	if env.app.CameraOpen() {
		t.Error("camera still open after leaving camera mode")
	}
	if opened, closed := env.cam.counts(); opened != 1 || closed != 1 {
		t.Errorf("opened %d closed %d", opened, closed)
	}
}

func TestCaptureAndRoast(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	ctx := context.Background()

	if _, err := env.app.Roast(ctx); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Roast before capture: %v", err)
	}
	if _, err := env.app.Capture(ctx); !errors.Is(err, ErrNoCamera) {
		t.Errorf("Capture without camera: %v", err)
	}

	if err := env.app.OpenCamera(ctx); err != nil {
		t.Fatal(err)
	}
	frame, err := env.app.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if env.app.CameraOpen() {
		t.Error("capture should close the stream")
	}

	r, err := env.app.Roast(ctx)
	if err != nil {
		t.Fatalf("Roast: %v", err)
	}
	if !strings.Contains(r.Text, "image/jpeg of 9 bytes") {
		t.Errorf("roast = %q", r.Text)
	}
	if string(r.Frame.Data) != string(frame.Data) {
		t.Error("roast frame differs from capture")
	}

	hist := env.app.History()
	if len(hist) != 2 || hist[0].Image == nil || hist[0].Text != roastUserText {
		t.Fatalf("history = %+v", hist)
	}
}

func TestOpenCameraDenied(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	env.app.gate = permission.NewGate(permission.Deny)

	err := env.app.OpenCamera(context.Background())
	if !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if env.app.Mode() != mode.Chat {
		t.Errorf("mode = %v", env.app.Mode())
	}
	if opened, _ := env.cam.counts(); opened != 0 {
		t.Error("camera opened despite denial")
	}
}

func TestListenWithoutRecorder(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	if _, err := env.app.Listen(context.Background(), time.Second); !errors.Is(err, ErrNoMicrophone) {
		t.Errorf("err = %v", err)
	}
}

func TestNotesAndExport(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	ctx := context.Background()

	if _, _, err := env.app.ExportNotes(); !errors.Is(err, ErrNoNotes) {
		t.Errorf("err = %v, want ErrNoNotes", err)
	}
	if _, err := env.app.Notes(ctx, "Mitosis"); err != nil {
		t.Fatalf("Notes: %v", err)
	}
	name, page, err := env.app.ExportNotes()
	if err != nil {
		t.Fatal(err)
	}
	if name != "neuna-notes-mitosis.html" {
		t.Errorf("name = %q", name)
	}
	if !strings.Contains(string(page), "Neuna Notes - Mitosis") {
		t.Error("page missing title")
	}
}

func TestDeviceControl(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())

	d, err := env.app.ToggleDevice("1")
	if err != nil || d.On {
		t.Errorf("toggle = %+v, %v", d, err)
	}
	d, err = env.app.SetDeviceValue("3", 65)
	if err != nil || *d.Value != 65 {
		t.Errorf("set value = %+v, %v", d, err)
	}
	if _, err := env.app.ToggleDevice("99"); !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestClearChat(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	if _, err := env.app.Chat(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	env.app.ClearChat()
	if n := len(env.app.History()); n != 0 {
		t.Errorf("history = %d", n)
	}
	if got := env.persistedLen(t); got != 0 {
		t.Errorf("persisted = %d", got)
	}
}

func TestSpeechPreferences(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	ctx := context.Background()

	if got := env.app.SpeechPreferences(ctx); got != prefs.DefaultSpeech() {
		t.Errorf("defaults = %+v", got)
	}
	saved, err := env.app.UpdateSpeechPreferences(ctx, prefs.Speech{Voice: "Samantha", Rate: 3, Pitch: 1, Volume: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if saved.Rate != 2 {
		t.Errorf("rate = %v, want clamped to 2", saved.Rate)
	}
	if got := env.app.SpeechPreferences(ctx); got != saved {
		t.Errorf("reloaded = %+v, want %+v", got, saved)
	}
	if err := env.app.Speak(ctx, "hi"); err == nil {
		t.Error("Speak without a speaker should fail")
	}
}

func TestDictateSendsTranscript(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	ctx := context.Background()

	if _, err := env.app.Dictate(ctx, audio.Clip{MIMEType: "audio/wav"}); !errors.Is(err, llm.ErrInvalidRequest) {
		t.Errorf("empty clip err = %v", err)
	}
	ex, err := env.app.Dictate(ctx, audio.Clip{MIMEType: "audio/wav", Data: []byte("RIFF....WAVE")})
	if err != nil {
		t.Fatalf("Dictate: %v", err)
	}
	// the echo backend answers audio with a fixed line, which becomes the chat text
	if ex.User.Text != "(echo backend cannot transcribe audio)" {
		t.Errorf("transcript = %q", ex.User.Text)
	}
	if n := len(env.app.History()); n != 2 {
		t.Errorf("history = %d", n)
	}
}

func TestSpeakWithoutEngine(t *testing.T) {
	env := newTestApp(t, llm.NewEchoBackend())
	if err := env.app.SpeakAsync("hello"); !errors.Is(err, speech.ErrNoEngine) {
		t.Errorf("SpeakAsync err = %v, want ErrNoEngine", err)
	}
	if err := env.app.Speak(context.Background(), "hello"); !errors.Is(err, speech.ErrNoEngine) {
		t.Errorf("Speak err = %v, want ErrNoEngine", err)
	}
	env.app.StopSpeaking()
}

// countingRunner finishes every command at once and counts them.
type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRunner) Run(ctx context.Context, name string, args ...string) *cmdexec.Result {
	return r.RunWithTimeout(ctx, 0, name, args...)
}

func (r *countingRunner) RunWithTimeout(_ context.Context, _ time.Duration, name string, args ...string) *cmdexec.Result {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return &cmdexec.Result{Command: name, Args: args}
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestSpeakAsyncRacingClose(t *testing.T) {
	runner := &countingRunner{}
	speaker, err := speech.NewSpeaker("espeak", runner, nil)
	if err != nil {
		t.Fatal(err)
	}
	store := kvstore.NewMemStore()
	reg, err := devices.NewRegistry(devices.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	app, err := New(Deps{
		Gateway:      llm.NewGateway(llm.NewEchoBackend(), llm.Config{}, nil),
		Conversation: chatmem.New(store, nil),
		Devices:      reg,
		Prefs:        prefs.NewStore(store, nil),
		Speaker:      speaker,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := app.SpeakAsync("hello there"); err != nil && !errors.Is(err, ErrClosed) {
					t.Errorf("SpeakAsync: %v", err)
					return
				}
			}
		}()
	}
	if err := app.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	wg.Wait()

	after := runner.count()
	if err := app.SpeakAsync("too late"); !errors.Is(err, ErrClosed) {
		t.Errorf("SpeakAsync after Close = %v, want ErrClosed", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := runner.count(); n != after {
		t.Errorf("speaker ran %d commands after Close", n-after)
	}
}
