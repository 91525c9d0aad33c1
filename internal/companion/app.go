// Package companion assembles the Neuna components into one App and routes
// user intents (chat, camera, voice, notes, dashboard) to them.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/audio"
	"github.com/neuna/neuna/internal/capture"
	"github.com/neuna/neuna/internal/chatmem"
	"github.com/neuna/neuna/internal/devices"
	"github.com/neuna/neuna/internal/geo"
	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/mode"
	"github.com/neuna/neuna/internal/notes"
	"github.com/neuna/neuna/internal/permission"
	"github.com/neuna/neuna/internal/prefs"
	"github.com/neuna/neuna/internal/redact"
	"github.com/neuna/neuna/internal/speech"
	"github.com/neuna/neuna/internal/tools"
	"github.com/neuna/neuna/internal/weather"
)

const (
	// DefaultHistoryLimit is how many prior messages are sent as context
	DefaultHistoryLimit = 30
	// DefaultListenDuration is how long Listen records when no duration is given
	DefaultListenDuration = 5 * time.Second

	roastUserText = "Roast my pic"
	closeTimeout  = 5 * time.Second
)

var (
	// ErrBusy is returned when a message is sent while the previous one is
	// still being answered.
	ErrBusy = errors.New("companion: still answering the previous message")
	// ErrNoCamera is returned by Capture when no camera stream is open.
	ErrNoCamera = errors.New("companion: camera is not open")
	// ErrNoFrame is returned by Roast before anything was captured.
	ErrNoFrame = errors.New("companion: no captured frame to roast")
	// ErrNoNotes is returned by ExportNotes before any notes were generated.
	ErrNoNotes = errors.New("companion: no notes generated yet")
	// ErrNoMicrophone is returned by Listen when no recorder is configured.
	ErrNoMicrophone = errors.New("companion: no microphone recorder configured")
	// ErrClosed is returned by SpeakAsync after Close.
	ErrClosed = errors.New("companion: closed")
)

// Options tunes App behaviour.
type Options struct {
	// SpeakReplies speaks every chat reply in the background.
	SpeakReplies bool
	// HistoryLimit caps the context sent with each chat message.
	HistoryLimit int
}

// Deps are the collaborators an App is built from. Gateway, Conversation,
// Devices and Prefs are required; a nil Camera, Recorder, Speaker or
// Locator disables the matching feature.
type Deps struct {
	Gateway      *llm.Gateway
	Conversation *chatmem.Conversation
	Devices      *devices.Registry
	Prefs        *prefs.Store
	Gate         *permission.Gate
	Camera       capture.Camera
	Recorder     audio.Recorder
	Speaker      *speech.Speaker
	Locator      geo.Locator
	Log          *zap.Logger
}

// Exchange is one user message and the reply appended for it.
type Exchange struct {
	User      chatmem.Message    `json:"user"`
	Reply     chatmem.Message    `json:"reply"`
	Grounding []llm.GroundingRef `json:"grounding,omitempty"`
	Model     string             `json:"model,omitempty"`
}

// Roast is the model's take on a captured frame.
type Roast struct {
	Frame capture.Frame `json:"-"`
	Text  string        `json:"text"`
	Model string        `json:"model,omitempty"`
}

// App is the Neuna companion.
type App struct {
	opts Options
	log  *zap.Logger

	gateway     *llm.Gateway
	conv        *chatmem.Conversation
	devices     *devices.Registry
	dispatcher  *tools.Dispatcher
	gate        *permission.Gate
	camera      capture.Camera
	recorder    audio.Recorder
	transcriber *audio.Transcriber
	speaker     *speech.Speaker
	prefs       *prefs.Store
	weather     *weather.Service
	notes       *notes.Generator
	modes       *mode.Machine

	// turn serializes conversation writes; it is only ever TryLocked
	turn sync.Mutex

	camMu     sync.Mutex
	stream    capture.Stream
	lastFrame *capture.Frame

	notesMu   sync.Mutex
	lastNotes *notes.Notes

	bg       context.Context
	bgCancel context.CancelFunc
	// bgMu orders bgWG.Add against the Wait in Close
	bgMu   sync.Mutex
	closed bool
	bgWG   sync.WaitGroup
}

// New builds an App from deps.
func New(deps Deps, opts Options) (*App, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("companion: gateway is required")
	case deps.Conversation == nil:
		return nil, errors.New("companion: conversation is required")
	case deps.Devices == nil:
		return nil, errors.New("companion: device registry is required")
	case deps.Prefs == nil:
		return nil, errors.New("companion: preference store is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	gate := deps.Gate
	if gate == nil {
		gate = permission.NewGate(permission.Allow, permission.WithLogger(log))
	}
	locator := deps.Locator
	if locator == nil {
		locator = geo.Disabled{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	bg, cancel := context.WithCancel(context.Background())
	a := &App{
		opts:        opts,
		log:         log.Named("companion"),
		gateway:     deps.Gateway,
		conv:        deps.Conversation,
		devices:     deps.Devices,
		dispatcher:  tools.NewDispatcher(tools.NewSmartHomeRegistry(deps.Devices), deps.Gateway, log),
		gate:        gate,
		camera:      deps.Camera,
		recorder:    deps.Recorder,
		transcriber: audio.NewTranscriber(deps.Gateway),
		speaker:     deps.Speaker,
		prefs:       deps.Prefs,
		weather:     weather.NewService(deps.Gateway, geo.Gated{Gate: gate, Next: locator}, log),
		notes:       notes.NewGenerator(deps.Gateway),
		modes:       mode.NewMachine(),
		bg:          bg,
		bgCancel:    cancel,
	}
	a.modes.OnLeave(mode.Camera, func() {
		if err := a.CloseCamera(); err != nil {
			a.log.Warn("closing camera on mode switch", zap.Error(err))
		}
	})
	return a, nil
}

// Restore loads the persisted conversation and returns it.
func (a *App) Restore(ctx context.Context) []chatmem.Message {
	msgs := a.conv.Restore(ctx)
	a.log.Info("conversation restored", zap.Int("messages", len(msgs)))
	return msgs
}

// Chat sends text with the recent conversation as context, runs any tool the
// model asks for and appends both sides of the exchange. On a backend
// failure the apology is appended and returned in the Exchange alongside
// the error. A call made while another message is in flight returns ErrBusy.
func (a *App) Chat(ctx context.Context, text string) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, llm.ErrInvalidRequest
	}
	if !a.turn.TryLock() {
		return nil, ErrBusy
	}
	defer a.turn.Unlock()

	history := a.history()
	userMsg, err := a.conv.Append(chatmem.RoleUser, text)
	if err != nil {
		return nil, err
	}

	reply, err := a.gateway.Send(ctx, llm.Request{
		Text:    text,
		History: history,
		Tools:   llm.GetToolDefinitions(),
		Search:  true,
	})
	if err == nil {
		reply, err = a.dispatcher.Complete(ctx, text, reply)
	}
	if err != nil {
		a.log.Warn("chat request failed", redact.Err(err))
	}

	shown := llm.DisplayText(reply, err)
	replyMsg, appendErr := a.conv.Append(chatmem.RoleAssistant, shown)
	if appendErr != nil {
		return nil, appendErr
	}

	ex := &Exchange{User: userMsg, Reply: replyMsg}
	if reply != nil && err == nil {
		ex.Grounding = reply.Grounding
		ex.Model = reply.Model
	}
	if a.opts.SpeakReplies {
		a.speakInBackground(shown)
	}
	return ex, err
}

// history converts the tail of the conversation into backend turns. System
// messages are not sent; images travel with user turns only.
func (a *App) history() []llm.Turn {
	msgs := a.conv.Messages()
	if len(msgs) > a.opts.HistoryLimit {
		msgs = msgs[len(msgs)-a.opts.HistoryLimit:]
	}
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case chatmem.RoleUser:
			t := llm.Turn{Role: llm.RoleUser}
			if m.Image != nil {
				t.Parts = append(t.Parts, llm.Part{Attachment: &llm.Attachment{MIMEType: m.Image.MIMEType, Data: m.Image.Data}})
			}
			if m.Text != "" {
				t.Parts = append(t.Parts, llm.Part{Text: m.Text})
			}
			if len(t.Parts) > 0 {
				turns = append(turns, t)
			}
		case chatmem.RoleAssistant:
			if m.Text != "" {
				turns = append(turns, llm.TextTurn(llm.RoleModel, m.Text))
			}
		}
	}
	return turns
}

// Listen records from the microphone for d, transcribes the clip and sends
// the transcript as a chat message. The mode is left unchanged.
func (a *App) Listen(ctx context.Context, d time.Duration) (*Exchange, error) {
	if a.recorder == nil {
		return nil, ErrNoMicrophone
	}
	if err := a.gate.Request(ctx, permission.Microphone); err != nil {
		return nil, err
	}
	if d <= 0 {
		d = DefaultListenDuration
	}
	clip, err := a.recorder.Record(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return a.Dictate(ctx, clip)
}

// Dictate transcribes a recorded clip and sends the transcript as a chat
// message.
func (a *App) Dictate(ctx context.Context, clip audio.Clip) (*Exchange, error) {
	if len(clip.Data) == 0 {
		return nil, llm.ErrInvalidRequest
	}
	text, err := a.transcriber.Transcribe(ctx, clip)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	a.log.Info("voice input transcribed", zap.Duration("clip", clip.Duration), zap.Int("chars", len(text)))
	return a.Chat(ctx, text)
}

// OpenCamera asks for camera access, switches to Camera mode and opens a
// stream. An already open stream is kept.
func (a *App) OpenCamera(ctx context.Context) error {
	if a.camera == nil {
		return fmt.Errorf("camera: %w", capture.ErrClosed)
	}
	if err := a.gate.Request(ctx, permission.Camera); err != nil {
		return err
	}
	if _, err := a.modes.Switch(mode.Camera); err != nil {
		return err
	}

	a.camMu.Lock()
	defer a.camMu.Unlock()
	if a.stream != nil {
		return nil
	}
	s, err := a.camera.Open(ctx)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	a.stream = s
	a.lastFrame = nil
	a.log.Info("camera opened")
	return nil
}

// CameraOpen reports whether a camera stream is open.
func (a *App) CameraOpen() bool {
	a.camMu.Lock()
	defer a.camMu.Unlock()
	return a.stream != nil
}

// Preview streams frames from the open camera to fn until ctx is done or fn
// fails.
func (a *App) Preview(ctx context.Context, fps int, fn func(capture.Frame) error) error {
	a.camMu.Lock()
	s := a.stream
	a.camMu.Unlock()
	if s == nil {
		return ErrNoCamera
	}
	return capture.Preview(ctx, s, fps, fn)
}

// Capture takes one frame from the open stream and closes the stream. The
// frame is kept for Roast.
func (a *App) Capture(ctx context.Context) (capture.Frame, error) {
	a.camMu.Lock()
	defer a.camMu.Unlock()
	if a.stream == nil {
		return capture.Frame{}, ErrNoCamera
	}
	frame, err := a.stream.Capture(ctx)
	if err != nil {
		return capture.Frame{}, fmt.Errorf("capture: %w", err)
	}
	if err := a.stream.Close(); err != nil {
		a.log.Warn("closing camera after capture", zap.Error(err))
	}
	a.stream = nil
	a.lastFrame = &frame
	return frame, nil
}

// CloseCamera releases the open stream, if any.
func (a *App) CloseCamera() error {
	a.camMu.Lock()
	defer a.camMu.Unlock()
	if a.stream == nil {
		return nil
	}
	err := a.stream.Close()
	a.stream = nil
	a.log.Info("camera closed")
	return err
}

// Roast sends the last captured frame to the vision model.
func (a *App) Roast(ctx context.Context) (*Roast, error) {
	a.camMu.Lock()
	frame := a.lastFrame
	a.camMu.Unlock()
	if frame == nil {
		return nil, ErrNoFrame
	}
	return a.RoastImage(ctx, *frame)
}

// RoastImage sends frame to the vision model with the roast prompt, without
// tools or history. The picture and the roast are appended to the
// conversation. On a backend failure the apology is returned alongside the
// error.
func (a *App) RoastImage(ctx context.Context, frame capture.Frame) (*Roast, error) {
	if len(frame.Data) == 0 {
		return nil, llm.ErrInvalidRequest
	}
	if !a.turn.TryLock() {
		return nil, ErrBusy
	}
	defer a.turn.Unlock()

	reply, err := a.gateway.Send(ctx, llm.Request{
		Text:       llm.RoastPrompt,
		Attachment: &llm.Attachment{MIMEType: frame.MIMEType, Data: frame.Data},
	})
	if err != nil {
		a.log.Warn("roast request failed", redact.Err(err))
	}
	r := &Roast{Frame: frame, Text: llm.DisplayText(reply, err)}
	if reply != nil && err == nil {
		r.Model = reply.Model
	}

	img := &chatmem.Image{MIMEType: frame.MIMEType, Data: frame.Data}
	if _, appendErr := a.conv.AppendImage(chatmem.RoleUser, roastUserText, img); appendErr != nil {
		return nil, appendErr
	}
	if _, appendErr := a.conv.Append(chatmem.RoleAssistant, r.Text); appendErr != nil {
		return nil, appendErr
	}
	if a.opts.SpeakReplies {
		a.speakInBackground(r.Text)
	}
	return r, err
}

// Notes generates study notes for topic and keeps them for ExportNotes.
func (a *App) Notes(ctx context.Context, topic string) (*notes.Notes, error) {
	n, err := a.notes.Generate(ctx, topic)
	if err != nil {
		return nil, err
	}
	a.notesMu.Lock()
	a.lastNotes = n
	a.notesMu.Unlock()
	return n, nil
}

// ExportNotes renders the last generated notes as a printable page and
// returns a suggested file name with it.
func (a *App) ExportNotes() (string, []byte, error) {
	a.notesMu.Lock()
	n := a.lastNotes
	a.notesMu.Unlock()
	if n == nil {
		return "", nil, ErrNoNotes
	}
	page, err := notes.Export(n)
	if err != nil {
		return "", nil, err
	}
	return notes.Filename(n.Topic), page, nil
}

// Weather locates the user and fetches the current weather.
func (a *App) Weather(ctx context.Context) weather.Report {
	return a.weather.Refresh(ctx)
}

// WeatherWatcher returns a watcher refreshing the weather every interval.
func (a *App) WeatherWatcher(interval time.Duration, onUpdate func(weather.Report)) *weather.Watcher {
	return &weather.Watcher{Service: a.weather, Interval: interval, OnUpdate: onUpdate}
}

// LastWeather returns the most recent weather report, if any.
func (a *App) LastWeather() (weather.Report, bool) {
	return a.weather.Last()
}

// Devices returns a snapshot of every device.
func (a *App) Devices() []devices.Device {
	return a.devices.Snapshot()
}

// SubscribeDevices delivers a snapshot after every device change. Call the
// returned function to stop.
func (a *App) SubscribeDevices() (<-chan []devices.Device, func()) {
	return a.devices.Subscribe()
}

// ToggleDevice flips a device on or off.
func (a *App) ToggleDevice(id string) (devices.Device, error) {
	d, err := a.devices.Toggle(id)
	if err == nil {
		a.log.Info("device toggled", zap.String("id", id), zap.Bool("on", d.On))
	}
	return d, err
}

// SetDeviceValue sets a thermostat's target value.
func (a *App) SetDeviceValue(id string, v float64) (devices.Device, error) {
	d, err := a.devices.SetValue(id, v)
	if err == nil {
		a.log.Info("device value set", zap.String("id", id), zap.Float64("value", v))
	}
	return d, err
}

// ClearChat empties the conversation and its persisted copy.
func (a *App) ClearChat() {
	a.conv.Clear()
}

// History returns the conversation in order.
func (a *App) History() []chatmem.Message {
	return a.conv.Messages()
}

// Mode returns the active mode.
func (a *App) Mode() mode.Mode {
	return a.modes.Current()
}

// SwitchMode changes the active mode and returns the previous one. Requests
// already in flight are not cancelled.
func (a *App) SwitchMode(m mode.Mode) (mode.Mode, error) {
	prev, err := a.modes.Switch(m)
	if err == nil && prev != m {
		a.log.Info("mode switched", zap.Stringer("from", prev), zap.Stringer("to", m))
	}
	return prev, err
}

// Backend returns the name of the model backend.
func (a *App) Backend() string {
	return a.gateway.BackendName()
}

// Health checks the model backend.
func (a *App) Health(ctx context.Context) (*llm.HealthResult, error) {
	return a.gateway.Health(ctx)
}

// Speak says text with the saved speech preferences, interrupting anything
// already being said.
func (a *App) Speak(ctx context.Context, text string) error {
	if a.speaker == nil {
		return speech.ErrNoEngine
	}
	p := a.prefs.Speech(ctx)
	if p.Voice != "" {
		if voices, err := a.speaker.Voices(ctx); err == nil {
			p = p.ResolveVoice(speech.VoiceIDs(voices))
		}
	}
	return a.speaker.Speak(ctx, text, p)
}

// SpeakAsync starts saying text and returns at once. The utterance ends
// early on StopSpeaking, a later Speak or Close.
func (a *App) SpeakAsync(text string) error {
	if a.speaker == nil {
		return speech.ErrNoEngine
	}
	if strings.TrimSpace(text) == "" {
		return llm.ErrInvalidRequest
	}
	if !a.speakInBackground(text) {
		return ErrClosed
	}
	return nil
}

// StopSpeaking cuts off the current utterance.
func (a *App) StopSpeaking() {
	if a.speaker != nil {
		a.speaker.Stop()
	}
}

// speakInBackground reports false when the app is closed or has no speaker.
func (a *App) speakInBackground(text string) bool {
	if a.speaker == nil {
		return false
	}
	a.bgMu.Lock()
	if a.closed {
		a.bgMu.Unlock()
		return false
	}
	a.bgWG.Add(1)
	a.bgMu.Unlock()
	go func() {
		defer a.bgWG.Done()
		err := a.Speak(a.bg, text)
		if err != nil && !errors.Is(err, speech.ErrInterrupted) {
			a.log.Warn("speaking reply", zap.Error(err))
		}
	}()
	return true
}

// SpeechPreferences returns the saved speech settings.
func (a *App) SpeechPreferences(ctx context.Context) prefs.Speech {
	return a.prefs.Speech(ctx)
}

// UpdateSpeechPreferences clamps and saves s.
func (a *App) UpdateSpeechPreferences(ctx context.Context, s prefs.Speech) (prefs.Speech, error) {
	return a.prefs.SaveSpeech(ctx, s)
}

// Voices lists the installed English voices.
func (a *App) Voices(ctx context.Context) ([]speech.Voice, error) {
	if a.speaker == nil {
		return nil, speech.ErrNoEngine
	}
	return a.speaker.Voices(ctx)
}

// Close releases the camera, stops speech and writes the conversation out.
func (a *App) Close() error {
	camErr := a.CloseCamera()
	a.bgMu.Lock()
	a.closed = true
	a.bgMu.Unlock()
	a.bgCancel()
	a.StopSpeaking()
	a.bgWG.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	flushErr := a.conv.Flush(ctx)
	a.conv.Close()
	return errors.Join(camErr, flushErr)
}
