package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/audio"
	"github.com/neuna/neuna/internal/capture"
	"github.com/neuna/neuna/internal/chatmem"
	"github.com/neuna/neuna/internal/companion"
	"github.com/neuna/neuna/internal/devices"
	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/mode"
	"github.com/neuna/neuna/internal/notes"
	"github.com/neuna/neuna/internal/permission"
	"github.com/neuna/neuna/internal/redact"
	"github.com/neuna/neuna/internal/speech"
	"github.com/neuna/neuna/internal/weather"
)

//go:embed index.html
var staticFS embed.FS

const (
	requestTimeout = 2 * time.Minute
	maxUploadBytes = 10 << 20
)

// WebServer exposes the companion as a JSON API.
type WebServer struct {
	app *companion.App
	log *zap.Logger
}

// NewWebServer returns a server for app.
func NewWebServer(app *companion.App, log *zap.Logger) *WebServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebServer{app: app, log: log.Named("web")}
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatRequest is the JSON request for /api/chat
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatResponse is the JSON response for /api/chat and /api/listen. Error is
// set when Reply is the degraded apology.
type ChatResponse struct {
	Reply     string             `json:"reply"`
	User      chatmem.Message    `json:"user"`
	Message   chatmem.Message    `json:"message"`
	Grounding []llm.GroundingRef `json:"grounding,omitempty"`
	Model     string             `json:"model,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// RoastResponse is the JSON response for /api/roast
type RoastResponse struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// NotesRequest is the JSON request for /api/notes
type NotesRequest struct {
	Topic string `json:"topic"`
}

// WeatherResponse is the JSON response for /api/weather
type WeatherResponse struct {
	Data      *weather.Weather `json:"data,omitempty"`
	Display   string           `json:"display_temperature,omitempty"`
	Sources   []string         `json:"sources"`
	FetchedAt time.Time        `json:"fetched_at"`
	Error     string           `json:"error,omitempty"`
}

// ValueRequest is the JSON request for /api/devices/{id}/value
type ValueRequest struct {
	Value *float64 `json:"value"`
}

// ModeRequest is the JSON body for /api/mode
type ModeRequest struct {
	Mode mode.Mode `json:"mode"`
}

// SpeakRequest is the JSON request for /api/speak
type SpeakRequest struct {
	Text string `json:"text"`
}

// Routes builds the HTTP handler.
func (s *WebServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws/devices", s.handleDeviceFeed)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", s.handleHealth)

		r.Post("/chat", s.handleChat)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/listen", s.handleListen)

		r.Post("/camera/open", s.handleCameraOpen)
		r.Post("/camera/capture", s.handleCameraCapture)
		r.Post("/camera/close", s.handleCameraClose)
		r.Post("/roast", s.handleRoast)

		r.Post("/notes", s.handleNotes)
		r.Get("/notes/export", s.handleNotesExport)

		r.Get("/weather", s.handleWeather)
		r.Get("/devices", s.handleDevices)
		r.Post("/devices/{id}/toggle", s.handleToggleDevice)
		r.Put("/devices/{id}/value", s.handleSetDeviceValue)

		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)

		r.Get("/settings/speech", s.handleGetSpeech)
		r.Put("/settings/speech", s.handleSetSpeech)
		r.Get("/voices", s.handleVoices)
		r.Post("/speak", s.handleSpeak)
		r.Post("/speak/stop", s.handleStopSpeaking)
	})
	return r
}

// requestLogger logs every request with zap.
func (s *WebServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

// handleIndex serves the embedded index.html
func (s *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	content, err := staticFS.ReadFile("index.html")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (s *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Health(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusOK, &llm.HealthResult{Ok: false, Provider: s.app.Backend(), Error: redact.Error(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := detached(r)
	defer cancel()
	ex, err := s.app.Chat(ctx, req.Text)
	s.writeExchange(w, ex, err)
}

// detached gives a model call its own deadline. A client that disconnects
// mid-call leaves the exchange to finish and land in the history.
func detached(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), requestTimeout)
}

// writeExchange answers 200 whenever an exchange was recorded, degraded or
// not, and maps the error otherwise.
func (s *WebServer) writeExchange(w http.ResponseWriter, ex *companion.Exchange, err error) {
	if ex == nil {
		s.writeErr(w, err)
		return
	}
	resp := ChatResponse{
		Reply:     ex.Reply.Text,
		User:      ex.User,
		Message:   ex.Reply,
		Grounding: ex.Grounding,
		Model:     ex.Model,
	}
	if err != nil {
		resp.Error = redact.Error(err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs := s.app.History()
	if msgs == nil {
		msgs = []chatmem.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *WebServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.app.ClearChat()
	w.WriteHeader(http.StatusNoContent)
}

// handleListen transcribes an uploaded "audio" clip, or records from the
// server's microphone for ?seconds=N when none is sent.
func (s *WebServer) handleListen(w http.ResponseWriter, r *http.Request) {
	data, mimeType, ok, err := s.upload(r, "audio")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = "audio/wav"
		}
		ctx, cancel := detached(r)
		defer cancel()
		ex, err := s.app.Dictate(ctx, audio.Clip{MIMEType: mimeType, Data: data})
		s.writeExchange(w, ex, err)
		return
	}

	var d time.Duration
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "seconds must be a positive integer")
			return
		}
		d = time.Duration(n) * time.Second
	}
	ctx, cancel := detached(r)
	defer cancel()
	ex, err := s.app.Listen(ctx, d)
	s.writeExchange(w, ex, err)
}

func (s *WebServer) handleCameraOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.app.OpenCamera(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"open": true, "mode": s.app.Mode()})
}

// handleCameraCapture returns the captured frame as an image.
func (s *WebServer) handleCameraCapture(w http.ResponseWriter, r *http.Request) {
	frame, err := s.app.Capture(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", frame.MIMEType)
	w.Header().Set("X-Frame-Width", strconv.Itoa(frame.Width))
	w.Header().Set("X-Frame-Height", strconv.Itoa(frame.Height))
	w.Write(frame.Data)
}

func (s *WebServer) handleCameraClose(w http.ResponseWriter, r *http.Request) {
	if err := s.app.CloseCamera(); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"open": false})
}

// handleRoast roasts an uploaded "image", or the last captured frame when
// none is sent.
func (s *WebServer) handleRoast(w http.ResponseWriter, r *http.Request) {
	data, _, ok, err := s.upload(r, "image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := detached(r)
	defer cancel()
	var roast *companion.Roast
	if ok {
		frame, decodeErr := capture.Decode(bytes.NewReader(data), capture.Encoding{})
		if decodeErr != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid image: %v", decodeErr))
			return
		}
		roast, err = s.app.RoastImage(ctx, frame)
	} else {
		roast, err = s.app.Roast(ctx)
	}
	if roast == nil {
		s.writeErr(w, err)
		return
	}
	resp := RoastResponse{Text: roast.Text, Model: roast.Model}
	if err != nil {
		resp.Error = redact.Error(err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *WebServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := detached(r)
	defer cancel()
	n, err := s.app.Notes(ctx, req.Topic)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *WebServer) handleNotesExport(w http.ResponseWriter, r *http.Request) {
	name, page, err := s.app.ExportNotes()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Write(page)
}

// handleWeather returns the last report, refreshing when there is none or
// ?refresh=1 is set.
func (s *WebServer) handleWeather(w http.ResponseWriter, r *http.Request) {
	report, ok := s.app.LastWeather()
	if !ok || r.URL.Query().Get("refresh") != "" {
		report = s.app.Weather(r.Context())
	}
	resp := WeatherResponse{
		Data:      report.Data,
		Sources:   report.Sources,
		FetchedAt: report.FetchedAt,
		Error:     report.Message(),
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	if report.Data != nil {
		resp.Display = report.Data.DisplayTemperature()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *WebServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Devices())
}

func (s *WebServer) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.ToggleDevice(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *WebServer) handleSetDeviceValue(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	d, err := s.app.SetDeviceValue(chi.URLParam(r, "id"), *req.Value)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *WebServer) handleGetMode(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModeRequest{Mode: s.app.Mode()})
}

func (s *WebServer) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !s.decode(w, r, &req) {
		return
	}
	prev, err := s.app.SwitchMode(req.Mode)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]mode.Mode{"mode": req.Mode, "previous": prev})
}

func (s *WebServer) handleGetSpeech(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.SpeechPreferences(r.Context()))
}

func (s *WebServer) handleSetSpeech(w http.ResponseWriter, r *http.Request) {
	sp := s.app.SpeechPreferences(r.Context())
	if !s.decode(w, r, &sp) {
		return
	}
	saved, err := s.app.UpdateSpeechPreferences(r.Context(), sp)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *WebServer) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.app.Voices(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if voices == nil {
		voices = []speech.Voice{}
	}
	s.writeJSON(w, http.StatusOK, voices)
}

// handleSpeak starts speaking and returns at once; the utterance outlives
// the request.
func (s *WebServer) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req SpeakRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.app.SpeakAsync(req.Text); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *WebServer) handleStopSpeaking(w http.ResponseWriter, r *http.Request) {
	s.app.StopSpeaking()
	w.WriteHeader(http.StatusNoContent)
}

// upload reads an optional multipart file field. ok is false when the
// request is not multipart or has no such field.
func (s *WebServer) upload(r *http.Request, field string) (data []byte, mimeType string, ok bool, err error) {
	if r.Header.Get("Content-Type") == "" || r.ContentLength == 0 {
		return nil, "", false, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("invalid upload: %w", err)
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("invalid upload: %w", err)
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return nil, "", false, fmt.Errorf("read upload: %w", err)
	}
	return data, hdr.Header.Get("Content-Type"), true, nil
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *WebServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return false
	}
	return true
}

// statusFor maps a companion error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrInvalidRequest),
		errors.Is(err, notes.ErrEmptyTopic),
		errors.Is(err, mode.ErrUnknownMode),
		errors.Is(err, devices.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, permission.ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, devices.ErrNotFound),
		errors.Is(err, companion.ErrNoNotes):
		return http.StatusNotFound
	case errors.Is(err, companion.ErrBusy),
		errors.Is(err, companion.ErrNoCamera),
		errors.Is(err, companion.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, audio.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, speech.ErrNoEngine),
		errors.Is(err, companion.ErrNoMicrophone),
		errors.Is(err, audio.ErrNoRecorder),
		errors.Is(err, capture.ErrClosed),
		errors.Is(err, companion.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *WebServer) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), redact.Err(err))
	}
	s.writeError(w, status, redact.Error(err))
}

// writeJSON writes a JSON response
func (s *WebServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *WebServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
