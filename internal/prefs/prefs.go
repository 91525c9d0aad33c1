// Package prefs persists user preferences.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/kvstore"
)

// SpeechKey is the store key of the speech settings blob.
const SpeechKey = "neuna.speech.settings"

// Slider bounds for speech settings.
const (
	MinRate   = 0.5
	MaxRate   = 2.0
	MinPitch  = 0.5
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

// Speech holds the spoken reply settings. An empty Voice means the
// engine's default.
type Speech struct {
	Voice  string  `json:"voiceURI"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// DefaultSpeech returns the settings used before anything is saved.
func DefaultSpeech() Speech {
	return Speech{Rate: 1, Pitch: 1, Volume: 1}
}

// Clamp brings every slider into range. NaN falls back to the default.
func (s Speech) Clamp() Speech {
	d := DefaultSpeech()
	s.Rate = clamp(s.Rate, MinRate, MaxRate, d.Rate)
	s.Pitch = clamp(s.Pitch, MinPitch, MaxPitch, d.Pitch)
	s.Volume = clamp(s.Volume, MinVolume, MaxVolume, d.Volume)
	return s
}

func clamp(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return math.Min(math.Max(v, lo), hi)
}

// ResolveVoice keeps Voice when it is one of available, and otherwise picks
// the first available voice. With no voices it is left unchanged.
func (s Speech) ResolveVoice(available []string) Speech {
	if len(available) == 0 || slices.Contains(available, s.Voice) {
		return s
	}
	s.Voice = available[0]
	return s
}

// Store reads and writes preferences in a kvstore.
type Store struct {
	kv  kvstore.Store
	log *zap.Logger
}

// NewStore returns a preference store over kv.
func NewStore(kv kvstore.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, log: log.Named("prefs")}
}

// Speech returns the saved speech settings. Missing or unreadable settings
// give the defaults; corruption is logged.
func (s *Store) Speech(ctx context.Context) Speech {
	data, err := s.kv.Get(ctx, SpeechKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return DefaultSpeech()
	}
	if err != nil {
		s.log.Warn("read speech settings", zap.Error(err))
		return DefaultSpeech()
	}

	out := DefaultSpeech()
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn("speech settings corrupt, using defaults", zap.Error(err))
		return DefaultSpeech()
	}
	return out.Clamp()
}

// SaveSpeech clamps and stores sp, returning what was stored.
func (s *Store) SaveSpeech(ctx context.Context, sp Speech) (Speech, error) {
	sp = sp.Clamp()
	data, err := json.Marshal(sp)
	if err != nil {
		return sp, fmt.Errorf("marshal speech settings: %w", err)
	}
	if err := s.kv.Put(ctx, SpeechKey, data); err != nil {
		return sp, fmt.Errorf("save speech settings: %w", err)
	}
	return sp, nil
}
