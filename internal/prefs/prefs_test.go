package prefs

import (
	"context"
	"math"
	"testing"

	"github.com/neuna/neuna/internal/kvstore"
)

func TestClamp(t *testing.T) {
	got := Speech{Rate: 5, Pitch: 0.1, Volume: -1}.Clamp()
	want := Speech{Rate: MaxRate, Pitch: MinPitch, Volume: MinVolume}
	if got != want {
		t.Errorf("Clamp = %+v, want %+v", got, want)
	}
	if got := (Speech{Rate: math.NaN(), Pitch: 1.2, Volume: 0.4}).Clamp(); got.Rate != 1 || got.Pitch != 1.2 || got.Volume != 0.4 {
		t.Errorf("Clamp = %+v", got)
	}
}

func TestResolveVoice(t *testing.T) {
	voices := []string{"Samantha", "Daniel"}

	if got := (Speech{Voice: "Daniel"}).ResolveVoice(voices); got.Voice != "Daniel" {
		t.Errorf("saved voice replaced: %q", got.Voice)
	}
	if got := (Speech{Voice: "Gone"}).ResolveVoice(voices); got.Voice != "Samantha" {
		t.Errorf("fallback = %q, want first voice", got.Voice)
	}
	if got := (Speech{Voice: "Gone"}).ResolveVoice(nil); got.Voice != "Gone" {
		t.Errorf("no voices should leave the setting: %q", got.Voice)
	}
}

func TestStoreDefaultsAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kvstore.NewMemStore(), nil)

	if got := s.Speech(ctx); got != DefaultSpeech() {
		t.Errorf("empty store = %+v", got)
	}

	saved, err := s.SaveSpeech(ctx, Speech{Voice: "Daniel", Rate: 3, Pitch: 1.5, Volume: 0.5})
	if err != nil {
		t.Fatalf("SaveSpeech: %v", err)
	}
	if saved.Rate != MaxRate {
		t.Errorf("saved rate = %v, want clamped", saved.Rate)
	}
	if got := s.Speech(ctx); got != saved {
		t.Errorf("Speech = %+v, want %+v", got, saved)
	}
}

func TestStoreCorruptGivesDefaults(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	kv.Put(ctx, SpeechKey, []byte("{not json"))

	if got := NewStore(kv, nil).Speech(ctx); got != DefaultSpeech() {
		t.Errorf("Speech = %+v, want defaults", got)
	}
}

func TestStorePartialKeepsDefaults(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	kv.Put(ctx, SpeechKey, []byte(`{"voiceURI":"Karen"}`))

	got := NewStore(kv, nil).Speech(ctx)
	if got.Voice != "Karen" || got.Rate != 1 || got.Volume != 1 {
		t.Errorf("Speech = %+v", got)
	}
}
