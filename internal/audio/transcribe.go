package audio

import (
	"context"
	"errors"
	"strings"

	"github.com/neuna/neuna/internal/llm"
)

// ErrNoSpeech is returned when a clip held nothing intelligible.
var ErrNoSpeech = errors.New("no speech recognized")

// Sender sends one request to the model.
type Sender interface {
	Send(ctx context.Context, req llm.Request) (*llm.Reply, error)
}

// Transcriber turns clips into text with the audio model.
type Transcriber struct {
	gateway Sender
}

// NewTranscriber returns a transcriber sending clips through gateway.
func NewTranscriber(gateway Sender) *Transcriber {
	return &Transcriber{gateway: gateway}
}

// Transcribe returns what was said in clip.
func (t *Transcriber) Transcribe(ctx context.Context, clip Clip) (string, error) {
	reply, err := t.gateway.Send(ctx, llm.Request{
		Text:              llm.TranscribePrompt,
		Attachment:        &llm.Attachment{MIMEType: clip.MIMEType, Data: clip.Data},
		SystemInstruction: llm.TranscribeInstruction,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(reply.Text)
	if reply.Silent || text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
