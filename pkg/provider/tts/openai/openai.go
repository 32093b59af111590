// Package openai provides a TTS provider backed by the OpenAI Audio Speech
// API. Unlike ElevenLabs' persistent streaming socket, OpenAI synthesises one
// HTTP request per text fragment; this provider issues one request per
// sentence received on the text channel, which lines up naturally with the
// Sentence Segmenter's output granularity and keeps synthesis latency low
// without requiring a long-lived connection.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/types"
)

const (
	defaultModel        = "tts-1"
	defaultResponseCh   = "pcm"
	defaultChunkBytes   = 4096
	defaultDefaultVoice = "alloy"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the OpenAI TTS model (e.g., "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithDefaultVoice sets the voice used when a requested VoiceProfile has no ID.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.defaultVoice = voice }
}

// Provider implements tts.Provider backed by the OpenAI Audio Speech API.
type Provider struct {
	client       oai.Client
	model        string
	defaultVoice string
}

// New constructs a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		client:       oai.NewClient(option.WithAPIKey(apiKey)),
		model:        defaultModel,
		defaultVoice: defaultDefaultVoice,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SynthesizeStream implements tts.Provider. It issues one speech request per
// text fragment received from the input channel and streams each response's
// raw PCM body onto the output channel in chunks of at most defaultChunkBytes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan tts.AudioChunk, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	audioCh := make(chan tts.AudioChunk, 64)
	go func() {
		defer close(audioCh)
		// Always drain text on the way out so a caller still feeding segments
		// in (runTurn's emit) is never left blocked on a send nobody reads.
		defer func() {
			for range text {
			}
		}()
		for {
			select {
			case sentence, ok := <-text:
				if !ok {
					return
				}
				if sentence == "" {
					continue
				}
				if err := p.synthesizeOne(ctx, sentence, voiceID, audioCh); err != nil {
					if ctx.Err() == nil {
						select {
						case audioCh <- tts.AudioChunk{Err: fmt.Errorf("openai: %w", err)}:
						case <-ctx.Done():
						}
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// synthesizeOne sends a single speech request and streams its PCM body onto ch.
func (p *Provider) synthesizeOne(ctx context.Context, text, voiceID string, ch chan<- tts.AudioChunk) error {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(defaultResponseCh),
	})
	if err != nil {
		return fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, defaultChunkBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch <- tts.AudioChunk{Data: chunk}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// ListVoices returns OpenAI's fixed catalogue of built-in voices. OpenAI does
// not expose a voice-listing endpoint; the set is a closed, documented list.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	names := []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	profiles := make([]types.VoiceProfile, 0, len(names))
	for _, n := range names {
		profiles = append(profiles, types.VoiceProfile{ID: n, Name: n, Provider: "openai"})
	}
	return profiles, nil
}

// CloneVoice is not supported by the OpenAI Audio Speech API.
func (p *Provider) CloneVoice(_ context.Context, _ [][]byte) (*types.VoiceProfile, error) {
	return nil, errors.New("openai: voice cloning is not supported")
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
