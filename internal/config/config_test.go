package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/pkg/provider/asr"
	"github.com/arcvox/duplexd/pkg/provider/llm"
	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  asr:
    name: deepgram
    api_key: dg-test
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  tts:
    name: elevenlabs
    api_key: el-test

session:
  idle_timeout: 5m
  turn_deadline: 30s
  vocabulary:
    - Eldrinax
    - Glyphoxa
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Providers.ASR.Name != "deepgram" {
		t.Errorf("providers.asr.name: got %q, want %q", cfg.Providers.ASR.Name, "deepgram")
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers.llm.name: got %q, want %q", cfg.Providers.LLM.Name, "openai")
	}
	if cfg.Providers.TTS.Name != "elevenlabs" {
		t.Errorf("providers.tts.name: got %q, want %q", cfg.Providers.TTS.Name, "elevenlabs")
	}
	if len(cfg.Session.Vocabulary) != 2 {
		t.Fatalf("session.vocabulary: got %d entries, want 2", len(cfg.Session.Vocabulary))
	}
}

func TestLoadFromReader_MissingRequiredFields(t *testing.T) {
	// An empty config is missing listen_addr and all three provider names.
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
  log_level: verbose
providers:
  asr: {name: deepgram}
  llm: {name: openai}
  tts: {name: elevenlabs}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingListenAddr(t *testing.T) {
	yaml := `
providers:
  asr: {name: deepgram}
  llm: {name: openai}
  tts: {name: elevenlabs}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing listen_addr, got nil")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error should mention listen_addr, got: %v", err)
	}
}

func TestValidate_MissingProviderName(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
providers:
  llm: {name: openai}
  tts: {name: elevenlabs}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing asr provider name, got nil")
	}
	if !strings.Contains(err.Error(), "providers.asr.name") {
		t.Errorf("error should mention providers.asr.name, got: %v", err)
	}
}

func TestValidate_NegativeTurnDeadline(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
providers:
  asr: {name: deepgram}
  llm: {name: openai}
  tts: {name: elevenlabs}
session:
  turn_deadline: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative turn_deadline, got nil")
	}
}

func TestValidate_UnknownFieldRejected(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
providers:
  asr: {name: deepgram}
  llm: {name: openai}
  tts: {name: elevenlabs}
npcs:
  - name: leftover-field
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownASR(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateASR(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTTS(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

// ── Registry with registered factories ───────────────────────────────────────

func TestRegistry_RegisteredASR(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubASR{}
	reg.RegisterASR("stub", func(e config.ProviderEntry) (asr.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateASR(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubTTS{}
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubASR implements asr.Provider.
type stubASR struct{}

func (s *stubASR) StartStream(_ context.Context, _ asr.StreamConfig) (asr.SessionHandle, error) {
	return nil, nil
}

// stubLLM implements llm.Provider with no-op methods.
type stubLLM struct{}

func (s *stubLLM) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) CountTokens(_ []types.Message) (int, error)   { return 0, nil }
func (s *stubLLM) Capabilities() types.ModelCapabilities        { return types.ModelCapabilities{} }

// stubTTS implements tts.Provider.
type stubTTS struct{}

func (s *stubTTS) SynthesizeStream(_ context.Context, _ <-chan string, _ types.VoiceProfile) (<-chan tts.AudioChunk, error) {
	ch := make(chan tts.AudioChunk)
	close(ch)
	return ch, nil
}
func (s *stubTTS) ListVoices(_ context.Context) ([]types.VoiceProfile, error) { return nil, nil }
func (s *stubTTS) CloneVoice(_ context.Context, _ [][]byte) (*types.VoiceProfile, error) {
	return nil, nil
}
