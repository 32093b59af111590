package config_test

import (
	"strings"
	"testing"

	"github.com/arcvox/duplexd/internal/config"
)

func validYAML() string {
	return `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  asr:
    name: deepgram
    api_key: test-key
  llm:
    name: openai
    api_key: test-key
    model: gpt-4o
  tts:
    name: elevenlabs
    api_key: test-key
`
}

func TestLoadFromReader_Valid_Loader(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.ASR.Name != "deepgram" {
		t.Errorf("asr name = %q, want deepgram", cfg.Providers.ASR.Name)
	}
	if cfg.Session.IdleTimeout != config.DefaultIdleTimeout {
		t.Errorf("idle timeout = %v, want default %v", cfg.Session.IdleTimeout, config.DefaultIdleTimeout)
	}
}

func TestValidate_MissingListenAddr_Loader(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  asr:
    name: deepgram
  llm:
    name: openai
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing listen_addr, got nil")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error should mention listen_addr, got: %v", err)
	}
}

func TestValidate_MissingProviderNames(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing provider names, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"providers.asr.name", "providers.llm.name", "providers.tts.name"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_InvalidLogLevel_Loader(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: verbose
providers:
  asr:
    name: deepgram
  llm:
    name: openai
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_SessionDeadlineMustBePositive(t *testing.T) {
	t.Parallel()
	yaml := validYAML() + `
session:
  turn_deadline: -5s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative turn_deadline, got nil")
	}
	if !strings.Contains(err.Error(), "turn_deadline") {
		t.Errorf("error should mention turn_deadline, got: %v", err)
	}
}

func TestValidate_UnknownFieldRejected_Loader(t *testing.T) {
	t.Parallel()
	yaml := validYAML() + `
npcs:
  - name: Leftover
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "listen_addr") {
		t.Errorf("error should mention listen_addr, got: %v", err)
	}
	if !strings.Contains(errStr, "providers.asr.name") {
		t.Errorf("error should mention providers.asr.name, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
}

func TestSessionConfig_WithDefaultsPreservesSetValues(t *testing.T) {
	t.Parallel()
	yaml := validYAML() + `
session:
  segmenter_max_chars: 240
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.SegmenterMaxChars != 240 {
		t.Errorf("segmenter_max_chars = %d, want 240", cfg.Session.SegmenterMaxChars)
	}
	if cfg.Session.TurnDeadline != config.DefaultTurnDeadline {
		t.Errorf("turn_deadline = %v, want default %v", cfg.Session.TurnDeadline, config.DefaultTurnDeadline)
	}
}
