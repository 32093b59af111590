package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"deepgram", "whisper"},
	"llm": {"openai", "anyllm"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Provider presence: every session needs all three adapter kinds wired.
	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// Session timing/threshold sanity ranges.
	s := cfg.Session
	if s.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout %v must be non-negative", s.IdleTimeout))
	}
	if s.LLMFirstTokenDeadline <= 0 {
		errs = append(errs, fmt.Errorf("session.llm_first_token_deadline %v must be positive", s.LLMFirstTokenDeadline))
	}
	if s.TTSFirstChunkDeadline <= 0 {
		errs = append(errs, fmt.Errorf("session.tts_first_chunk_deadline %v must be positive", s.TTSFirstChunkDeadline))
	}
	if s.TurnDeadline <= 0 {
		errs = append(errs, fmt.Errorf("session.turn_deadline %v must be positive", s.TurnDeadline))
	}
	if s.SegmenterMaxChars <= 0 {
		errs = append(errs, fmt.Errorf("session.segmenter_max_chars %d must be positive", s.SegmenterMaxChars))
	}
	if s.BargeInDwellFrames <= 0 {
		errs = append(errs, fmt.Errorf("session.bargein_dwell_frames %d must be positive", s.BargeInDwellFrames))
	}
	if s.OutboundPCMBlockBound <= 0 {
		errs = append(errs, fmt.Errorf("session.outbound_pcm_block_bound %v must be positive", s.OutboundPCMBlockBound))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
