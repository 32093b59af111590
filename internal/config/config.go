// Package config provides the configuration schema, loader, and provider
// registry for duplexd.
package config

import "time"

// LogLevel controls log verbosity for the duplexd server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for duplexd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds network and logging settings for the duplexd server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	ASR ProviderEntry `yaml:"asr"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SessionConfig holds the per-session timing and threshold knobs named as
// "e.g." values throughout the orchestrator design. All are optional in
// YAML; zero values are replaced with the documented defaults by
// [SessionConfig.WithDefaults].
type SessionConfig struct {
	// IdleTimeout tears a session down after this long with no inbound
	// frames. Default: 10 minutes.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// LLMFirstTokenDeadline bounds how long the orchestrator waits for the
	// first token of a turn's LLM generation. Default: 5s.
	LLMFirstTokenDeadline time.Duration `yaml:"llm_first_token_deadline"`

	// TTSFirstChunkDeadline bounds how long the orchestrator waits for the
	// first PCM chunk of a segment's synthesis. Default: 3s.
	TTSFirstChunkDeadline time.Duration `yaml:"tts_first_chunk_deadline"`

	// TurnDeadline bounds the overall wall-clock duration of one turn from
	// TRANSCRIBED to IDLE. Default: 60s.
	TurnDeadline time.Duration `yaml:"turn_deadline"`

	// SegmenterMaxChars is the hard length bound the Sentence Segmenter
	// flushes a segment at, regardless of punctuation. Default: 180.
	SegmenterMaxChars int `yaml:"segmenter_max_chars"`

	// BargeInEnergyThreshold is the minimum coarse energy value (0-255,
	// from InboundAudioFrame status flags) that counts as candidate speech
	// during playback. Default: 40.
	BargeInEnergyThreshold uint8 `yaml:"bargein_energy_threshold"`

	// BargeInDwellFrames is the number of consecutive above-threshold
	// frames required before a barge-in fires. Default: 2.
	BargeInDwellFrames int `yaml:"bargein_dwell_frames"`

	// OutboundPCMBlockBound is how long a producer will block on a full
	// outbound PCM queue before the session is treated as client-slow and
	// torn down. Default: 200ms.
	OutboundPCMBlockBound time.Duration `yaml:"outbound_pcm_block_bound"`

	// ResetSettleDelay is observed before reopening the ASR handle on a
	// client RESET command, avoiding a close/reopen race against a
	// still-draining adapter socket. Default: 250ms.
	ResetSettleDelay time.Duration `yaml:"reset_settle_delay"`

	// Vocabulary is an optional list of domain-specific terms used by the
	// transcript correction pipeline (see internal/transcript). Empty by
	// default, which makes correction a no-op.
	Vocabulary []string `yaml:"vocabulary"`
}

// Session timing/threshold defaults, named as "e.g." values in the design.
const (
	DefaultIdleTimeout            = 10 * time.Minute
	DefaultLLMFirstTokenDeadline  = 5 * time.Second
	DefaultTTSFirstChunkDeadline  = 3 * time.Second
	DefaultTurnDeadline           = 60 * time.Second
	DefaultSegmenterMaxChars      = 180
	DefaultBargeInEnergyThreshold = 40
	DefaultBargeInDwellFrames     = 2
	DefaultOutboundPCMBlockBound  = 200 * time.Millisecond
	DefaultResetSettleDelay       = 250 * time.Millisecond
)

// WithDefaults returns a copy of c with zero-valued fields replaced by the
// documented package defaults.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.LLMFirstTokenDeadline == 0 {
		c.LLMFirstTokenDeadline = DefaultLLMFirstTokenDeadline
	}
	if c.TTSFirstChunkDeadline == 0 {
		c.TTSFirstChunkDeadline = DefaultTTSFirstChunkDeadline
	}
	if c.TurnDeadline == 0 {
		c.TurnDeadline = DefaultTurnDeadline
	}
	if c.SegmenterMaxChars == 0 {
		c.SegmenterMaxChars = DefaultSegmenterMaxChars
	}
	if c.BargeInEnergyThreshold == 0 {
		c.BargeInEnergyThreshold = DefaultBargeInEnergyThreshold
	}
	if c.BargeInDwellFrames == 0 {
		c.BargeInDwellFrames = DefaultBargeInDwellFrames
	}
	if c.OutboundPCMBlockBound == 0 {
		c.OutboundPCMBlockBound = DefaultOutboundPCMBlockBound
	}
	if c.ResetSettleDelay == 0 {
		c.ResetSettleDelay = DefaultResetSettleDelay
	}
	return c
}
