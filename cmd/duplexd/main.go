// Command duplexd is the main entry point for the duplexd dialogue server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/internal/health"
	"github.com/arcvox/duplexd/internal/observe"
	"github.com/arcvox/duplexd/internal/registry"
	"github.com/arcvox/duplexd/internal/resilience"
	"github.com/arcvox/duplexd/internal/server"
	"github.com/arcvox/duplexd/internal/transcript"
	"github.com/arcvox/duplexd/internal/transcript/phonetic"
	"github.com/arcvox/duplexd/pkg/provider/asr"
	"github.com/arcvox/duplexd/pkg/provider/asr/deepgram"
	"github.com/arcvox/duplexd/pkg/provider/asr/whisper"
	"github.com/arcvox/duplexd/pkg/provider/llm"
	"github.com/arcvox/duplexd/pkg/provider/llm/anyllm"
	oallm "github.com/arcvox/duplexd/pkg/provider/llm/openai"
	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/provider/tts/elevenlabs"
	otts "github.com/arcvox/duplexd/pkg/provider/tts/openai"
	"github.com/arcvox/duplexd/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "duplexd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "duplexd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("duplexd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "duplexd"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	asrProv, llmProv, ttsProv, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// Every adapter category talks to a flaky external service, so each one
	// gets its own single-entry fallback group purely for the circuit
	// breaker: a provider that starts failing consistently trips open and
	// stops taking new sessions until ResetTimeout elapses.
	asrResilient := resilience.NewASRFallback(asrProv, cfg.Providers.ASR.Name, resilience.FallbackConfig{})
	llmResilient := resilience.NewLLMFallback(llmProv, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	ttsResilient := resilience.NewTTSFallback(ttsProv, cfg.Providers.TTS.Name, resilience.FallbackConfig{})

	corrector := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))

	sessions := registry.New()

	factory := func(r *http.Request) (server.SessionParams, error) {
		return server.SessionParams{
			ASR:        asrResilient,
			LLM:        llmResilient,
			TTS:        ttsResilient,
			ASRName:    cfg.Providers.ASR.Name,
			LLMName:    cfg.Providers.LLM.Name,
			TTSName:    cfg.Providers.TTS.Name,
			Voice:      types.VoiceProfile{ID: r.URL.Query().Get("voice")},
			Language:   r.URL.Query().Get("language"),
			Vocabulary: cfg.Session.Vocabulary,
			Corrector:  corrector,
		}, nil
	}

	healthHandler := health.New(
		health.Checker{Name: "asr", Check: providerReachable(asrProv)},
		health.Checker{Name: "llm", Check: llmReachable(llmProv)},
		health.Checker{Name: "tts", Check: ttsReachable(ttsProv)},
		health.Checker{Name: "sessions", Check: registryCapacity(sessions)},
	)

	srv := server.New(factory, sessions, healthHandler, metrics, cfg.Session)

	mux := srv.Mux()
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErrCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		slog.Error("listen error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Readiness checks ─────────────────────────────────────────────────────

// providerReachable reports the ASR adapter as ready as long as one was
// configured. Probing it for real would mean opening and tearing down a
// live streaming session on every /readyz poll, which is worse than the
// failure mode it's meant to catch.
func providerReachable(p asr.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("asr provider not configured")
		}
		return nil
	}
}

// llmReachable exercises the provider's tokenizer, a local call that still
// proves the adapter was constructed with a working model config.
func llmReachable(p llm.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("llm provider not configured")
		}
		_, err := p.CountTokens(nil)
		return err
	}
}

// ttsReachable calls ListVoices, a cheap read-only request that round-trips
// to the real backend for adapters that back it with an HTTP API.
func ttsReachable(p tts.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("tts provider not configured")
		}
		_, err := p.ListVoices(ctx)
		return err
	}
}

// registryCapacity reports the session registry as ready as long as it can
// answer Len() without blocking; a stuck registry lock would hang here.
func registryCapacity(reg *registry.Registry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		reg.Len()
		return nil
	}
}

// ── Provider wiring ──────────────────────────────────────────────────────

var builtinProviders = map[string][]string{
	"asr": {"deepgram", "whisper"},
	"llm": {"openai", "anyllm"},
	"tts": {"openai", "elevenlabs"},
}

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		providerName := optString(entry.Options, "backend")
		if providerName == "" {
			providerName = "openai"
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(providerName, entry.Model, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []otts.Option
		if entry.Model != "" {
			opts = append(opts, otts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "default_voice"); voice != "" {
			opts = append(opts, otts.WithDefaultVoice(voice))
		}
		return otts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func buildProviders(cfg *config.Config, reg *config.Registry) (asr.Provider, llm.Provider, tts.Provider, error) {
	asrProv, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)

	llmProv, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	ttsProv, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	return asrProv, llmProv, ttsProv, nil
}

// ── Startup summary ──────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        duplexd — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Printf("║  Idle timeout    : %-19s ║\n", cfg.Session.IdleTimeout)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ───────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ──────────────────────────────────────────────────────────────

func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
