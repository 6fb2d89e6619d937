// Command charlie is the main entry point for the Charlie voice assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/charlie/internal/app"
	"github.com/MrWong99/charlie/internal/config"
	"github.com/MrWong99/charlie/internal/dialogue"
	"github.com/MrWong99/charlie/internal/dialogue/remote"
	"github.com/MrWong99/charlie/internal/health"
	"github.com/MrWong99/charlie/internal/observe"
	"github.com/MrWong99/charlie/internal/resilience"
	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/store/postgres"
	"github.com/MrWong99/charlie/internal/transcript"
	"github.com/MrWong99/charlie/pkg/provider/llm"
	"github.com/MrWong99/charlie/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/charlie/pkg/provider/llm/openai"
	"github.com/MrWong99/charlie/pkg/provider/stt"
	"github.com/MrWong99/charlie/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/charlie/pkg/provider/stt/openai"
	"github.com/MrWong99/charlie/pkg/provider/stt/whisper"
	"github.com/MrWong99/charlie/pkg/provider/tts"
	"github.com/MrWong99/charlie/pkg/provider/tts/coqui"
	"github.com/MrWong99/charlie/pkg/provider/tts/elevenlabs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// httpTimeout bounds calls of the HTTP based providers.
const httpTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "charlie: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "charlie: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("charlie starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   httpTimeout,
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Assistant, httpClient)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer ps.close()

	pipeline, err := buildPipeline(cfg, ps, metrics, httpClient)
	if err != nil {
		slog.Error("failed to build dialogue pipeline", "err", err)
		return 1
	}

	// ── Message store ─────────────────────────────────────────────────────────
	deps := app.Deps{
		Pipeline: pipeline,
		Store:    store.NewMemory(),
		Metrics:  metrics,
		Checkers: ps.checkers(),
	}
	var appOpts []app.Option
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open message store", "err", err)
			return 1
		}
		deps.Store = pg
		deps.Checkers = append(deps.Checkers, health.PingChecker("postgres", pg))
		appOpts = append(appOpts, app.WithCloser(func() error {
			pg.Close()
			return nil
		}))
		slog.Info("message store connected", "backend", "postgres")
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, deps, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Changed() && !d.RestartRequired {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if err := application.Reload(d, new); err != nil {
			slog.Warn("config reload failed", "err", err)
		}
		if d.AssistantChanged {
			p, err := buildPipeline(new, ps, metrics, httpClient)
			if err != nil {
				slog.Warn("assistant reload failed", "err", err)
			} else {
				application.Sessions().SetPipeline(p)
				slog.Info("assistant reloaded", "persona_changed", d.PersonaChanged, "keywords_changed", d.KeywordsChanged)
			}
		}
		if d.RestartRequired {
			slog.Warn("config changes to server, providers or store take effect after a restart")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. Recognizers that support
// vocabulary hints are biased toward the assistant's keywords.
func registerBuiltinProviders(reg *config.Registry, assistant config.AssistantConfig, hc *http.Client) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai is served by the official SDK client.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if n, ok := entry.OptInt("max_retries"); ok {
			opts = append(opts, oaillm.WithMaxRetries(n))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	keywords := assistant.AllKeywords()

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if len(keywords) > 0 {
			boosts := make([]stt.KeywordBoost, len(keywords))
			for i, k := range keywords {
				boosts[i] = stt.KeywordBoost{Keyword: k, Boost: assistant.KeywordBoost}
			}
			opts = append(opts, deepgram.WithKeywords(boosts))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if len(keywords) > 0 {
			opts = append(opts, oaistt.WithPrompt(strings.Join(keywords, ", ")))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := entry.OptInt("output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// providers holds the failover groups built from the configuration. llm and
// tts are nil when not configured.
type providers struct {
	stt *resilience.STTFallback
	llm *resilience.LLMFallback
	tts *resilience.TTSFallback

	closers []io.Closer
}

// buildProviders instantiates all providers named in cfg, each wrapped in a
// failover group with its configured fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}
	fcfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
		},
	}}

	sttChain, names, err := createChain(ps, "stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		ps.close()
		return nil, err
	}
	ps.stt = resilience.NewSTTFallback(sttChain[0], names[0], fcfg)
	for i := 1; i < len(sttChain); i++ {
		ps.stt.AddFallback(names[i], sttChain[i])
	}

	if cfg.Providers.LLM.Name != "" {
		chain, names, err := createChain(ps, "llm", cfg.Providers.LLM, reg.CreateLLM)
		if err != nil {
			ps.close()
			return nil, err
		}
		ps.llm = resilience.NewLLMFallback(chain[0], names[0], fcfg)
		for i := 1; i < len(chain); i++ {
			ps.llm.AddFallback(names[i], chain[i])
		}
	}

	if cfg.Providers.TTS.Name != "" {
		chain, names, err := createChain(ps, "tts", cfg.Providers.TTS, reg.CreateTTS)
		if err != nil {
			ps.close()
			return nil, err
		}
		ps.tts = resilience.NewTTSFallback(chain[0], names[0], fcfg)
		for i := 1; i < len(chain); i++ {
			ps.tts.AddFallback(names[i], chain[i])
		}
	}
	return ps, nil
}

// createChain creates entry and its fallbacks in failover order. Providers
// holding resources are remembered for ps.close.
func createChain[T any](ps *providers, kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]T, []string, error) {
	entries := append([]config.ProviderEntry{entry}, entry.Fallbacks...)
	chain := make([]T, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		p, err := create(e)
		if err != nil {
			return nil, nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		}
		if c, ok := any(p).(io.Closer); ok {
			ps.closers = append(ps.closers, c)
		}
		chain = append(chain, p)
		names = append(names, e.Name)
		slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
	}
	return chain, names, nil
}

// checkers returns a readiness check per configured provider group.
func (ps *providers) checkers() []health.Checker {
	c := []health.Checker{health.ProviderChecker("stt", ps.stt)}
	if ps.llm != nil {
		c = append(c, health.ProviderChecker("llm", ps.llm))
	}
	if ps.tts != nil {
		c = append(c, health.ProviderChecker("tts", ps.tts))
	}
	return c
}

func (ps *providers) close() {
	for _, c := range ps.closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
	ps.closers = nil
}

// buildResponder creates the responder selected by providers.responder.
func buildResponder(cfg *config.Config, ps *providers, hc *http.Client) (dialogue.Responder, error) {
	if cfg.Providers.Responder.Name == config.ResponderRemote {
		entry := cfg.Providers.Responder
		opts := []remote.Option{remote.WithHTTPClient(hc)}
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		return remote.New(entry.BaseURL, opts...)
	}

	if ps.llm == nil {
		return nil, errors.New("the llm responder needs providers.llm")
	}
	var opts []dialogue.LLMOption
	if ps.tts != nil {
		opts = append(opts, dialogue.WithSpeech(ps.tts, tts.Voice{ID: cfg.Assistant.VoiceID}))
	}
	return dialogue.NewLLMResponder(ps.llm, dialogue.LLMConfig{
		Name:        cfg.Assistant.Name,
		Persona:     cfg.Assistant.Persona,
		Temperature: cfg.Assistant.Temperature,
		MaxTokens:   cfg.Assistant.MaxTokens,
	}, opts...)
}

// buildPipeline assembles the dialogue pipeline for the assistant settings
// of cfg on top of the shared providers.
func buildPipeline(cfg *config.Config, ps *providers, metrics *observe.Metrics, hc *http.Client) (*dialogue.Pipeline, error) {
	responder, err := buildResponder(cfg, ps, hc)
	if err != nil {
		return nil, err
	}
	return dialogue.NewPipeline(ps.stt, responder,
		dialogue.WithCorrector(transcript.NewCorrector(cfg.Assistant.AllKeywords())),
		dialogue.WithMinConfidence(cfg.Assistant.MinConfidence),
		dialogue.WithLatencyObserver(app.ProviderLatency(metrics)),
	)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Charlie: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Responder", cfg.Providers.Responder.Name, "")
	fmt.Printf("║  Assistant       : %-19s ║\n", truncate(cfg.Assistant.Name))
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Message store   : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Message store   : %-19s ║\n", "memory")
	}
	fmt.Printf("║  Max convos      : %-19d ║\n", cfg.Server.MaxConversations)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", truncate(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
