package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/charlie/internal/voice"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {"deepgram", "whisper", "whisper-native", "openai"},
	"tts":       {"elevenlabs", "coqui"},
	"responder": {ResponderLLM, ResponderRemote},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMaxConversations = 16
	DefaultAssistantName    = "Charlie"
	DefaultPersona          = "You are {name}, a friendly voice assistant. Answer in one to three short spoken sentences without markdown."
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxConversations == 0 {
		cfg.Server.MaxConversations = DefaultMaxConversations
	}
	if cfg.Providers.Responder.Name == "" {
		cfg.Providers.Responder.Name = ResponderLLM
	}
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = DefaultAssistantName
	}
	if cfg.Assistant.Persona == "" {
		cfg.Assistant.Persona = DefaultPersona
	}

	d := voice.DefaultConfig()
	v := &cfg.Voice
	setDefault(&v.VoiceThreshold, d.VoiceThreshold)
	setDefault(&v.SilenceThreshold, d.SilenceThreshold)
	setDefault(&v.VoiceFrames, d.VoiceFrames)
	setDefault(&v.SilenceFrames, d.SilenceFrames)
	setDefault(&v.SilenceDuration, d.SilenceDuration)
	setDefault(&v.MaxRecording, d.MaxRecording)
	setDefault(&v.SampleInterval, d.SampleInterval)
	setDefault(&v.LevelInterval, d.LevelInterval)
	setDefault(&v.MinUtteranceBytes, d.MinUtteranceBytes)
	setDefault(&v.ResumeDelay, d.ResumeDelay)
	setDefault(&v.NoticeTTL, d.NoticeTTL)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConversations < 0 {
		errs = append(errs, fmt.Errorf("server.max_conversations %d must not be negative", cfg.Server.MaxConversations))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("llm", cfg.Providers.LLM)
	validateProviderName("tts", cfg.Providers.TTS)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	switch cfg.Providers.Responder.Name {
	case ResponderLLM:
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("providers.responder \"llm\" requires providers.llm to be configured"))
		}
		if cfg.Providers.TTS.Name == "" {
			slog.Warn("providers.tts is not configured; the assistant will answer with text only")
		}
	case ResponderRemote:
		if cfg.Providers.Responder.BaseURL == "" {
			errs = append(errs, errors.New("providers.responder.base_url is required for the remote responder"))
		}
	default:
		errs = append(errs, fmt.Errorf("providers.responder.name %q is invalid; valid values: llm, remote", cfg.Providers.Responder.Name))
	}

	// Voice
	if err := cfg.Voice.Engine().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Assistant
	if c := cfg.Assistant.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("assistant.min_confidence %.2f is out of range [0, 1]", c))
	}
	if t := cfg.Assistant.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; conversation messages are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry or one of its fallbacks
// names a provider missing from the [ValidProviderNames] list for kind.
func validateProviderName(kind string, entry ProviderEntry) {
	for _, e := range append([]ProviderEntry{entry}, entry.Fallbacks...) {
		if e.Name == "" || slices.Contains(ValidProviderNames[kind], e.Name) {
			continue
		}
		slog.Warn("unknown provider name; may be a typo or third-party provider",
			"kind", kind,
			"name", e.Name,
			"known", ValidProviderNames[kind],
		)
	}
}
