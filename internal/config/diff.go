package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: voice tuning and
// the assistant persona apply to conversations started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool

	AssistantChanged bool
	PersonaChanged   bool
	KeywordsChanged  bool

	// RestartRequired is true when a field that is only read at startup
	// changed (listen address, TLS, providers, store).
	RestartRequired bool
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.AssistantChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoiceChanged = old.Voice != new.Voice

	oa, na := old.Assistant, new.Assistant
	d.PersonaChanged = oa.Name != na.Name || oa.Persona != na.Persona
	d.KeywordsChanged = !slices.Equal(oa.Keywords, na.Keywords) || oa.KeywordBoost != na.KeywordBoost
	d.AssistantChanged = d.PersonaChanged || d.KeywordsChanged ||
		oa.VoiceID != na.VoiceID ||
		oa.MinConfidence != na.MinConfidence ||
		oa.Temperature != na.Temperature ||
		oa.MaxTokens != na.MaxTokens

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MaxConversations != new.Server.MaxConversations ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!providersEqual(old.Providers, new.Providers) ||
		old.Store != new.Store

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.Responder, b.Responder)
}

// entryEqual compares the scalar fields and fallbacks of two entries.
// Options are compared by key set and formatted value.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !optionEqual(v, w) {
			return false
		}
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
