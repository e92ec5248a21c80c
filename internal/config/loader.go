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

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("tts", cfg.Providers.TTS)

	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM, "stt": cfg.Providers.STT, "tts": cfg.Providers.TTS,
	} {
		if entry.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout_seconds %d must not be negative", kind, entry.TimeoutSeconds))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the simulated caller will not be able to respond")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; sessions will be kept in memory only")
	}

	if cfg.Call.Temperature < 0 || cfg.Call.Temperature > 2 {
		errs = append(errs, fmt.Errorf("call.temperature %.2f is out of range [0, 2]", cfg.Call.Temperature))
	}
	if cfg.Call.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("call.max_tokens %d must not be negative", cfg.Call.MaxTokens))
	}
	if err := validateVoice("call.voice", cfg.Call.Voice); err != nil {
		errs = append(errs, err)
	}

	scenarioNames := make(map[string]int, len(cfg.Scenarios))
	for i, sc := range cfg.Scenarios {
		prefix := fmt.Sprintf("scenarios[%d]", i)
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := scenarioNames[sc.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of scenarios[%d]", prefix, sc.Name, prev))
			}
			scenarioNames[sc.Name] = i
		}
		if sc.Persona == "" {
			errs = append(errs, fmt.Errorf("%s.persona is required", prefix))
		}
		if sc.Voice != nil {
			if err := validateVoice(prefix+".voice", *sc.Voice); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for i, term := range cfg.Vocabulary {
		if term == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateVoice checks the speed factor range for a voice block.
func validateVoice(prefix string, v VoiceConfig) error {
	if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
		return fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, v.SpeedFactor)
	}
	return nil
}

// validateProviderEntry logs a warning if the entry (or any of its
// fallbacks) names a provider not found in [ValidProviderNames].
func validateProviderEntry(kind string, entry ProviderEntry) {
	validateProviderName(kind, entry.Name)
	for _, fb := range entry.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
