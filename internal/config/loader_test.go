package config_test

import (
	"strings"
	"testing"

	"github.com/knowledgehunter6/main-line/internal/config"
)

func TestValidate_NegativeMaxTokens(t *testing.T) {
	t.Parallel()
	yaml := `
call:
  max_tokens: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_tokens, got nil")
	}
	if !strings.Contains(err.Error(), "max_tokens") {
		t.Errorf("error should mention max_tokens, got: %v", err)
	}
}

func TestValidate_ScenarioVoiceSpeedFactor(t *testing.T) {
	t.Parallel()
	yaml := `
scenarios:
  - name: fast-talker
    persona: Speaks quickly.
    voice:
      speed_factor: 0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range scenario speed_factor, got nil")
	}
}

func TestProviderTimeoutSeconds(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    timeout_seconds: 20
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.TimeoutSeconds != 20 {
		t.Errorf("timeout_seconds = %d, want 20", cfg.Providers.LLM.TimeoutSeconds)
	}

	_, err = config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: openai
    timeout_seconds: -1
`))
	if err == nil {
		t.Fatal("expected error for negative timeout_seconds, got nil")
	}
	if !strings.Contains(err.Error(), "timeout_seconds") {
		t.Errorf("error should mention timeout_seconds, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
scenarios:
  - name: s1
    persona: p
  - name: s1
    persona: p
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
