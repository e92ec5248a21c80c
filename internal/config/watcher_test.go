package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knowledgehunter6/main-line/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
  tts:
    name: elevenlabs
store:
  postgres_dsn: "postgres://localhost/test"
scenarios:
  - name: premium-question
    persona: A calm caller asking about premiums.
vocabulary:
  - deductible
`

// startWatcher writes content to a temp config file and returns the path,
// a fast-polling watcher on it, and a channel that receives each reload.
func startWatcher(t *testing.T, content string) (string, *config.Watcher, <-chan *config.Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, content)

	reloads := make(chan *config.Config, 4)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		reloads <- new
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, reloads
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherBaseYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if len(cfg.Scenarios) != 1 || cfg.Scenarios[0].Name != "premium-question" {
		t.Errorf("scenarios = %+v", cfg.Scenarios)
	}
}

func TestWatcherDetectsContentChange(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, watcherBaseYAML)

	// Let the mtime move past the initial load before rewriting.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(watcherBaseYAML, "log_level: info", "log_level: debug", 1)
	writeConfigFile(t, path, updated)

	select {
	case cfg := <-reloads:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("reloaded log_level = %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback not invoked")
	}

	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, watcherBaseYAML)

	writeConfigFile(t, path, "server:\n  log_level: bananas\n")

	select {
	case cfg := <-reloads:
		t.Fatalf("invalid file must not trigger reload, got %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the last good config", got)
	}
}

func TestWatcherIgnoresTouchOnlyChange(t *testing.T) {
	t.Parallel()
	path, _, reloads := startWatcher(t, watcherBaseYAML)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	select {
	case <-reloads:
		t.Fatal("touch without content change must not trigger reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/config.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherBaseYAML)
	w.Stop()
	w.Stop()
}
