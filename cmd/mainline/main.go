// Command mainline is the main entry point for the Main Line call-center
// training server.
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

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/knowledgehunter6/main-line/internal/analytics"
	"github.com/knowledgehunter6/main-line/internal/api"
	"github.com/knowledgehunter6/main-line/internal/call"
	"github.com/knowledgehunter6/main-line/internal/config"
	"github.com/knowledgehunter6/main-line/internal/gateway"
	"github.com/knowledgehunter6/main-line/internal/health"
	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/resilience"
	"github.com/knowledgehunter6/main-line/internal/scoring"
	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/internal/store/postgres"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm/anyllm"
	oaillm "github.com/knowledgehunter6/main-line/pkg/provider/llm/openai"
	"github.com/knowledgehunter6/main-line/pkg/provider/stt"
	oaistt "github.com/knowledgehunter6/main-line/pkg/provider/stt/openai"
	"github.com/knowledgehunter6/main-line/pkg/provider/tts"
	"github.com/knowledgehunter6/main-line/pkg/provider/tts/elevenlabs"
	oaitts "github.com/knowledgehunter6/main-line/pkg/provider/tts/openai"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A .env file is optional; provider API keys can live there instead of
	// the config file.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mainline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mainline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it without
	// swapping the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("mainline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.LLM == nil {
		slog.Error("an llm provider is required; set providers.llm in the config")
		return 1
	}

	// ── Persistence ───────────────────────────────────────────────────────────
	var (
		db     store.Store
		pinger health.Pinger
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		db = pg
		pinger = pg
		slog.Info("postgres store connected")
	} else {
		db = store.NewMemory()
		slog.Warn("no postgres_dsn configured; sessions will not survive a restart")
	}

	// ── Call pipeline ─────────────────────────────────────────────────────────
	gw, err := gateway.New(gateway.Config{
		LLM:         providers.LLM,
		STT:         providers.STT,
		TTS:         providers.TTS,
		Greeting:    cfg.Call.Greeting,
		Temperature: cfg.Call.Temperature,
		MaxTokens:   cfg.Call.MaxTokens,
		Voice: types.VoiceProfile{
			ID:          cfg.Call.Voice.VoiceID,
			Provider:    cfg.Call.Voice.Provider,
			SpeedFactor: cfg.Call.Voice.SpeedFactor,
		},
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to create call gateway", "err", err)
		return 1
	}
	gw.SetVocabulary(cfg.Vocabulary)

	eval, err := scoring.New(providers.LLM, metrics)
	if err != nil {
		slog.Error("failed to create evaluator", "err", err)
		return 1
	}

	calls, err := call.NewManager(call.ManagerConfig{
		Store:     db,
		Gateway:   gw,
		Evaluator: eval,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to create call manager", "err", err)
		return 1
	}
	defer func() {
		if err := calls.Close(); err != nil {
			slog.Warn("call manager close error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VocabularyChanged {
			gw.SetVocabulary(new.Vocabulary)
			slog.Info("vocabulary reloaded", "terms", len(new.Vocabulary))
		}
		for _, sc := range d.ScenarioChanges {
			slog.Info("scenario changed",
				"name", sc.Name, "added", sc.Added, "removed", sc.Removed)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP API ──────────────────────────────────────────────────────────────
	srv, err := api.New(api.Config{
		Calls:     calls,
		Store:     db,
		Analytics: analytics.NewService(db),
		TTS:       providers.TTS,
		Health:    health.New(health.Store(pinger)),
		Metrics:   metrics,
		Scenarios: func() []config.ScenarioConfig {
			if watcher != nil {
				return watcher.Current().Scenarios
			}
			return cfg.Scenarios
		},
	})
	if err != nil {
		slog.Error("failed to create api server", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tlsCfg := cfg.Server.TLS; tlsCfg != nil {
			slog.Info("listening with TLS", "addr", addr)
			err = httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			slog.Info("listening", "addr", addr)
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Main Line. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai"},
	"tts": {"openai", "elevenlabs"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the native client; the rest share the any-llm
	// pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := entryTimeout(entry); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
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

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if d := entryTimeout(entry); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if d := entryTimeout(entry); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, opts...)
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

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providerSet holds the instantiated pipeline providers. STT and TTS may be
// nil; the gateway degrades to text-only operation without them.
type providerSet struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
// Entries with fallbacks are wrapped so secondary providers take over when
// the primary fails.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = wrapLLMFallbacks(p, cfg.Providers.LLM, reg)
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = wrapSTTFallbacks(p, cfg.Providers.STT, reg)
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = wrapTTSFallbacks(p, cfg.Providers.TTS, reg)
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	return ps, nil
}

// wrapLLMFallbacks wraps primary in a fallback group when the entry lists
// secondary providers. A fallback that fails to construct is skipped with a
// warning rather than failing startup.
func wrapLLMFallbacks(primary llm.Provider, entry config.ProviderEntry, reg *config.Registry) llm.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	fb := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, f := range entry.Fallbacks {
		p, err := reg.CreateLLM(f)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", f.Name, "err", err)
			continue
		}
		fb.AddFallback(f.Name, p)
		slog.Info("fallback registered", "kind", "llm", "name", f.Name)
	}
	return fb
}

func wrapSTTFallbacks(primary stt.Provider, entry config.ProviderEntry, reg *config.Registry) stt.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	fb := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, f := range entry.Fallbacks {
		p, err := reg.CreateSTT(f)
		if err != nil {
			slog.Warn("skipping stt fallback", "name", f.Name, "err", err)
			continue
		}
		fb.AddFallback(f.Name, p)
		slog.Info("fallback registered", "kind", "stt", "name", f.Name)
	}
	return fb
}

func wrapTTSFallbacks(primary tts.Provider, entry config.ProviderEntry, reg *config.Registry) tts.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	fb := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, f := range entry.Fallbacks {
		p, err := reg.CreateTTS(f)
		if err != nil {
			slog.Warn("skipping tts fallback", "name", f.Name, "err", err)
			continue
		}
		fb.AddFallback(f.Name, p)
		slog.Info("fallback registered", "kind", "tts", "name", f.Name)
	}
	return fb
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Main Line — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	storeKind := "in-memory"
	if cfg.Store.PostgresDSN != "" {
		storeKind = "postgres"
	}
	fmt.Printf("║  Store           : %-19s ║\n", storeKind)
	fmt.Printf("║  Scenarios       : %-19d ║\n", len(cfg.Scenarios))
	fmt.Printf("║  Vocabulary terms: %-19d ║\n", len(cfg.Vocabulary))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
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
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// entryTimeout converts a provider entry's timeout_seconds to a duration.
// Zero means the provider keeps its own default.
func entryTimeout(entry config.ProviderEntry) time.Duration {
	return time.Duration(entry.TimeoutSeconds) * time.Second
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
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
