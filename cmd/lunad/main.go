package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lunad/internal/config"
	"lunad/internal/engine"
	"lunad/internal/httpapi"
	"lunad/internal/manager"
	"lunad/internal/registry"
	"lunad/internal/session"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// overridable reports whether the config file may fill flag name: it was
// not passed on the command line and its environment default (if any) is
// empty.
func overridable(set map[string]bool, name, envKey string) bool {
	if set[name] {
		return false
	}
	return envKey == "" || os.Getenv(envKey) == ""
}

// splitCSV splits a comma-separated list, trimming spaces and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("LUNAD_ADDR", ":8090"), "HTTP listen address, e.g. :8090")
	modelsDir := flag.String("models-dir", envOr("LUNAD_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	defaultModel := flag.String("default-model", envOr("LUNAD_DEFAULT_MODEL", ""), "Default model id when request omits model")
	configPath := flag.String("config", envOr("LUNAD_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	threads := flag.Int("threads", 0, "Engine CPU threads (0 = default)")
	contextSize := flag.Int("context-size", 0, "Engine context window in tokens (0 = default)")
	systemPrompt := flag.String("system-prompt", "", "System prompt primed into each session")
	maxTokens := flag.Int("max-tokens", 0, "Max new tokens per generation (0 = engine default)")
	corsOrigins := flag.String("cors-origins", envOr("LUNAD_CORS_ORIGINS", ""), "Comma-separated CORS origins (empty disables CORS)")
	logLevel := flag.String("log-level", envOr("LUNAD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	// Config file fills in anything flags left unset. Precedence is
	// flags, then environment, then file: a flag passed explicitly wins
	// even when its value equals the default.
	var fileCfg config.Config
	if *configPath != "" {
		fileCfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if fileCfg.Addr != "" && overridable(set, "addr", "LUNAD_ADDR") {
		*addr = fileCfg.Addr
	}
	if fileCfg.ModelsDir != "" && overridable(set, "models-dir", "LUNAD_MODELS_DIR") {
		*modelsDir = fileCfg.ModelsDir
	}
	if fileCfg.DefaultModel != "" && overridable(set, "default-model", "LUNAD_DEFAULT_MODEL") {
		*defaultModel = fileCfg.DefaultModel
	}
	if fileCfg.Threads > 0 && overridable(set, "threads", "") {
		*threads = fileCfg.Threads
	}
	if fileCfg.ContextSize > 0 && overridable(set, "context-size", "") {
		*contextSize = fileCfg.ContextSize
	}
	if fileCfg.SystemPrompt != "" && overridable(set, "system-prompt", "") {
		*systemPrompt = fileCfg.SystemPrompt
	}
	if fileCfg.MaxTokens > 0 && overridable(set, "max-tokens", "") {
		*maxTokens = fileCfg.MaxTokens
	}

	// Load registry by scanning modelsDir for *.gguf
	reg, err := registry.LoadDir(*modelsDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", *modelsDir).Msg("load models")
	}
	if *defaultModel == "" && len(reg) == 1 {
		*defaultModel = reg[0].ID
	}

	mgrLog := logger.With().Str("component", "manager").Logger()
	mgr := manager.NewWithConfig(manager.Config{
		Registry:      reg,
		DefaultModel:  *defaultModel,
		Threads:       *threads,
		ContextSize:   *contextSize,
		SystemPrompt:  *systemPrompt,
		Prefix:        fileCfg.Prefix,
		Suffix:        fileCfg.Suffix,
		StopPatterns:  fileCfg.StopPatterns,
		MaxTokens:     *maxTokens,
		MaxQueueDepth: fileCfg.MaxQueueDepth,
		Logger:        &mgrLog,
	})

	session.SetLogger(logger.With().Str("component", "session").Logger())
	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	if origins := splitCSV(*corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Content-Type", "X-Log-Level"})
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(mgr)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		logger.Info().
			Str("addr", *addr).
			Str("models_dir", *modelsDir).
			Int("models", len(reg)).
			Bool("llama", engine.Built()).
			Msg("lunad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	if err := mgr.Close(); err != nil {
		logger.Error().Err(err).Msg("close session")
	}
}
