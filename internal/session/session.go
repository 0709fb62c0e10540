// Package session binds a primed inference context to the templated,
// stop-pattern-aware streaming generation loop. One Session wraps one
// engine; its context accumulates conversation state across Generate calls
// and is never rewound, so a Session is single-caller and non-reentrant.
package session

import (
	"context"

	"github.com/rs/zerolog"

	"lunad/internal/engine"
)

// Template and priming defaults, caller-overridable per session or per call.
const (
	DefaultPrefix       = "\n### User: "
	DefaultSuffix       = "### Response: "
	DefaultSystemPrompt = "### System: You are Luna, a helpful assistant. Keep replies short and conversational."
)

// DefaultStopPatterns are the literal markers that end generation when they
// appear in the output. Order matters: the first matching pattern wins.
func DefaultStopPatterns() []string {
	return []string{
		"### User", "###User", "###",
		"### Response", "###Response",
		"### System", "###System",
	}
}

// Session owns a primed engine context.
type Session struct {
	eng  engine.Engine
	cfg  config
	log  zerolog.Logger
	stop stopMatcher
}

type config struct {
	threads      int
	contextSize  int
	systemPrompt string
	prefix       string
	suffix       string
	stopPatterns []string
	maxTokens    int
}

func defaultConfig() config {
	return config{
		threads:      engine.DefaultThreads,
		contextSize:  engine.DefaultContextSize,
		systemPrompt: DefaultSystemPrompt,
		prefix:       DefaultPrefix,
		suffix:       DefaultSuffix,
		stopPatterns: DefaultStopPatterns(),
	}
}

// Option configures a Session at construction time.
type Option func(*config)

// WithThreads sets the engine thread count (Open only).
func WithThreads(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.threads = n
		}
	}
}

// WithContextSize sets the engine context window (Open only).
func WithContextSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.contextSize = n
		}
	}
}

// WithSystemPrompt replaces the text evaluated into the context at init.
func WithSystemPrompt(p string) Option {
	return func(c *config) { c.systemPrompt = p }
}

// WithPrefix sets the default template prefix for Generate.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithSuffix sets the default template suffix for Generate.
func WithSuffix(s string) Option {
	return func(c *config) { c.suffix = s }
}

// WithStopPatterns replaces the default stop-pattern set.
func WithStopPatterns(patterns []string) Option {
	return func(c *config) { c.stopPatterns = append([]string(nil), patterns...) }
}

// WithMaxTokens bounds new tokens per Generate call (0 = engine default).
func WithMaxTokens(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

var sessionLogger = zerolog.Nop()

// SetLogger installs a structured logger shared by all sessions.
func SetLogger(l zerolog.Logger) { sessionLogger = l }

// New binds an already-constructed engine and primes it with the system
// prompt. Any tokenize/evaluate failure is fatal and returned unchanged;
// the engine is left for the caller to close.
func New(ctx context.Context, eng engine.Engine, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	s := &Session{
		eng:  eng,
		cfg:  cfg,
		log:  sessionLogger,
		stop: newStopMatcher(cfg.stopPatterns),
	}
	if cfg.systemPrompt != "" {
		toks, err := eng.Tokenize([]byte(cfg.systemPrompt))
		if err != nil {
			return nil, engine.ErrInitFailure(err)
		}
		if err := eng.Evaluate(ctx, toks); err != nil {
			return nil, engine.ErrInitFailure(err)
		}
		s.log.Debug().Int("system_tokens", len(toks)).Msg("session primed")
	}
	return s, nil
}

// Open constructs an engine for the model at modelPath (verbose logging
// off, configured threads and context size) and returns a primed Session
// that owns it.
func Open(ctx context.Context, modelPath string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	eng, err := engine.New(modelPath, engine.Config{
		Threads:     cfg.threads,
		ContextSize: cfg.contextSize,
	})
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, eng, opts...)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying engine.
func (s *Session) Close() error {
	if s.eng == nil {
		return nil
	}
	err := s.eng.Close()
	s.eng = nil
	return err
}
