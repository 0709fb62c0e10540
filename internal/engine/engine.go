package engine

import "context"

// Built reports whether this binary carries the real llama runtime.
func Built() bool { return llamaBuilt }

// Token is an integer identifier for a sub-word unit produced or consumed by
// the inference runtime.
type Token int32

// Config holds construction-time parameters for an engine.
// Zero values mean "unspecified" and are replaced by defaults.
type Config struct {
	// Threads is the number of CPU threads the runtime may use.
	Threads int
	// ContextSize is the context window size in tokens.
	ContextSize int
	// Verbose enables runtime-level logging. Off by default.
	Verbose bool
}

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultThreads     = 4
	DefaultContextSize = 2048
)

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	return c
}

// GenerateOptions captures per-call generation parameters.
type GenerateOptions struct {
	// Reset discards prior context before evaluating the seed tokens.
	// The session core always generates with Reset=false so primed context
	// stays in effect.
	Reset bool
	// MaxTokens bounds the number of new tokens (0 = runtime default).
	MaxTokens int
}

// TokenStream is a one-shot, in-order sequence of generated tokens.
// Next returns io.EOF when the runtime exhausts the stream; any other error
// is a runtime generation failure and the stream must be abandoned.
type TokenStream interface {
	Next() (Token, error)
}

// Engine is the capability surface of the external inference runtime.
// Implementations own the model weights, tokenizer and context buffer; the
// context advances in place on Evaluate and on every generated token, so an
// Engine is not safe for concurrent use.
type Engine interface {
	// Tokenize maps raw bytes to token ids using the model's tokenizer.
	Tokenize(text []byte) ([]Token, error)
	// Evaluate primes the context with the given tokens, producing no output.
	Evaluate(ctx context.Context, tokens []Token) error
	// Generate produces a lazy token stream seeded with the given tokens.
	Generate(ctx context.Context, seed []Token, opts GenerateOptions) (TokenStream, error)
	// Detokenize maps token ids back to raw bytes. The result may be an
	// invalid UTF-8 fragment; callers decode permissively.
	Detokenize(tokens []Token) []byte
	// EOS reports the distinguished end-of-sequence token id.
	EOS() Token
	// Close releases runtime resources. The engine is unusable afterwards.
	Close() error
}
