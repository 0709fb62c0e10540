package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"lunad/internal/engine"
)

// Finish reasons reported in Result.
const (
	FinishEOS       = "eos"       // engine signaled end-of-sequence
	FinishStop      = "stop"      // a stop pattern appeared in the output
	FinishExhausted = "exhausted" // engine stream ended without EOS
)

// Result summarizes one generation after streaming.
type Result struct {
	// Content is the accumulated response, trimmed of any stop marker.
	Content string
	// InputTokens is the tokenized length of the templated prompt.
	InputTokens int
	// ResponseTokens counts tokens produced before a stop condition.
	ResponseTokens int
	// FinishReason is one of FinishEOS, FinishStop, FinishExhausted.
	FinishReason string
}

// GenerateOption overrides session defaults for a single call.
type GenerateOption func(*config)

// WithCallPrefix overrides the template prefix for this call.
func WithCallPrefix(p string) GenerateOption {
	return func(c *config) { c.prefix = p }
}

// WithCallSuffix overrides the template suffix for this call.
func WithCallSuffix(s string) GenerateOption {
	return func(c *config) { c.suffix = s }
}

// WithCallStopPatterns overrides the stop-pattern set for this call.
func WithCallStopPatterns(patterns []string) GenerateOption {
	return func(c *config) { c.stopPatterns = append([]string(nil), patterns...) }
}

// WithCallMaxTokens bounds new tokens for this call.
func WithCallMaxTokens(n int) GenerateOption {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

var errNilCallback = errors.New("session: onToken callback is nil")

// Generate templates userPrompt, seeds the engine with the tokenized full
// prompt and streams decoded pieces to onToken strictly in generation
// order. It returns when the engine signals end-of-sequence, when a stop
// pattern appears (the matched text and everything after it is never
// emitted), or when the stream is exhausted. Prior context is kept: every
// call advances the session's conversation state.
//
// Errors from the engine or from onToken abort the stream and are returned
// unchanged; the partial Result is still populated.
func (s *Session) Generate(ctx context.Context, userPrompt string, onToken func(string) error, opts ...GenerateOption) (Result, error) {
	var res Result
	if onToken == nil {
		return res, errNilCallback
	}
	cfg := s.cfg
	for _, o := range opts {
		o(&cfg)
	}
	matcher := s.stop
	if len(opts) > 0 {
		matcher = newStopMatcher(cfg.stopPatterns)
	}

	// The engine's producer keeps generating until its context ends, so
	// cancel on every return: an early break on a stop pattern must not
	// leave it running against the shared native context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fullPrompt := cfg.prefix + userPrompt + "\n" + cfg.suffix
	seed, err := s.eng.Tokenize([]byte(fullPrompt))
	if err != nil {
		return res, err
	}
	res.InputTokens = len(seed)
	s.log.Debug().Int("input_tokens", res.InputTokens).Msg("generation start")

	stream, err := s.eng.Generate(ctx, seed, engine.GenerateOptions{
		Reset:     false,
		MaxTokens: cfg.maxTokens,
	})
	if err != nil {
		return res, err
	}

	eos := s.eng.EOS()
	var accumulated string
	res.FinishReason = FinishExhausted
	for {
		if err := ctx.Err(); err != nil {
			res.Content = matcher.trimAll(accumulated)
			return res, err
		}
		tok, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Content = matcher.trimAll(accumulated)
			return res, err
		}
		if tok == eos {
			res.FinishReason = FinishEOS
			break
		}
		piece := decodePiece(s.eng.Detokenize([]engine.Token{tok}))
		accumulated += piece
		res.ResponseTokens++
		if cut, ok := matcher.match(accumulated, len(piece)); ok {
			accumulated = accumulated[:cut]
			res.FinishReason = FinishStop
			break
		}
		if err := onToken(piece); err != nil {
			res.Content = matcher.trimAll(accumulated)
			return res, err
		}
	}

	res.Content = matcher.trimAll(accumulated)
	s.log.Debug().
		Int("response_tokens", res.ResponseTokens).
		Str("finish_reason", res.FinishReason).
		Msg("generation end")
	return res, nil
}

// decodePiece decodes detokenized bytes permissively: invalid sequences are
// substituted with the replacement rune instead of failing.
func decodePiece(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
