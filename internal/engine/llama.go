//go:build llama

package engine

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// Synthetic token id space. go-llama.cpp streams decoded text pieces rather
// than vocabulary ids, so generated pieces are interned into a per-engine
// table and addressed by ids above pieceBase. Ids below pieceBase are real
// vocabulary ids as returned by the tokenizer.
const (
	pieceBase Token = 1 << 30
	eosID     Token = 1<<31 - 1
)

// llamaEngine adapts go-llama.cpp to the Engine surface.
//
// The binding exposes whole-prompt prediction only, so context priming is
// emulated: Evaluate records text into a transcript, and each Generate call
// re-evaluates transcript+seed. Token slices handed out by Tokenize are
// remembered so Evaluate/Generate can recover the text they came from.
type llamaEngine struct {
	model   *llama.LLama
	threads int

	mu         sync.Mutex
	sources    map[string]string
	pieces     []string
	transcript strings.Builder
}

// New constructs a llama.cpp-backed engine for the given model path.
func New(modelPath string, cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(modelPath) == "" {
		return nil, ErrInitFailure(errors.New("model path is empty"))
	}
	m, err := llama.New(modelPath, llama.SetContext(cfg.ContextSize))
	if err != nil {
		return nil, ErrInitFailure(err)
	}
	return &llamaEngine{
		model:   m,
		threads: cfg.Threads,
		sources: make(map[string]string),
	}, nil
}

func (e *llamaEngine) Tokenize(text []byte) ([]Token, error) {
	_, ids, err := e.model.TokenizeString(string(text))
	if err != nil {
		return nil, err
	}
	toks := make([]Token, len(ids))
	for i, id := range ids {
		toks[i] = Token(id)
	}
	e.mu.Lock()
	e.sources[tokenKey(toks)] = string(text)
	e.mu.Unlock()
	return toks, nil
}

func (e *llamaEngine) Evaluate(ctx context.Context, tokens []Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	text, ok := e.sources[tokenKey(tokens)]
	if !ok {
		return errors.New("engine: tokens were not produced by this tokenizer")
	}
	// Evaluation is deferred: the next Predict call re-evaluates the whole
	// transcript, which includes this text.
	e.transcript.WriteString(text)
	return nil
}

func (e *llamaEngine) Generate(ctx context.Context, seed []Token, opts GenerateOptions) (TokenStream, error) {
	e.mu.Lock()
	text, ok := e.sources[tokenKey(seed)]
	if !ok {
		e.mu.Unlock()
		return nil, errors.New("engine: seed tokens were not produced by this tokenizer")
	}
	if opts.Reset {
		e.transcript.Reset()
	}
	prompt := e.transcript.String() + text
	e.mu.Unlock()

	st := &llamaStream{ch: make(chan streamItem, 64)}
	go func() {
		defer close(st.ch)
		var out strings.Builder
		e.model.SetTokenCallback(func(piece string) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			id := e.intern(piece)
			select {
			case st.ch <- streamItem{tok: id}:
				out.WriteString(piece)
				return true
			case <-ctx.Done():
				return false
			}
		})
		po := []llama.PredictOption{llama.SetThreads(e.threads)}
		if opts.MaxTokens > 0 {
			po = append(po, llama.SetTokens(opts.MaxTokens))
		}
		_, err := e.model.Predict(prompt, po...)
		e.model.SetTokenCallback(nil)
		if cerr := ctx.Err(); cerr != nil {
			st.ch <- streamItem{err: cerr}
			return
		}
		if err != nil {
			st.ch <- streamItem{err: err}
			return
		}
		// Prediction completed: the runtime hit end-of-sequence or the token
		// limit. Context now includes this round.
		e.mu.Lock()
		e.transcript.WriteString(text)
		e.transcript.WriteString(out.String())
		e.mu.Unlock()
		st.ch <- streamItem{tok: eosID}
	}()
	return st, nil
}

func (e *llamaEngine) Detokenize(tokens []Token) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b strings.Builder
	for _, t := range tokens {
		if t == eosID {
			continue
		}
		if t >= pieceBase {
			idx := int(t - pieceBase)
			if idx < len(e.pieces) {
				b.WriteString(e.pieces[idx])
			}
			continue
		}
		// Real vocabulary ids are opaque to this binding; only interned
		// pieces round-trip.
	}
	return []byte(b.String())
}

func (e *llamaEngine) EOS() Token { return eosID }

func (e *llamaEngine) Close() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

func (e *llamaEngine) intern(piece string) Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pieces = append(e.pieces, piece)
	return pieceBase + Token(len(e.pieces)-1)
}

type streamItem struct {
	tok Token
	err error
}

type llamaStream struct {
	ch chan streamItem
}

func (s *llamaStream) Next() (Token, error) {
	item, ok := <-s.ch
	if !ok {
		return 0, io.EOF
	}
	if item.err != nil {
		return 0, item.err
	}
	return item.tok, nil
}

func tokenKey(tokens []Token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(int64(t), 10))
	}
	return b.String()
}
