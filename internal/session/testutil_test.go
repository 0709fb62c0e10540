package session

import (
	"context"
	"io"

	"lunad/internal/engine"
)

const fakeEOS engine.Token = 99

// scriptItem is one step of a scripted generation stream: either a piece of
// decoded text, the EOS marker, or an injected error.
type scriptItem struct {
	piece string
	eos   bool
	err   error
}

func pieceItem(s string) scriptItem { return scriptItem{piece: s} }
func eosItem() scriptItem           { return scriptItem{eos: true} }
func errItem(err error) scriptItem  { return scriptItem{err: err} }

// fakeEngine is a deterministic engine: Tokenize maps each byte to one
// token, Generate replays a script, Detokenize resolves scripted pieces.
type fakeEngine struct {
	script []scriptItem

	// recorded calls for assertions
	tokenized []string
	evaluated [][]engine.Token
	genSeeds  [][]engine.Token
	genOpts   []engine.GenerateOptions
	closed    bool

	// piece table built as the script is served
	pieces map[engine.Token]string
	nextID engine.Token

	lastStream *fakeStream
	lastCtx    context.Context
}

func newFakeEngine(script ...scriptItem) *fakeEngine {
	return &fakeEngine{
		script: script,
		pieces: make(map[engine.Token]string),
		nextID: 1000,
	}
}

func (f *fakeEngine) Tokenize(text []byte) ([]engine.Token, error) {
	f.tokenized = append(f.tokenized, string(text))
	toks := make([]engine.Token, len(text))
	for i, b := range text {
		toks[i] = engine.Token(b)
	}
	return toks, nil
}

func (f *fakeEngine) Evaluate(ctx context.Context, tokens []engine.Token) error {
	f.evaluated = append(f.evaluated, tokens)
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, seed []engine.Token, opts engine.GenerateOptions) (engine.TokenStream, error) {
	f.genSeeds = append(f.genSeeds, seed)
	f.genOpts = append(f.genOpts, opts)
	f.lastCtx = ctx
	st := &fakeStream{eng: f, script: f.script}
	f.lastStream = st
	return st, nil
}

func (f *fakeEngine) Detokenize(tokens []engine.Token) []byte {
	var out []byte
	for _, t := range tokens {
		out = append(out, f.pieces[t]...)
	}
	return out
}

func (f *fakeEngine) EOS() engine.Token { return fakeEOS }

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

type fakeStream struct {
	eng    *fakeEngine
	script []scriptItem
	i      int
	// NextCalls counts how many tokens were requested.
	NextCalls int
}

func (s *fakeStream) Next() (engine.Token, error) {
	s.NextCalls++
	if s.i >= len(s.script) {
		return 0, io.EOF
	}
	item := s.script[s.i]
	s.i++
	if item.err != nil {
		return 0, item.err
	}
	if item.eos {
		return fakeEOS, nil
	}
	id := s.eng.nextID
	s.eng.nextID++
	s.eng.pieces[id] = item.piece
	return id, nil
}
