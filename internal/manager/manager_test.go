package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lunad/internal/engine"
	"lunad/internal/session"
	"lunad/pkg/types"
)

// stubEngine yields a fixed sequence of pieces followed by EOS. failNext
// makes the stream fail after emitting its pieces instead.
type stubEngine struct {
	pieces   []string
	failWith error
	nextID   engine.Token
	decoded  map[engine.Token]string
	closed   bool
}

const stubEOS engine.Token = 2

func newStubEngine(pieces ...string) *stubEngine {
	return &stubEngine{pieces: pieces, nextID: 100, decoded: map[engine.Token]string{}}
}

func (e *stubEngine) Tokenize(text []byte) ([]engine.Token, error) {
	toks := make([]engine.Token, len(text))
	for i := range text {
		toks[i] = engine.Token(i) + 10
	}
	return toks, nil
}

func (e *stubEngine) Evaluate(ctx context.Context, tokens []engine.Token) error { return nil }

func (e *stubEngine) Generate(ctx context.Context, seed []engine.Token, opts engine.GenerateOptions) (engine.TokenStream, error) {
	toks := make([]engine.Token, 0, len(e.pieces)+1)
	for _, p := range e.pieces {
		id := e.nextID
		e.nextID++
		e.decoded[id] = p
		toks = append(toks, id)
	}
	if e.failWith == nil {
		toks = append(toks, stubEOS)
	}
	return &stubStream{toks: toks, failWith: e.failWith}, nil
}

func (e *stubEngine) Detokenize(tokens []engine.Token) []byte {
	var b []byte
	for _, t := range tokens {
		b = append(b, e.decoded[t]...)
	}
	return b
}

func (e *stubEngine) EOS() engine.Token { return stubEOS }
func (e *stubEngine) Close() error      { e.closed = true; return nil }

type stubStream struct {
	toks     []engine.Token
	failWith error
}

func (s *stubStream) Next() (engine.Token, error) {
	if len(s.toks) == 0 {
		if s.failWith != nil {
			return 0, s.failWith
		}
		return 0, io.EOF
	}
	t := s.toks[0]
	s.toks = s.toks[1:]
	return t, nil
}

// installOpener routes session.Open through eng for the test's duration.
func installOpener(t *testing.T, eng engine.Engine) {
	t.Helper()
	prev := openSession
	openSession = func(ctx context.Context, modelPath string, opts ...session.Option) (*session.Session, error) {
		return session.New(ctx, eng, opts...)
	}
	t.Cleanup(func() { openSession = prev })
}

func modelFile(t *testing.T) types.Model {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.gguf")
	if err := os.WriteFile(path, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return types.Model{ID: "tiny.gguf", Name: "tiny", Path: path}
}

func TestGenerateStreamsNDJSON(t *testing.T) {
	eng := newStubEngine("Hello", ", ", "world")
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	var buf bytes.Buffer
	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, &buf, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var v map[string]any
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		lines = append(lines, v)
	}
	if len(lines) != 4 {
		t.Fatalf("expected 3 token lines + done, got %d", len(lines))
	}
	for i, want := range []string{"Hello", ", ", "world"} {
		if got := lines[i]["token"]; got != want {
			t.Fatalf("line %d token = %v, want %q", i, got, want)
		}
	}
	final := lines[3]
	if final["done"] != true {
		t.Fatalf("final line missing done: %v", final)
	}
	if final["content"] != "Hello, world" {
		t.Fatalf("content = %v", final["content"])
	}
	if final["finish_reason"] != session.FinishEOS {
		t.Fatalf("finish_reason = %v", final["finish_reason"])
	}
	usage, ok := final["usage"].(map[string]any)
	if !ok || usage["completion_tokens"] != float64(3) {
		t.Fatalf("usage = %v", final["usage"])
	}
}

func TestGenerateDefaultModelUnset(t *testing.T) {
	m := New(nil, "")
	defer m.Close()
	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	if !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestGenerateUnknownModel(t *testing.T) {
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()
	err := m.Generate(context.Background(), types.GenerateRequest{Model: "nope.gguf", Prompt: "hi"}, io.Discard, nil)
	if !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestGenerateModelFileMissing(t *testing.T) {
	installOpener(t, newStubEngine("x"))
	mdl := types.Model{ID: "gone.gguf", Path: filepath.Join(t.TempDir(), "gone.gguf")}
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()
	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	if !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestGenerateBackpressure(t *testing.T) {
	mdl := modelFile(t)
	m := NewWithConfig(Config{
		Registry:     []types.Model{mdl},
		DefaultModel: mdl.ID,
		MaxWait:      10 * time.Millisecond,
	})
	defer m.Close()

	// Occupy the single in-flight slot so admission must time out.
	m.genCh <- struct{}{}
	defer func() { <-m.genCh }()

	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	if !IsTooBusy(err) {
		t.Fatalf("expected too-busy, got %v", err)
	}
}

func TestGenerateEngineFailureInvalidates(t *testing.T) {
	eng := newStubEngine("partial")
	eng.failWith = errors.New("decode blew up")
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	if err == nil || err.Error() != "decode blew up" {
		t.Fatalf("expected engine error, got %v", err)
	}
	st := m.Status()
	if st.State != string(StateError) {
		t.Fatalf("state = %q, want error", st.State)
	}
	if st.Session != nil {
		t.Fatalf("session should be dropped after failure")
	}
	if !eng.closed {
		t.Fatalf("failed session's engine not closed")
	}
}

func TestResetDropsSession(t *testing.T) {
	eng := newStubEngine("ok")
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	if err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "a"}, io.Discard, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("manager not ready after generation")
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Ready() {
		t.Fatalf("manager still ready after reset")
	}
	if !eng.closed {
		t.Fatalf("reset did not close engine")
	}
	st := m.Status()
	if st.ResetsTotal != 1 {
		t.Fatalf("ResetsTotal = %d", st.ResetsTotal)
	}
}

func TestStatusSnapshot(t *testing.T) {
	eng := newStubEngine("hi")
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	st := m.Status()
	if st.Session != nil {
		t.Fatalf("fresh manager should have no session")
	}
	if st.State != string(StateIdle) {
		t.Fatalf("state = %q", st.State)
	}

	if err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "a"}, io.Discard, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	st = m.Status()
	if st.Session == nil || st.Session.ModelID != mdl.ID {
		t.Fatalf("session status = %+v", st.Session)
	}
	if st.Session.Generations != 1 {
		t.Fatalf("Generations = %d", st.Session.Generations)
	}
	if st.LoadsTotal != 1 {
		t.Fatalf("LoadsTotal = %d", st.LoadsTotal)
	}
	if st.Session.LastUsed == 0 {
		t.Fatalf("LastUsed unset")
	}
}

func TestListModelsCopies(t *testing.T) {
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()
	got := m.ListModels()
	if len(got) != 1 || got[0].ID != mdl.ID {
		t.Fatalf("ListModels = %+v", got)
	}
	got[0].ID = "mutated"
	if m.ListModels()[0].ID != mdl.ID {
		t.Fatalf("ListModels exposed internal slice")
	}
}

func TestGenerateCanceledContext(t *testing.T) {
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Generate(ctx, types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGeneratePerCallStop(t *testing.T) {
	eng := newStubEngine("alpha ", "HALT", " beta")
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	var buf bytes.Buffer
	err := m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi", Stop: []string{"HALT"}}, &buf, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("HALT")) {
		t.Fatalf("stop marker leaked to stream: %s", buf.String())
	}
	if bytes.Contains(buf.Bytes(), []byte("beta")) {
		t.Fatalf("post-stop text leaked: %s", buf.String())
	}
}

// gateEngine emits one piece, then parks its stream until gate is closed.
// started is closed once the stream is being consumed.
type gateEngine struct {
	stubEngine
	gate    chan struct{}
	started chan struct{}
}

func newGateEngine() *gateEngine {
	return &gateEngine{
		stubEngine: stubEngine{nextID: 100, decoded: map[engine.Token]string{}},
		gate:       make(chan struct{}),
		started:    make(chan struct{}),
	}
}

func (e *gateEngine) Generate(ctx context.Context, seed []engine.Token, opts engine.GenerateOptions) (engine.TokenStream, error) {
	id := e.nextID
	e.nextID++
	e.decoded[id] = "tick"
	return &gateStream{eng: e, tok: id}, nil
}

type gateStream struct {
	eng  *gateEngine
	tok  engine.Token
	sent bool
}

func (s *gateStream) Next() (engine.Token, error) {
	if !s.sent {
		s.sent = true
		close(s.eng.started)
		return s.tok, nil
	}
	<-s.eng.gate
	return stubEOS, nil
}

func TestResetWaitsForInflightGeneration(t *testing.T) {
	eng := newGateEngine()
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)
	defer m.Close()

	genDone := make(chan error, 1)
	go func() {
		genDone <- m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	}()
	<-eng.started

	resetDone := make(chan error, 1)
	go func() { resetDone <- m.Reset() }()
	select {
	case err := <-resetDone:
		t.Fatalf("Reset returned with a generation in flight (err=%v)", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(eng.gate)
	if err := <-genDone; err != nil {
		t.Fatalf("Generate failed under concurrent Reset: %v", err)
	}
	if err := <-resetDone; err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Ready() {
		t.Fatalf("manager still ready after reset")
	}
	if !eng.closed {
		t.Fatalf("reset did not close the engine")
	}
}

func TestCloseWaitsForInflightGeneration(t *testing.T) {
	eng := newGateEngine()
	installOpener(t, eng)
	mdl := modelFile(t)
	m := New([]types.Model{mdl}, mdl.ID)

	genDone := make(chan error, 1)
	go func() {
		genDone <- m.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"}, io.Discard, nil)
	}()
	<-eng.started

	closeDone := make(chan error, 1)
	go func() { closeDone <- m.Close() }()
	select {
	case err := <-closeDone:
		t.Fatalf("Close returned with a generation in flight (err=%v)", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(eng.gate)
	if err := <-genDone; err != nil {
		t.Fatalf("Generate failed under concurrent Close: %v", err)
	}
	if err := <-closeDone; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eng.closed {
		t.Fatalf("close did not release the engine")
	}
}
