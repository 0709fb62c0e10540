package manager

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"lunad/internal/session"
	"lunad/pkg/types"
)

// Generate centralizes generation behavior. It admits the request (per-
// manager FIFO queue, single in-flight), ensures the session exists, runs
// the streaming generation and writes NDJSON token lines followed by a
// final done line to w.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error {
	modelID := req.Model
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return modelNotFoundError{id: "(unspecified)"}
		}
	}

	release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.ensureSession(ctx, modelID); err != nil {
		return err
	}
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()

	var callOpts []session.GenerateOption
	if req.Prefix != "" {
		callOpts = append(callOpts, session.WithCallPrefix(req.Prefix))
	}
	if req.Suffix != "" {
		callOpts = append(callOpts, session.WithCallSuffix(req.Suffix))
	}
	if len(req.Stop) > 0 {
		callOpts = append(callOpts, session.WithCallStopPatterns(req.Stop))
	}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, session.WithCallMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	onTok := func(piece string) error {
		if _, err := w.Write(tokenLineJSON(piece)); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}
	res, err := sess.Generate(ctx, req.Prompt, onTok, callOpts...)
	observeGeneration(res, err, time.Since(start))
	if err != nil {
		// Aborted mid-generation (engine fault, client gone, or sink write
		// failure): the primed context is in an undefined state afterwards.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		m.invalidateSession(err)
		return err
	}

	m.mu.Lock()
	m.generations++
	m.lastUsed = time.Now()
	m.mu.Unlock()

	end := map[string]any{
		"done":          true,
		"content":       res.Content,
		"finish_reason": res.FinishReason,
		"usage": types.Usage{
			PromptTokens:     res.InputTokens,
			CompletionTokens: res.ResponseTokens,
			TotalTokens:      res.InputTokens + res.ResponseTokens,
		},
	}
	jb, _ := json.Marshal(end)
	if _, err := w.Write(append(jb, '\n')); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}

// tokenLineJSON formats a token NDJSON line using json.Marshal for correctness.
func tokenLineJSON(piece string) []byte {
	type tokenMsg struct {
		Token string `json:"token"`
	}
	b, _ := json.Marshal(tokenMsg{Token: piece})
	return append(b, '\n')
}
