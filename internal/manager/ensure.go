package manager

import (
	"context"
	"time"

	"lunad/internal/common/fsutil"
	"lunad/internal/session"
)

// openSession is swapped in tests to avoid a real engine.
var openSession = session.Open

// ensureSession makes sure a primed session exists for modelID, opening or
// switching as needed. Called with the in-flight slot held, so there is at
// most one open in progress.
func (m *Manager) ensureSession(ctx context.Context, modelID string) error {
	m.mu.RLock()
	cur := m.sessModelID
	haveSess := m.sess != nil
	m.mu.RUnlock()
	if haveSess && cur == modelID {
		return nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	mdl, ok := m.getModelByID(modelID)
	if !ok {
		return modelNotFoundError{id: modelID}
	}
	if !fsutil.IsRegularFile(mdl.Path) {
		return modelNotFoundError{id: modelID}
	}

	// Switching models: drop the old context first. The primed system
	// prompt is re-evaluated on open, so nothing carries over.
	m.mu.Lock()
	old := m.sess
	m.sess = nil
	m.sessModelID = ""
	m.state = StateLoading
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	opts := []session.Option{
		session.WithThreads(m.cfg.Threads),
		session.WithContextSize(m.cfg.ContextSize),
		session.WithMaxTokens(m.cfg.MaxTokens),
	}
	if m.cfg.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(m.cfg.SystemPrompt))
	}
	if m.cfg.Prefix != "" {
		opts = append(opts, session.WithPrefix(m.cfg.Prefix))
	}
	if m.cfg.Suffix != "" {
		opts = append(opts, session.WithSuffix(m.cfg.Suffix))
	}
	if len(m.cfg.StopPatterns) > 0 {
		opts = append(opts, session.WithStopPatterns(m.cfg.StopPatterns))
	}

	sess, err := openSession(ctx, mdl.Path, opts...)
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.lastErr = err.Error()
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.sess = sess
	m.sessModelID = modelID
	m.state = StateReady
	m.lastErr = ""
	m.loadsTotal++
	m.lastUsed = time.Now()
	m.mu.Unlock()
	sessionLoadsTotal.Inc()
	m.log.Info().Str("model", modelID).Msg("session primed")
	return nil
}

// invalidateSession drops a session whose engine failed mid-stream; its
// state is undefined and must not serve further generations.
func (m *Manager) invalidateSession(cause error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.mu.Lock()
	old := m.sess
	m.sess = nil
	m.sessModelID = ""
	m.state = StateError
	m.lastErr = cause.Error()
	m.resetsTotal++
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	sessionResetsTotal.WithLabelValues("failure").Inc()
	m.log.Warn().Err(cause).Msg("session invalidated")
}

// Reset drops the live session so the next generation re-primes a fresh
// context with the system prompt. It waits for the in-flight slot first:
// a session must never be closed under a streaming generation.
func (m *Manager) Reset() error {
	m.genCh <- struct{}{}
	defer func() { <-m.genCh }()
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.mu.Lock()
	old := m.sess
	m.sess = nil
	m.sessModelID = ""
	if m.state == StateReady {
		m.state = StateIdle
	}
	m.resetsTotal++
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	sessionResetsTotal.WithLabelValues("requested").Inc()
	m.log.Info().Msg("session reset")
	return nil
}
