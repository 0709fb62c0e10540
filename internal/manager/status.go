package manager

import (
	"time"

	"lunad/pkg/types"
)

// Status returns a snapshot of session and daemon state for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sess *types.SessionStatus
	if m.sessModelID != "" {
		sess = &types.SessionStatus{
			ModelID:       m.sessModelID,
			State:         string(m.state),
			QueueLen:      len(m.queueCh),
			Inflight:      len(m.genCh),
			MaxQueueDepth: m.maxQueueDepth,
			Generations:   m.generations,
		}
		if !m.lastUsed.IsZero() {
			sess.LastUsed = m.lastUsed.Unix()
		}
	}

	return types.StatusResponse{
		Session:        sess,
		State:          string(m.state),
		LastError:      m.lastErr,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		ResetsTotal:    m.resetsTotal,
		LoadsTotal:     m.loadsTotal,
	}
}
