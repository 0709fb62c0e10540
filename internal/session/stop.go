package session

import "strings"

// stopTailWindow bounds how far back the per-token stop check looks, beyond
// the longest pattern. Patterns are short ASCII literals, so a small bound
// keeps the check O(1) per token regardless of response length.
const stopTailWindow = 10

// stopMatcher checks the tail of the accumulated response for literal stop
// patterns. Immutable once built.
type stopMatcher struct {
	patterns []string
	lookback int
}

func newStopMatcher(patterns []string) stopMatcher {
	m := stopMatcher{lookback: stopTailWindow}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
		if len(p) > m.lookback {
			m.lookback = len(p)
		}
	}
	return m
}

// match reports whether any pattern occurs within the tail window of acc,
// where the window covers the most recently appended pieceLen bytes plus
// enough lookback for a pattern straddling the append boundary. On a match
// it returns the cut index: the last occurrence of the pattern in the FULL
// accumulated text, not just the window.
func (m stopMatcher) match(acc string, pieceLen int) (cut int, ok bool) {
	if len(m.patterns) == 0 {
		return 0, false
	}
	window := m.lookback + pieceLen
	tail := acc
	if len(acc) > window {
		tail = acc[len(acc)-window:]
	}
	for _, p := range m.patterns {
		if !strings.Contains(tail, p) {
			continue
		}
		if i := strings.LastIndex(acc, p); i >= 0 {
			return i, true
		}
	}
	return 0, false
}

// trimAll truncates acc at the last occurrence of each pattern in turn.
// Applied once after the loop so the returned content never carries a
// trailing stop marker.
func (m stopMatcher) trimAll(acc string) string {
	for _, p := range m.patterns {
		if i := strings.LastIndex(acc, p); i >= 0 {
			acc = acc[:i]
		}
	}
	return acc
}
