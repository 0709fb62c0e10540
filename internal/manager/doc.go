// Package manager owns the daemon's inference session: lazy model load,
// single-flight admission over the mutable session context, NDJSON token
// streaming, and status reporting. One manager serves one live session at a
// time; switching models drops the old session and primes a new one.
package manager
