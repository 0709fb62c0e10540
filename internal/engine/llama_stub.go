//go:build !llama

package engine

// This file provides a no-CGO stub compiled when the 'llama' build tag is
// NOT set, keeping default builds and CI CGO-free. The real binding lives in
// llama.go (tagged 'llama').

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

// New fails fast: the llama runtime is not available in this build. No
// mocked inference in production binaries.
func New(modelPath string, cfg Config) (Engine, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
