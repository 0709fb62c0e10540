package types

// GenerateRequest represents a streaming generation request payload.
type GenerateRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: luna-hermes.gguf
	Model string `json:"model,omitempty" example:"luna-hermes.gguf"`
	// Required user prompt to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Template prefix placed before the user prompt. Empty means the server default.
	// example: "\n### User: "
	Prefix string `json:"prefix,omitempty" example:"\n### User: "`
	// Template suffix placed after the user prompt. Empty means the server default.
	// example: "### Response: "
	Suffix string `json:"suffix,omitempty" example:"### Response: "`
	// Optional stop patterns overriding the server defaults. Generation ends
	// when any pattern appears in the output; matched text is never emitted.
	// example: ["### User","###"]
	Stop []string `json:"stop,omitempty" example:"[\"### User\",\"###\"]"`
	// Maximum number of new tokens to generate (0 = engine default).
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
}

// Usage contains token accounting for one generation.
type Usage struct {
	// Tokens in the templated prompt.
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// Tokens produced by the engine before a stop condition.
	// example: 48
	CompletionTokens int `json:"completion_tokens" example:"48"`
	// Sum of prompt and completion tokens.
	// example: 60
	TotalTokens int `json:"total_tokens" example:"60"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SessionStatus summarizes the live session for /status.
type SessionStatus struct {
	// ID of the model this session serves.
	// example: luna-hermes.gguf
	ModelID string `json:"model_id" example:"luna-hermes.gguf"`
	// Current lifecycle state of the session (e.g., unloaded, loading, ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this session served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight generations (0 or 1; the session is single-flight).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Generations served since the session was primed.
	// example: 7
	Generations uint64 `json:"generations" example:"7"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live session, if one has been opened.
	Session *SessionStatus `json:"session,omitempty"`
	// Overall daemon state (e.g., idle, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of session resets (context re-primed).
	// example: 2
	ResetsTotal uint64 `json:"resets_total" example:"2"`
	// Total number of model loads.
	// example: 1
	LoadsTotal uint64 `json:"loads_total" example:"1"`
}
