package types

// Model represents a discoverable GGUF model on disk.
type Model struct {
	// Stable identifier for the model (the filename by default).
	// example: luna-hermes.gguf
	ID string `json:"id" example:"luna-hermes.gguf"`
	// Human-friendly name.
	// example: luna-hermes.gguf
	Name string `json:"name" example:"luna-hermes.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/luna-hermes.gguf
	Path string `json:"path" example:"/home/user/models/luna-hermes.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" example:"llama"`
}
