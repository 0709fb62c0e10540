package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir     string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel  string   `json:"default_model" yaml:"default_model" toml:"default_model"`
	Threads       int      `json:"threads" yaml:"threads" toml:"threads"`
	ContextSize   int      `json:"context_size" yaml:"context_size" toml:"context_size"`
	SystemPrompt  string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Prefix        string   `json:"prefix" yaml:"prefix" toml:"prefix"`
	Suffix        string   `json:"suffix" yaml:"suffix" toml:"suffix"`
	StopPatterns  []string `json:"stop_patterns" yaml:"stop_patterns" toml:"stop_patterns"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
