// Package config loads and validates raidme's YAML configuration,
// mirroring the Load/DefaultConfig/Validate shape
// theRebelliousNerd-codenerd/internal/config uses, adapted from that
// project's broad settings surface down to the options this pipeline
// recognizes, and translating original_source/src/config.rs's
// from_file/load_or_default pair (TOML there, YAML here) into Go
// idiom.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Repo    RepoConfig    `yaml:"repo"`
	Context ContextConfig `yaml:"context"`
	Output  OutputConfig  `yaml:"output"`
	Store   StoreConfig   `yaml:"store"`
}

// ModelConfig configures the Model Gateway's provider and call policy.
type ModelConfig struct {
	Provider        string  `yaml:"provider"`
	Name            string  `yaml:"name"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	DeadlineSeconds int     `yaml:"deadline_seconds"`
	MaxRetries      int     `yaml:"max_retries"`
	ParseRetries    int     `yaml:"parse_retries"`
}

// RepoConfig configures how Repo View walks and bounds the target repository.
type RepoConfig struct {
	MaxDepth        int      `yaml:"max_depth"`
	FileHeadBytes   int      `yaml:"file_head_bytes"`
	DirPayloadBytes int      `yaml:"dir_payload_bytes"`
	IgnoreGlobs     []string `yaml:"ignore_globs"`
}

// ContextConfig bounds the Prompt Builder's rolling context.
type ContextConfig struct {
	TokenCeiling int `yaml:"token_ceiling"`
}

// OutputConfig controls where the knowledge document is written.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig controls the durable store's location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present or a
// loaded file leaves fields unset.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:        "stub",
			Name:            "default",
			MaxTokens:       4096,
			Temperature:     0.2,
			DeadlineSeconds: 60,
			MaxRetries:      3,
			ParseRetries:    2,
		},
		Repo: RepoConfig{
			MaxDepth:        6,
			FileHeadBytes:   4096,
			DirPayloadBytes: 65536,
		},
		Context: ContextConfig{
			TokenCeiling: 8000,
		},
		Output: OutputConfig{
			Path: "KNOWLEDGE.md",
		},
		Store: StoreConfig{
			Path: ".raidme/state.db",
		},
	}
}

// Load reads and parses a YAML config file at path, overlaying it onto
// Default so omitted fields keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if present, or returns Default unchanged
// if it does not exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks that every option required for a run is present and
// sane, returning all problems found rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Model.Provider == "" {
		problems = append(problems, "model.provider is required")
	}
	if c.Model.DeadlineSeconds <= 0 {
		problems = append(problems, "model.deadline_seconds must be > 0")
	}
	if c.Model.MaxRetries <= 0 {
		problems = append(problems, "model.max_retries must be > 0")
	}
	if c.Model.ParseRetries < 0 {
		problems = append(problems, "model.parse_retries must be >= 0")
	}
	if c.Repo.MaxDepth <= 0 {
		problems = append(problems, "repo.max_depth must be > 0")
	}
	if c.Repo.FileHeadBytes <= 0 {
		problems = append(problems, "repo.file_head_bytes must be > 0")
	}
	if c.Repo.DirPayloadBytes <= 0 {
		problems = append(problems, "repo.dir_payload_bytes must be > 0")
	}
	if c.Context.TokenCeiling <= 0 {
		problems = append(problems, "context.token_ceiling must be > 0")
	}
	if c.Output.Path == "" {
		problems = append(problems, "output.path is required")
	}
	if c.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid configuration: %v", problems)
}

// StorePathFor resolves store.path relative to repoRoot when it is not
// already absolute — the default ".raidme/state.db" is meant to live
// under the analyzed repository, not the process's working directory.
func (c *Config) StorePathFor(repoRoot string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(repoRoot, c.Store.Path)
}
