package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/knowledgeco/companion/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .companion/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}

	// Return in a stable, logical order matching the TOML section layout.
	ordered := []string{
		"storage.driver",
		"storage.sqlite_path",
		"api.listen",
		"vector_store.driver",
		"vector_store.sqlite_path",
		"vector_store.host",
		"vector_store.port",
		"vector_store.api_key",
		"vector_store.use_tls",
		"vector_store.collection",
		"vector_store.dimensions",
		"embedding.target",
		"embedding.model",
		"embedding.max_batch_size",
		"embedding.max_batch_tokens",
		"embedding.max_sequence_chars",
		"embedding.max_concurrent_batches",
		"embedding.rate_per_second",
		"synthesis.target",
		"synthesis.model",
		"synthesis.max_tokens",
		"chunking.size",
		"chunking.overlap",
		"chunking.granularity",
		"chunking.token_boundary_tolerance",
		"ingest.workers",
		"ingest.queue_size",
		"ingest.error_tolerance",
		"ingest.attempt_timeout_seconds",
		"query.top_k",
		"query.min_relevance",
		"query.timeout_seconds",
		"query.context_tokens",
		"query.excerpt_chars",
		"events.driver",
		"events.brokers",
		"events.topic",
	}

	// Sanity: only return keys that actually exist in the map.
	result := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}

	// Append any keys in the map that we missed in the ordered list.
	seen := make(map[string]bool, len(result))
	for _, k := range result {
		seen[k] = true
	}
	for _, k := range keys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target
// .companion/ directory. If the file does not exist, returns
// NewDefaultConfig() so callers always receive a fully-populated Config with
// sane defaults. Fields explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.VectorStore.Driver == "" {
		cfg.VectorStore.Driver = defaults.VectorStore.Driver
	}
	if cfg.VectorStore.Host == "" {
		cfg.VectorStore.Host = defaults.VectorStore.Host
	}
	if cfg.VectorStore.Port == 0 {
		cfg.VectorStore.Port = defaults.VectorStore.Port
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = defaults.VectorStore.Collection
	}
	if cfg.VectorStore.Dimensions == 0 {
		cfg.VectorStore.Dimensions = defaults.VectorStore.Dimensions
	}

	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}

	if cfg.Synthesis.Target == "" {
		cfg.Synthesis.Target = defaults.Synthesis.Target
	}
	if cfg.Synthesis.Model == "" {
		cfg.Synthesis.Model = defaults.Synthesis.Model
	}
	if cfg.Synthesis.MaxTokens == 0 {
		cfg.Synthesis.MaxTokens = defaults.Synthesis.MaxTokens
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = defaults.Chunking.Size
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = defaults.Chunking.Overlap
	}
	if cfg.Chunking.Granularity == "" {
		cfg.Chunking.Granularity = defaults.Chunking.Granularity
	}
	if cfg.Chunking.TokenBoundaryTolerance == 0 {
		cfg.Chunking.TokenBoundaryTolerance = defaults.Chunking.TokenBoundaryTolerance
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = defaults.Ingest.Workers
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = defaults.Ingest.QueueSize
	}
	if cfg.Ingest.ErrorTolerance == 0 {
		cfg.Ingest.ErrorTolerance = defaults.Ingest.ErrorTolerance
	}
	if cfg.Ingest.AttemptTimeoutSeconds == 0 {
		cfg.Ingest.AttemptTimeoutSeconds = defaults.Ingest.AttemptTimeoutSeconds
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = defaults.Query.TopK
	}
	if cfg.Query.MinRelevance == 0 {
		cfg.Query.MinRelevance = defaults.Query.MinRelevance
	}
	if cfg.Query.TimeoutSeconds == 0 {
		cfg.Query.TimeoutSeconds = defaults.Query.TimeoutSeconds
	}
	if cfg.Query.ContextTokens == 0 {
		cfg.Query.ContextTokens = defaults.Query.ContextTokens
	}
	if cfg.Query.ExcerptChars == 0 {
		cfg.Query.ExcerptChars = defaults.Query.ExcerptChars
	}

	if cfg.Events.Driver == "" {
		cfg.Events.Driver = defaults.Events.Driver
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaults.Events.Topic
	}
}

// SaveConfig persists the configuration to config.toml in the target
// .companion/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns a Config with sane defaults for the named deployment
// preset. Supported presets: "local", "sqlite", "qdrant".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	switch strings.ToLower(name) {
	case "local":
		// Everything in process, nothing persisted. Useful for trying the
		// pipeline without a database on disk.
		cfg := NewDefaultConfig()
		cfg.Storage.Driver = "memory"
		cfg.VectorStore.Driver = "memory"
		return cfg, nil

	case "sqlite":
		cfg := NewDefaultConfig()
		cfg.Storage.Driver = "sqlite"
		cfg.VectorStore.Driver = "sqlite"
		return cfg, nil

	case "qdrant":
		cfg := NewDefaultConfig()
		cfg.VectorStore.Driver = "qdrant"
		cfg.Events.Driver = "kafka"
		cfg.Events.Brokers = []string{"localhost:9092"}
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: local, sqlite, qdrant)", name)
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"local", "sqlite", "qdrant"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
