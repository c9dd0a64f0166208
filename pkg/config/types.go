package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent companion configuration stored as
// config.toml in the .companion/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Synthesis   SynthesisConfig   `toml:"synthesis"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Ingest      IngestConfig      `toml:"ingest"`
	Query       QueryConfig       `toml:"query"`
	Events      EventsConfig      `toml:"events"`
}

// StorageConfig holds document and chunk store settings.
type StorageConfig struct {
	// Driver selects the storage backend: "sqlite" or "memory".
	Driver     string `toml:"driver,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// VectorStoreConfig holds vector index settings.
// Driver selects the backend: "memory", "sqlite", or "qdrant".
// SQLitePath applies to the sqlite driver; Host, Port, APIKey, and UseTLS
// apply to qdrant.
type VectorStoreConfig struct {
	Driver     string `toml:"driver,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
	Host       string `toml:"host,omitempty"`
	Port       uint   `toml:"port,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
	UseTLS     bool   `toml:"use_tls,omitempty"`
	Collection string `toml:"collection,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// EmbeddingConfig holds embedding backend and batching settings.
type EmbeddingConfig struct {
	Target               string  `toml:"target,omitempty"`
	Model                string  `toml:"model,omitempty"`
	MaxBatchSize         uint    `toml:"max_batch_size,omitempty"`
	MaxBatchTokens       uint    `toml:"max_batch_tokens,omitempty"`
	MaxSequenceChars     uint    `toml:"max_sequence_chars,omitempty"`
	MaxConcurrentBatches uint    `toml:"max_concurrent_batches,omitempty"`
	RatePerSecond        float64 `toml:"rate_per_second,omitempty"`
}

// SynthesisConfig holds answer generation settings.
type SynthesisConfig struct {
	Target    string `toml:"target,omitempty"`
	Model     string `toml:"model,omitempty"`
	MaxTokens uint   `toml:"max_tokens,omitempty"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Size                   uint   `toml:"size,omitempty"`
	Overlap                uint   `toml:"overlap,omitempty"`
	Granularity            string `toml:"granularity,omitempty"`
	TokenBoundaryTolerance uint   `toml:"token_boundary_tolerance,omitempty"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers               uint    `toml:"workers,omitempty"`
	QueueSize             uint    `toml:"queue_size,omitempty"`
	ErrorTolerance        float64 `toml:"error_tolerance,omitempty"`
	AttemptTimeoutSeconds uint    `toml:"attempt_timeout_seconds,omitempty"`
}

// QueryConfig holds query pipeline settings.
type QueryConfig struct {
	TopK           uint    `toml:"top_k,omitempty"`
	MinRelevance   float64 `toml:"min_relevance,omitempty"`
	TimeoutSeconds uint    `toml:"timeout_seconds,omitempty"`
	ContextTokens  uint    `toml:"context_tokens,omitempty"`
	ExcerptChars   uint    `toml:"excerpt_chars,omitempty"`
}

// EventsConfig holds status event publishing settings.
// Driver selects the backend: "nop" or "kafka".
type EventsConfig struct {
	Driver  string   `toml:"driver,omitempty"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// uintKey builds a configKeyInfo over a uint field.
func uintKey(field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			n := *field(c)
			if n == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(n), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid unsigned integer value: %w", err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// floatKey builds a configKeyInfo over a float64 field.
func floatKey(field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			f := *field(c)
			if f == 0 {
				return ""
			}
			return strconv.FormatFloat(f, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			*field(c) = f
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"vector_store.driver": {
		get: func(c *Config) string { return c.VectorStore.Driver },
		set: func(c *Config, v string) error { c.VectorStore.Driver = v; return nil },
	},
	"vector_store.sqlite_path": {
		get: func(c *Config) string { return c.VectorStore.SQLitePath },
		set: func(c *Config, v string) error { c.VectorStore.SQLitePath = v; return nil },
	},
	"vector_store.host": {
		get: func(c *Config) string { return c.VectorStore.Host },
		set: func(c *Config, v string) error { c.VectorStore.Host = v; return nil },
	},
	"vector_store.port": uintKey(func(c *Config) *uint { return &c.VectorStore.Port }),
	"vector_store.api_key": {
		get: func(c *Config) string { return c.VectorStore.APIKey },
		set: func(c *Config, v string) error { c.VectorStore.APIKey = v; return nil },
	},
	"vector_store.use_tls": {
		get: func(c *Config) string { return strconv.FormatBool(c.VectorStore.UseTLS) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for vector_store.use_tls: %w", err)
			}
			c.VectorStore.UseTLS = b
			return nil
		},
	},
	"vector_store.collection": {
		get: func(c *Config) string { return c.VectorStore.Collection },
		set: func(c *Config, v string) error { c.VectorStore.Collection = v; return nil },
	},
	"vector_store.dimensions": uintKey(func(c *Config) *uint { return &c.VectorStore.Dimensions }),
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.max_batch_size":         uintKey(func(c *Config) *uint { return &c.Embedding.MaxBatchSize }),
	"embedding.max_batch_tokens":       uintKey(func(c *Config) *uint { return &c.Embedding.MaxBatchTokens }),
	"embedding.max_sequence_chars":     uintKey(func(c *Config) *uint { return &c.Embedding.MaxSequenceChars }),
	"embedding.max_concurrent_batches": uintKey(func(c *Config) *uint { return &c.Embedding.MaxConcurrentBatches }),
	"embedding.rate_per_second":        floatKey(func(c *Config) *float64 { return &c.Embedding.RatePerSecond }),
	"synthesis.target": {
		get: func(c *Config) string { return c.Synthesis.Target },
		set: func(c *Config, v string) error { c.Synthesis.Target = v; return nil },
	},
	"synthesis.model": {
		get: func(c *Config) string { return c.Synthesis.Model },
		set: func(c *Config, v string) error { c.Synthesis.Model = v; return nil },
	},
	"synthesis.max_tokens": uintKey(func(c *Config) *uint { return &c.Synthesis.MaxTokens }),
	"chunking.size":        uintKey(func(c *Config) *uint { return &c.Chunking.Size }),
	"chunking.overlap":     uintKey(func(c *Config) *uint { return &c.Chunking.Overlap }),
	"chunking.granularity": {
		get: func(c *Config) string { return c.Chunking.Granularity },
		set: func(c *Config, v string) error { c.Chunking.Granularity = v; return nil },
	},
	"chunking.token_boundary_tolerance": uintKey(func(c *Config) *uint { return &c.Chunking.TokenBoundaryTolerance }),
	"ingest.workers":                    uintKey(func(c *Config) *uint { return &c.Ingest.Workers }),
	"ingest.queue_size":                 uintKey(func(c *Config) *uint { return &c.Ingest.QueueSize }),
	"ingest.error_tolerance":            floatKey(func(c *Config) *float64 { return &c.Ingest.ErrorTolerance }),
	"ingest.attempt_timeout_seconds":    uintKey(func(c *Config) *uint { return &c.Ingest.AttemptTimeoutSeconds }),
	"query.top_k":                       uintKey(func(c *Config) *uint { return &c.Query.TopK }),
	"query.min_relevance":               floatKey(func(c *Config) *float64 { return &c.Query.MinRelevance }),
	"query.timeout_seconds":             uintKey(func(c *Config) *uint { return &c.Query.TimeoutSeconds }),
	"query.context_tokens":              uintKey(func(c *Config) *uint { return &c.Query.ContextTokens }),
	"query.excerpt_chars":               uintKey(func(c *Config) *uint { return &c.Query.ExcerptChars }),
	"events.driver": {
		get: func(c *Config) string { return c.Events.Driver },
		set: func(c *Config, v string) error { c.Events.Driver = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			var brokers []string
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					brokers = append(brokers, b)
				}
			}
			c.Events.Brokers = brokers
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
