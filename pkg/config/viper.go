package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/knowledgeco/companion/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the COMPANION_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (COMPANION_API_LISTEN, COMPANION_STORAGE_DRIVER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: COMPANION_API_LISTEN, COMPANION_QUERY_TOP_K, etc.
	v.SetEnvPrefix("COMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Vector store
	v.SetDefault("vector_store.driver", d.VectorStore.Driver)
	v.SetDefault("vector_store.sqlite_path", d.VectorStore.SQLitePath)
	v.SetDefault("vector_store.host", d.VectorStore.Host)
	v.SetDefault("vector_store.port", d.VectorStore.Port)
	v.SetDefault("vector_store.api_key", d.VectorStore.APIKey)
	v.SetDefault("vector_store.use_tls", d.VectorStore.UseTLS)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)
	v.SetDefault("vector_store.dimensions", d.VectorStore.Dimensions)

	// Embedding
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.max_batch_size", d.Embedding.MaxBatchSize)
	v.SetDefault("embedding.max_batch_tokens", d.Embedding.MaxBatchTokens)
	v.SetDefault("embedding.max_sequence_chars", d.Embedding.MaxSequenceChars)
	v.SetDefault("embedding.max_concurrent_batches", d.Embedding.MaxConcurrentBatches)
	v.SetDefault("embedding.rate_per_second", d.Embedding.RatePerSecond)

	// Synthesis
	v.SetDefault("synthesis.target", d.Synthesis.Target)
	v.SetDefault("synthesis.model", d.Synthesis.Model)
	v.SetDefault("synthesis.max_tokens", d.Synthesis.MaxTokens)

	// Chunking
	v.SetDefault("chunking.size", d.Chunking.Size)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)
	v.SetDefault("chunking.granularity", d.Chunking.Granularity)
	v.SetDefault("chunking.token_boundary_tolerance", d.Chunking.TokenBoundaryTolerance)

	// Ingest
	v.SetDefault("ingest.workers", d.Ingest.Workers)
	v.SetDefault("ingest.queue_size", d.Ingest.QueueSize)
	v.SetDefault("ingest.error_tolerance", d.Ingest.ErrorTolerance)
	v.SetDefault("ingest.attempt_timeout_seconds", d.Ingest.AttemptTimeoutSeconds)

	// Query
	v.SetDefault("query.top_k", d.Query.TopK)
	v.SetDefault("query.min_relevance", d.Query.MinRelevance)
	v.SetDefault("query.timeout_seconds", d.Query.TimeoutSeconds)
	v.SetDefault("query.context_tokens", d.Query.ContextTokens)
	v.SetDefault("query.excerpt_chars", d.Query.ExcerptChars)

	// Events
	v.SetDefault("events.driver", d.Events.Driver)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
