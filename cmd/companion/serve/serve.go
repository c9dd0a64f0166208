// Package servecmder provides the serve command that runs the companion
// HTTP API server with its ingestion and query pipelines.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/api"
	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/config"
	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/dotdir"
	"github.com/knowledgeco/companion/pkg/embeddings"
	embedollama "github.com/knowledgeco/companion/pkg/embeddings/ollama"
	"github.com/knowledgeco/companion/pkg/eventstream"
	"github.com/knowledgeco/companion/pkg/eventstream/kafka"
	"github.com/knowledgeco/companion/pkg/eventstream/nop"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/extract/epub"
	"github.com/knowledgeco/companion/pkg/extract/pdf"
	"github.com/knowledgeco/companion/pkg/extract/web"
	"github.com/knowledgeco/companion/pkg/ingest"
	"github.com/knowledgeco/companion/pkg/logger"
	"github.com/knowledgeco/companion/pkg/query"
	"github.com/knowledgeco/companion/pkg/storage"
	storageinmemory "github.com/knowledgeco/companion/pkg/storage/inmemory"
	storagesqlite "github.com/knowledgeco/companion/pkg/storage/sqlite"
	synthollama "github.com/knowledgeco/companion/pkg/synthesis/ollama"
	"github.com/knowledgeco/companion/pkg/vector"
	vectormemory "github.com/knowledgeco/companion/pkg/vector/memory"
	vectorqdrant "github.com/knowledgeco/companion/pkg/vector/qdrant"
	vectorsqlite "github.com/knowledgeco/companion/pkg/vector/sqlitevec"
)

type ServeCommander struct {
	listen    string
	debug     bool
	configDir string
	logger    *zap.Logger
	viper     *viper.Viper
}

const serveLongDesc string = `Run the companion API server.

The server exposes document upload, document lifecycle, and question
answering over HTTP. Storage, vector index, embedding, synthesis, and event
drivers are selected via config.toml, COMPANION_ environment variables, or
flags.`

const serveShortDesc string = "Run the companion API server"

var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Document storage driver (sqlite, memory)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the SQLite database (default: .companion/companion.db)",
	},
	config.FlagVectorDriver: {
		Name:        "vector-driver",
		ViperKey:    "vector_store.driver",
		Description: "Vector index driver (sqlite, memory, qdrant)",
	},
	config.FlagEmbeddingTgt: {
		Name:        "embedding-target",
		ViperKey:    "embedding.target",
		Description: "Ollama URL for embeddings",
	},
	config.FlagEmbeddingModel: {
		Name:        "embedding-model",
		ViperKey:    "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagSynthesisTgt: {
		Name:        "synthesis-target",
		ViperKey:    "synthesis.target",
		Description: "Ollama URL for answer synthesis",
	},
	config.FlagSynthesisModel: {
		Name:        "synthesis-model",
		ViperKey:    "synthesis.model",
		Description: "Synthesis model name",
	},
	config.FlagEventsDriver: {
		Name:        "events-driver",
		ViperKey:    "events.driver",
		Description: "Status event publisher driver (nop, kafka)",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagVectorDriver,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagSynthesisTgt,
	config.FlagSynthesisModel,
	config.FlagEventsDriver,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, serveFlags, serveFlagKeys)
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	var throwaway string
	for _, key := range serveFlagKeys[1:] {
		config.AddStringFlag(cmd, serveFlags, key, &throwaway)
	}

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg := c.configFromViper()

	driver, err := c.newStorageDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close()

	ctx := context.Background()
	index, err := c.newVectorIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	embedder, err := embedollama.NewEmbedder(embedollama.EmbedderConfig{
		BaseURL: cfg.Embedding.Target,
		Model:   cfg.Embedding.Model,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	engine, err := embeddings.NewEngine(embedder, embeddings.EngineConfig{
		MaxBatchSize:         int(cfg.Embedding.MaxBatchSize),
		MaxBatchTokens:       int(cfg.Embedding.MaxBatchTokens),
		MaxSequenceChars:     int(cfg.Embedding.MaxSequenceChars),
		MaxConcurrentBatches: int64(cfg.Embedding.MaxConcurrentBatches),
		RatePerSecond:        cfg.Embedding.RatePerSecond,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating embedding engine: %w", err)
	}
	defer engine.Close()

	generator, err := synthollama.NewGenerator(synthollama.GeneratorConfig{
		BaseURL:   cfg.Synthesis.Target,
		Model:     cfg.Synthesis.Model,
		MaxTokens: int(cfg.Synthesis.MaxTokens),
	})
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}
	defer generator.Close()

	publisher, err := c.newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	splitter, err := chunker.New(chunker.Config{
		Size:                   int(cfg.Chunking.Size),
		Overlap:                int(cfg.Chunking.Overlap),
		Granularity:            chunker.Granularity(cfg.Chunking.Granularity),
		TokenBoundaryTolerance: int(cfg.Chunking.TokenBoundaryTolerance),
	})
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	ingestor, err := ingest.NewOrchestrator(&ingest.Config{
		Driver: driver,
		Extractors: extract.Registry{
			document.TypePDF:     pdf.NewExtractor(c.logger),
			document.TypeWebPage: web.NewExtractor(),
			document.TypeEPUB:    epub.NewExtractor(),
		},
		Chunker:        splitter,
		Engine:         engine,
		Index:          index,
		Publisher:      publisher,
		NumWorkers:     cfg.Ingest.Workers,
		QueueSize:      cfg.Ingest.QueueSize,
		ErrorTolerance: cfg.Ingest.ErrorTolerance,
		AttemptTimeout: time.Duration(cfg.Ingest.AttemptTimeoutSeconds) * time.Second,
		Logger:         c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating ingest orchestrator: %w", err)
	}

	querier, err := query.NewOrchestrator(driver, engine, index, generator, query.Config{
		TopK:          int(cfg.Query.TopK),
		MinRelevance:  float32(cfg.Query.MinRelevance),
		Timeout:       time.Duration(cfg.Query.TimeoutSeconds) * time.Second,
		ContextTokens: int(cfg.Query.ContextTokens),
		ExcerptChars:  int(cfg.Query.ExcerptChars),
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating query orchestrator: %w", err)
	}

	server := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		BlobDir:    c.configDir,
	}, driver, ingestor, querier, engine, index, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		ingestor.Close()
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	// Stop accepting requests first, then drain the ingestion pool so
	// in-flight documents reach a terminal status before drivers close.
	if err := server.Shutdown(); err != nil {
		c.logger.Warn("server shutdown failed", zap.Error(err))
	}
	ingestor.Close()

	return nil
}

// configFromViper reads the effective configuration out of viper so flag,
// env, file, and default precedence is already applied.
func (c *ServeCommander) configFromViper() *config.Config {
	v := c.viper

	return &config.Config{
		Storage: config.StorageConfig{
			Driver:     v.GetString("storage.driver"),
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		API: config.APIConfig{
			Listen: v.GetString("api.listen"),
		},
		VectorStore: config.VectorStoreConfig{
			Driver:     v.GetString("vector_store.driver"),
			SQLitePath: v.GetString("vector_store.sqlite_path"),
			Host:       v.GetString("vector_store.host"),
			Port:       v.GetUint("vector_store.port"),
			APIKey:     v.GetString("vector_store.api_key"),
			UseTLS:     v.GetBool("vector_store.use_tls"),
			Collection: v.GetString("vector_store.collection"),
			Dimensions: v.GetUint("vector_store.dimensions"),
		},
		Embedding: config.EmbeddingConfig{
			Target:               v.GetString("embedding.target"),
			Model:                v.GetString("embedding.model"),
			MaxBatchSize:         v.GetUint("embedding.max_batch_size"),
			MaxBatchTokens:       v.GetUint("embedding.max_batch_tokens"),
			MaxSequenceChars:     v.GetUint("embedding.max_sequence_chars"),
			MaxConcurrentBatches: v.GetUint("embedding.max_concurrent_batches"),
			RatePerSecond:        v.GetFloat64("embedding.rate_per_second"),
		},
		Synthesis: config.SynthesisConfig{
			Target:    v.GetString("synthesis.target"),
			Model:     v.GetString("synthesis.model"),
			MaxTokens: v.GetUint("synthesis.max_tokens"),
		},
		Chunking: config.ChunkingConfig{
			Size:                   v.GetUint("chunking.size"),
			Overlap:                v.GetUint("chunking.overlap"),
			Granularity:            v.GetString("chunking.granularity"),
			TokenBoundaryTolerance: v.GetUint("chunking.token_boundary_tolerance"),
		},
		Ingest: config.IngestConfig{
			Workers:               v.GetUint("ingest.workers"),
			QueueSize:             v.GetUint("ingest.queue_size"),
			ErrorTolerance:        v.GetFloat64("ingest.error_tolerance"),
			AttemptTimeoutSeconds: v.GetUint("ingest.attempt_timeout_seconds"),
		},
		Query: config.QueryConfig{
			TopK:           v.GetUint("query.top_k"),
			MinRelevance:   v.GetFloat64("query.min_relevance"),
			TimeoutSeconds: v.GetUint("query.timeout_seconds"),
			ContextTokens:  v.GetUint("query.context_tokens"),
			ExcerptChars:   v.GetUint("query.excerpt_chars"),
		},
		Events: config.EventsConfig{
			Driver:  v.GetString("events.driver"),
			Brokers: v.GetStringSlice("events.brokers"),
			Topic:   v.GetString("events.topic"),
		},
	}
}

// dotdirPath resolves a database filename inside the .companion/ directory.
func (c *ServeCommander) dotdirPath(filename string) (string, error) {
	target, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return "", fmt.Errorf("resolving data directory: %w", err)
	}
	return filepath.Join(target, filename), nil
}

func (c *ServeCommander) newStorageDriver(cfg *config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "memory":
		c.logger.Info("using in-memory document storage")
		return storageinmemory.NewDriver(), nil

	case "sqlite", "":
		path := cfg.Storage.SQLitePath
		if path == "" {
			var err error
			path, err = c.dotdirPath("companion.db")
			if err != nil {
				return nil, err
			}
		}
		c.logger.Info("using SQLite document storage", zap.String("path", path))
		return storagesqlite.NewDriver(storagesqlite.Config{DBPath: path}, c.logger)

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func (c *ServeCommander) newVectorIndex(ctx context.Context, cfg *config.Config) (vector.Index, error) {
	switch cfg.VectorStore.Driver {
	case "memory":
		c.logger.Info("using in-memory vector index")
		return vectormemory.NewIndex(), nil

	case "sqlite", "":
		path := cfg.VectorStore.SQLitePath
		if path == "" {
			var err error
			path, err = c.dotdirPath("vectors.db")
			if err != nil {
				return nil, err
			}
		}
		c.logger.Info("using SQLite vector index",
			zap.String("path", path),
			zap.Uint("dimensions", cfg.VectorStore.Dimensions),
		)
		return vectorsqlite.NewIndex(vectorsqlite.Config{
			DBPath:     path,
			Dimensions: cfg.VectorStore.Dimensions,
		}, c.logger)

	case "qdrant":
		c.logger.Info("using Qdrant vector index",
			zap.String("host", cfg.VectorStore.Host),
			zap.Uint("port", cfg.VectorStore.Port),
			zap.String("collection", cfg.VectorStore.Collection),
		)
		return vectorqdrant.NewIndex(ctx, vectorqdrant.Config{
			Host:       cfg.VectorStore.Host,
			Port:       int(cfg.VectorStore.Port),
			APIKey:     cfg.VectorStore.APIKey,
			UseTLS:     cfg.VectorStore.UseTLS,
			Collection: cfg.VectorStore.Collection,
			Dimensions: int(cfg.VectorStore.Dimensions),
		}, c.logger)

	default:
		return nil, fmt.Errorf("unknown vector store driver: %q", cfg.VectorStore.Driver)
	}
}

func (c *ServeCommander) newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		c.logger.Info("publishing status events to Kafka",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic),
		)
		return kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, c.logger)

	case "nop", "":
		return nop.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("unknown events driver: %q", cfg.Events.Driver)
	}
}
