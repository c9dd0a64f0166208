package config

const (
	defaultStorageDriver = "sqlite"

	defaultAPIListen = ":8080"

	defaultVectorDriver     = "sqlite"
	defaultVectorHost       = "localhost"
	defaultVectorPort       = 6334
	defaultVectorCollection = "companion_chunks"
	defaultVectorDimensions = 768

	defaultOllamaTarget = "http://localhost:11434"

	defaultEmbeddingModel     = "nomic-embed-text"
	defaultSynthesisModel     = "llama3.2"
	defaultSynthesisMaxTokens = 1024

	defaultChunkSize              = 400
	defaultChunkOverlap           = 50
	defaultChunkGranularity       = "characters"
	defaultTokenBoundaryTolerance = 24

	defaultIngestWorkers      = 3
	defaultIngestQueueSize    = 64
	defaultErrorTolerance     = 0.1
	defaultAttemptTimeoutSecs = 600

	defaultQueryTopK         = 5
	defaultQueryMinRelevance = 0.3
	defaultQueryTimeoutSecs  = 30
	defaultContextTokens     = 3000
	defaultExcerptChars      = 500

	defaultEventsDriver = "nop"
	defaultEventsTopic  = "companion.document.status"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Driver:     defaultVectorDriver,
			Host:       defaultVectorHost,
			Port:       defaultVectorPort,
			Collection: defaultVectorCollection,
			Dimensions: defaultVectorDimensions,
		},
		Embedding: EmbeddingConfig{
			Target: defaultOllamaTarget,
			Model:  defaultEmbeddingModel,
		},
		Synthesis: SynthesisConfig{
			Target:    defaultOllamaTarget,
			Model:     defaultSynthesisModel,
			MaxTokens: defaultSynthesisMaxTokens,
		},
		Chunking: ChunkingConfig{
			Size:                   defaultChunkSize,
			Overlap:                defaultChunkOverlap,
			Granularity:            defaultChunkGranularity,
			TokenBoundaryTolerance: defaultTokenBoundaryTolerance,
		},
		Ingest: IngestConfig{
			Workers:               defaultIngestWorkers,
			QueueSize:             defaultIngestQueueSize,
			ErrorTolerance:        defaultErrorTolerance,
			AttemptTimeoutSeconds: defaultAttemptTimeoutSecs,
		},
		Query: QueryConfig{
			TopK:           defaultQueryTopK,
			MinRelevance:   defaultQueryMinRelevance,
			TimeoutSeconds: defaultQueryTimeoutSecs,
			ContextTokens:  defaultContextTokens,
			ExcerptChars:   defaultExcerptChars,
		},
		Events: EventsConfig{
			Driver: defaultEventsDriver,
			Topic:  defaultEventsTopic,
		},
	}
}
