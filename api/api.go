package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/dotdir"
	"github.com/knowledgeco/companion/pkg/embeddings"
	"github.com/knowledgeco/companion/pkg/ingest"
	"github.com/knowledgeco/companion/pkg/query"
	"github.com/knowledgeco/companion/pkg/storage"
	"github.com/knowledgeco/companion/pkg/vector"
)

// Server is the API server for managing and querying the companion system
type Server struct {
	config   Config
	storer   storage.Driver
	ingestor *ingest.Orchestrator
	querier  *query.Orchestrator
	engine   *embeddings.Engine
	index    vector.Index
	blobs    *dotdir.Manager
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates a new API server.
// The storer, orchestrators, engine, and index are injected so they can be
// shared with other components and swapped in tests.
func NewServer(config Config, storer storage.Driver, ingestor *ingest.Orchestrator, querier *query.Orchestrator, engine *embeddings.Engine, index vector.Index, logger *zap.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             config.MaxUploadBytes,
	})

	s := &Server{
		config:   config,
		storer:   storer,
		ingestor: ingestor,
		querier:  querier,
		engine:   engine,
		index:    index,
		blobs:    dotdir.NewManager(),
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/documents/upload", s.handleUpload)
	app.Get("/documents", s.handleListDocuments)
	app.Get("/documents/:id", s.handleGetDocument)
	app.Post("/documents/:id/reingest", s.handleReingest)
	app.Delete("/documents/:id", s.handleDeleteDocument)
	app.Post("/embeddings/embed", s.handleEmbed)
	app.Post("/query/ask", s.handleAsk)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
