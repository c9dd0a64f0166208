package api

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/dotdir"
	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/ingest"
	"github.com/knowledgeco/companion/pkg/query"
	"github.com/knowledgeco/companion/pkg/storage"
)

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadResponse acknowledges an accepted upload. Ingestion runs in the
// background; poll GET /documents/:id for the terminal status.
type UploadResponse struct {
	DocumentID string                    `json:"document_id"`
	Status     document.ProcessingStatus `json:"status"`
	Message    string                    `json:"message"`
}

// fail maps pipeline errors onto HTTP statuses: validation 400, unknown 404,
// backend unavailability 503, deadline 504, everything else 500.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, query.ErrUnknownDocument),
		storage.IsNotFound(err),
		errors.Is(err, dotdir.ErrNoBlob):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})

	case faults.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})

	case errors.Is(err, query.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(ErrorResponse{Error: err.Error()})

	case faults.IsTransient(err):
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: err.Error()})

	default:
		s.logger.Error("request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleUpload accepts a multipart document upload and enqueues ingestion.
// Form fields: file (required), type (required), owner (optional).
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "file field is required"})
	}

	docType := document.Type(c.FormValue("type"))
	if !docType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "type must be one of: web_page, pdf, epub",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return s.fail(c, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return s.fail(c, err)
	}
	if len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "uploaded file is empty"})
	}

	doc := &document.Document{
		ID:        uuid.NewString(),
		Type:      docType,
		Status:    document.StatusLocal,
		SizeBytes: int64(len(data)),
		OwnerID:   c.FormValue("owner"),
		Title:     fileHeader.Filename,
	}
	ctx := c.Context()
	if err := s.storer.CreateDocument(ctx, doc); err != nil {
		return s.fail(c, err)
	}

	// Persist the raw bytes so the document can be re-ingested later.
	if err := s.blobs.SaveBlob(doc.ID, data, s.config.BlobDir); err != nil {
		s.logger.Warn("persisting upload bytes failed",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}

	if _, err := s.storer.TransitionStatus(ctx, doc.ID, document.StatusUploading, ""); err != nil {
		return s.fail(c, err)
	}

	if !s.ingestor.Enqueue(ingest.Job{DocumentID: doc.ID, Data: data}) {
		// Park the document in a terminal status so re-ingestion stays
		// possible once the queue drains.
		if _, terr := s.storer.TransitionStatus(ctx, doc.ID, document.StatusFailed, "ingestion queue full"); terr != nil {
			s.logger.Error("marking document failed after full queue",
				zap.String("document_id", doc.ID),
				zap.Error(terr),
			)
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "ingestion queue is full, retry later",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(UploadResponse{
		DocumentID: doc.ID,
		Status:     document.StatusUploading,
		Message:    "document accepted for ingestion",
	})
}

// handleListDocuments returns all documents, optionally filtered by owner.
func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	docs, err := s.storer.ListDocuments(c.Context(), c.Query("owner"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(map[string]any{
		"count":     len(docs),
		"documents": docs,
	})
}

// handleGetDocument returns a single document by ID.
func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	doc, err := s.storer.GetDocument(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(doc)
}

// handleReingest re-runs ingestion for a document from its stored upload
// bytes. Only documents in a terminal status can be re-ingested.
func (s *Server) handleReingest(c *fiber.Ctx) error {
	id := c.Params("id")

	doc, err := s.storer.GetDocument(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if !doc.Status.Terminal() {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error: "document is still being processed",
		})
	}

	data, err := s.blobs.LoadBlob(id, s.config.BlobDir)
	if err != nil {
		return s.fail(c, err)
	}

	if !s.ingestor.Enqueue(ingest.Job{DocumentID: id, Data: data}) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "ingestion queue is full, retry later",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(UploadResponse{
		DocumentID: id,
		Status:     doc.Status,
		Message:    "document accepted for re-ingestion",
	})
}

// handleDeleteDocument cancels any in-flight ingestion, removes the
// document's vectors from the index, and deletes the document with its
// chunks. Vector deletion failures are logged, not surfaced: the vectors
// become stale hits that queries drop.
func (s *Server) handleDeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.Context()

	if _, err := s.storer.GetDocument(ctx, id); err != nil {
		return s.fail(c, err)
	}

	s.ingestor.Cancel(id)

	chunks, err := s.storer.GetChunks(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	var vectorIDs []string
	for _, chunk := range chunks {
		if chunk.VectorID != nil {
			vectorIDs = append(vectorIDs, *chunk.VectorID)
		}
	}
	if len(vectorIDs) > 0 {
		if err := s.index.Delete(ctx, vectorIDs); err != nil {
			s.logger.Warn("deleting vectors failed",
				zap.String("document_id", id),
				zap.Int("vectors", len(vectorIDs)),
				zap.Error(err),
			)
		}
	}

	if err := s.storer.DeleteDocument(ctx, id); err != nil {
		return s.fail(c, err)
	}

	if err := s.blobs.RemoveBlob(id, s.config.BlobDir); err != nil {
		s.logger.Warn("removing upload bytes failed",
			zap.String("document_id", id),
			zap.Error(err),
		)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
