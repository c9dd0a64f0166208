package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/vector"
)

// EmbedRequest is the body of POST /embeddings/embed: caller-supplied chunks
// for a document whose text was extracted client-side.
type EmbedRequest struct {
	DocumentID string       `json:"document_id"`
	Chunks     []EmbedChunk `json:"chunks"`
}

// EmbedChunk is one caller-supplied chunk. ID is optional; one is generated
// when absent.
type EmbedChunk struct {
	ID         string `json:"id,omitempty"`
	Text       string `json:"text"`
	PageNumber *int   `json:"page_number,omitempty"`
}

// EmbedResult reports the outcome for one chunk.
type EmbedResult struct {
	ChunkID  string `json:"chunk_id"`
	VectorID string `json:"vector_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// handleEmbed stores, embeds, and indexes caller-supplied chunks. The
// document's existing chunk set is replaced. Per-chunk embedding failures
// are reported in the response instead of failing the whole request.
func (s *Server) handleEmbed(c *fiber.Ctx) error {
	var req EmbedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "malformed request body"})
	}
	if req.DocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "document_id is required"})
	}
	if len(req.Chunks) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "at least one chunk is required"})
	}
	for _, chunk := range req.Chunks {
		if chunk.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "chunk text must not be empty"})
		}
	}

	ctx := c.Context()
	if _, err := s.storer.GetDocument(ctx, req.DocumentID); err != nil {
		return s.fail(c, err)
	}

	chunks := make([]document.TextChunk, len(req.Chunks))
	texts := make([]string, len(req.Chunks))
	offset := 0
	for i, in := range req.Chunks {
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		end := offset + len([]rune(in.Text))
		chunks[i] = document.TextChunk{
			ID:         id,
			DocumentID: req.DocumentID,
			PageNumber: in.PageNumber,
			Text:       in.Text,
			CharStart:  offset,
			CharEnd:    end,
			TokenCount: document.CountTokens(in.Text),
		}
		texts[i] = in.Text
		offset = end
	}

	if err := s.storer.ReplaceChunks(ctx, req.DocumentID, chunks); err != nil {
		return s.fail(c, err)
	}

	results := s.engine.EmbedDocuments(ctx, texts)

	out := make([]EmbedResult, len(chunks))
	var items []vector.Item
	vectorIDs := make(map[string]string)
	for i, res := range results {
		out[i] = EmbedResult{ChunkID: chunks[i].ID}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}

		pageNumber := 0
		if chunks[i].PageNumber != nil {
			pageNumber = *chunks[i].PageNumber
		}
		items = append(items, vector.Item{
			ID:        chunks[i].ID,
			Embedding: res.Embedding,
			Meta: vector.Metadata{
				DocumentID: req.DocumentID,
				ChunkID:    chunks[i].ID,
				PageNumber: pageNumber,
			},
		})
		out[i].VectorID = chunks[i].ID
		out[i].Success = true
	}

	if len(items) > 0 {
		if err := s.index.Upsert(ctx, items); err != nil {
			return s.fail(c, err)
		}
		for _, item := range items {
			vectorIDs[item.ID] = item.ID
		}
		if err := s.storer.SetChunkVectorIDs(ctx, vectorIDs); err != nil {
			return s.fail(c, err)
		}
	}

	return c.JSON(out)
}
