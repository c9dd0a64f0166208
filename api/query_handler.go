package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/query"
	"github.com/knowledgeco/companion/pkg/synthesis"
)

// unavailableAnswer is returned in place of a synthesized answer when the
// generation backend is down but retrieval succeeded.
const unavailableAnswer = "answer unavailable"

// AskRequest is the body of POST /query/ask. TopK is a pointer so an
// explicit zero can be rejected while an omitted field means the server
// default.
type AskRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Owner       string   `json:"owner,omitempty"`
}

// handleAsk answers a question against the ingested corpus. When synthesis
// is unavailable the citations are still returned with a placeholder answer;
// retrieval succeeding is worth more than an error page.
func (s *Server) handleAsk(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "malformed request body"})
	}

	topK := 0
	if req.TopK != nil {
		if *req.TopK <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "top_k must be positive"})
		}
		topK = *req.TopK
	}

	result, err := s.querier.Answer(c.Context(), query.Request{
		Question:    req.Question,
		DocumentIDs: req.DocumentIDs,
		TopK:        topK,
		OwnerID:     req.Owner,
	})
	if err != nil {
		if errors.Is(err, synthesis.ErrUnavailable) && result != nil {
			s.logger.Warn("synthesis unavailable, returning citations only",
				zap.Error(err),
			)
			result.Answer = unavailableAnswer
			return c.JSON(result)
		}
		return s.fail(c, err)
	}

	return c.JSON(result)
}
