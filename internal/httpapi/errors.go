package httpapi

import (
	"errors"
	"net/http"

	"sales-pipeline/internal/leads"
	"sales-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type stageMismatchDetails struct {
	TicketID           string      `json:"ticket_id"`
	CurrentStage       leads.Stage `json:"current_stage"`
	CurrentStageLabel  string      `json:"current_stage_label"`
	ExpectedStage      leads.Stage `json:"expected_stage"`
	ExpectedStageLabel string      `json:"expected_stage_label"`
	Guidance           string      `json:"guidance"`
}

// writeError maps lead errors to HTTP responses. Storage failures are logged
// and reported without internals.
func writeError(c *gin.Context, err error) {
	var (
		ve *leads.ValidationError
		se *leads.StageMismatchError
		te *leads.TransactionError
	)
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation_error",
			Details: ve.Fields,
		})
	case errors.As(err, &se):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
			Error: se.Message(),
			Code:  "stage_mismatch",
			Details: stageMismatchDetails{
				TicketID:           se.TicketID,
				CurrentStage:       se.CurrentStage,
				CurrentStageLabel:  se.CurrentStage.Label(),
				ExpectedStage:      se.ExpectedStage,
				ExpectedStageLabel: se.ExpectedStage.Label(),
				Guidance:           se.Guidance,
			},
		})
	case errors.Is(err, leads.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, leads.ErrDuplicateTicket):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_ticket"})
	case errors.Is(err, leads.ErrTicketSequenceExhausted):
		logger.FromGin(c).Error("ticket sequence exhausted", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "no ticket numbers left for today",
			Code:  "ticket_sequence_exhausted",
		})
	case errors.As(err, &te):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error: "the change could not be saved; nothing was recorded, please retry",
			Code:  "transaction_failed",
		})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}
