package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api/middleware"
	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/session"
)

// writeError maps err to a problem response. A cancelled export answers
// 204 with no body: the caller either went away or started a newer job.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	if export.IsCancelled(err) {
		response.NoContent(w, r)
		return
	}

	problem := problemFor(middleware.GetRequestID(r.Context()), err)
	if problem.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", problem.TraceID).Int("status", problem.Status).Msg("request failed")
	}
	response.Error(w, r, problem)
}

func problemFor(traceID string, err error) *models.Problem {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return models.NewNotFound(traceID, "session not found")
	case errors.Is(err, session.ErrUnknownFlow):
		return models.NewBadRequest(traceID, err.Error(), []models.FieldError{{Field: "flow", Message: err.Error()}})
	case errors.Is(err, catalog.ErrUnknownKind):
		return models.NewBadRequest(traceID, err.Error(), []models.FieldError{{Field: "kind", Message: err.Error()}})
	}

	var e *export.Error
	if !errors.As(err, &e) {
		return models.NewInternalError(traceID, "an unexpected error occurred")
	}

	detail := e.Error()
	inner := e
	if e.Kind == export.KindPreview {
		var wrapped *export.Error
		if errors.As(e.Err, &wrapped) {
			inner = wrapped
		}
	}

	var p *models.Problem
	switch inner.Kind {
	case export.KindValidation:
		var fields []models.FieldError
		if inner.Field != "" {
			fields = []models.FieldError{{Field: inner.Field, Message: inner.Error(), Code: string(inner.Kind)}}
		}
		p = models.NewUnprocessable(traceID, detail, fields)
	case export.KindSelectionLimit, export.KindMinimumSelection:
		p = models.NewConflict(traceID, detail)
	case export.KindTimeout:
		p = models.NewGatewayTimeout(traceID, detail)
	case export.KindEmptyResult:
		p = models.NewEmptyResult(traceID, detail)
	case export.KindUnsupportedFormat:
		p = models.NewUnsupportedFormat(traceID, detail)
	default:
		p = models.NewBadGateway(traceID, detail)
	}
	return p.WithKind(string(e.Kind), export.IsRetryable(err))
}
