package handler

import (
	"context"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api/middleware"
	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/materialize"
	"github.com/airdash/airdash/internal/session"
	"github.com/airdash/airdash/internal/transfer"
)

// ExportHandler handles preview, download and job endpoints of a session.
type ExportHandler struct {
	store  *session.Store
	logger zerolog.Logger
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(store *session.Store, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		store:  store,
		logger: logger.With().Str("component", "export_handler").Logger(),
	}
}

func (h *ExportHandler) lookup(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := h.store.Get(GetUserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil
	}
	return sess
}

// Preview handles POST /v1/sessions/{sessionID}/preview.
func (h *ExportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	result, err := sess.Engine.Preview(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Download handles POST /v1/sessions/{sessionID}/download. The file is the
// response body, sent as an attachment.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	var input models.DownloadRequest
	if err := decodeOptionalJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	sink := &attachmentSink{w: w}
	_, err := sess.Engine.Download(r.Context(), input.Columns, sink)
	h.finish(w, r, sink, err)
}

// RetryDownload handles POST /v1/sessions/{sessionID}/download:retry. It
// resubmits the last download that failed with a retryable error.
func (h *ExportHandler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	sink := &attachmentSink{w: w}
	_, err := sess.Engine.RetryDownload(r.Context(), sink)
	h.finish(w, r, sink, err)
}

func (h *ExportHandler) finish(w http.ResponseWriter, r *http.Request, sink *attachmentSink, err error) {
	if err == nil {
		return
	}
	if sink.started {
		h.logger.Warn().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("download failed after the response started")
		return
	}
	writeError(w, r, h.logger, err)
}

// CancelJob handles DELETE /v1/sessions/{sessionID}/jobs/{slot}.
func (h *ExportHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	slot := transfer.Slot(chi.URLParam(r, "slot"))
	if slot != transfer.SlotPreview && slot != transfer.SlotDownload {
		response.BadRequest(w, r, "slot must be preview or download", []models.FieldError{
			{Field: "slot", Message: "must be preview or download"},
		})
		return
	}

	if !sess.Engine.Cancel(slot) {
		response.NotFound(w, r, "no "+string(slot)+" job in flight")
		return
	}
	response.NoContent(w, r)
}

// attachmentSink writes a materialized file as the HTTP response.
type attachmentSink struct {
	w       http.ResponseWriter
	started bool
}

var _ materialize.Sink = (*attachmentSink)(nil)

// Save implements materialize.Sink.
func (s *attachmentSink) Save(ctx context.Context, file *materialize.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := s.w.Header()
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		h.Set(middleware.RequestIDHeader, requestID)
	}
	h.Set("Content-Type", file.MediaType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	h.Set("Content-Length", strconv.Itoa(len(file.Bytes)))

	s.started = true
	s.w.WriteHeader(http.StatusOK)
	_, err := s.w.Write(file.Bytes)
	return err
}
