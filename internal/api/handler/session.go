package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/session"
	"github.com/airdash/airdash/internal/transfer"
)

// SessionHandler handles the export session and form state endpoints.
type SessionHandler struct {
	store  *session.Store
	logger zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store *session.Store, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: logger.With().Str("component", "session_handler").Logger(),
	}
}

// lookup loads the session named in the URL for the calling user. It writes
// the error response and returns nil when there is none.
func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := h.store.Get(GetUserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil
	}
	return sess
}

// CreateSession handles POST /v1/sessions.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var input models.CreateSessionRequest
	if err := decodeOptionalJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	flow, err := session.ParseFlow(input.Flow)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sess, err := h.store.Create(GetUserID(r.Context()), flow)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, r, "/v1/sessions/"+sess.ID, h.view(sess))
}

// GetSession handles GET /v1/sessions/{sessionID}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

// DeleteSession handles DELETE /v1/sessions/{sessionID}.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(GetUserID(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.NoContent(w, r)
}

// SetFilterType handles PUT /v1/sessions/{sessionID}/filter-type.
func (h *SessionHandler) SetFilterType(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	var input models.FilterTypeRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	ft := export.FilterType(strings.ToLower(strings.TrimSpace(input.FilterType)))
	if err := sess.Engine.State().SetFilterType(ft); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

// ToggleSelection handles POST /v1/sessions/{sessionID}/selection:toggle.
func (h *SessionHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	var input models.ToggleRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	item := input.Item
	if item.Category != "" {
		item.Category = export.NormalizeDeviceCategory(string(item.Category))
	}
	if err := sess.Engine.State().ToggleItem(item); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

// ClearSelection handles DELETE /v1/sessions/{sessionID}/selection.
func (h *SessionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Engine.State().ClearSelection()
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

// PatchConfiguration handles PATCH /v1/sessions/{sessionID}/configuration.
// Fields are applied in a fixed order so the device category rules see the
// category before the data type and frequency. The first invalid field
// stops the patch; fields before it stay applied.
func (h *SessionHandler) PatchConfiguration(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	var patch models.ConfigurationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := applyPatch(sess.Engine.State(), patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

func applyPatch(state *export.FormState, p models.ConfigurationPatch) error {
	fields := []struct {
		field export.Field
		value *string
	}{
		{export.FieldTitle, p.Title},
		{export.FieldDeviceCategory, p.DeviceCategory},
		{export.FieldDataType, p.DataType},
		{export.FieldStartDate, p.StartDate},
		{export.FieldEndDate, p.EndDate},
		{export.FieldFrequency, p.Frequency},
		{export.FieldFileType, p.FileType},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := state.SetField(f.field, *f.value); err != nil {
			return err
		}
	}
	if p.Pollutants != nil {
		state.SetPollutants(p.Pollutants)
	}
	return nil
}

func (h *SessionHandler) view(sess *session.Session) models.Session {
	eng := sess.Engine
	limits := eng.State().Limits()

	formats := make([]string, 0, 3)
	for _, f := range eng.Formats() {
		formats = append(formats, string(f))
	}

	return models.Session{
		ID:        sess.ID,
		Flow:      string(sess.Flow),
		CreatedAt: models.Timestamp(sess.CreatedAt),
		ExpiresAt: models.Timestamp(sess.ExpiresAt(h.store.TTL())),
		Limits:    models.SelectionLimits{Max: limits.Max, RequireOne: limits.RequireOne},
		State:     eng.State().Snapshot(),
		Jobs: models.Jobs{
			Preview:  eng.InFlight(transfer.SlotPreview),
			Download: eng.InFlight(transfer.SlotDownload),
		},
		CanRetry: eng.CanRetry(),
		Formats:  formats,
	}
}
