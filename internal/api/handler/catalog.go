package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/export"
)

// CatalogHandler serves the column catalog and the selectable entity lists.
type CatalogHandler struct {
	lister catalog.Lister
	logger zerolog.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(lister catalog.Lister, logger zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		lister: lister,
		logger: logger.With().Str("component", "catalog_handler").Logger(),
	}
}

// Columns handles GET /v1/catalog/columns.
func (h *CatalogHandler) Columns(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.ColumnsResponse{Columns: export.Columns()})
}

// List handles GET /v1/catalog/{kind}?page=&perPage=&search=&category=.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, err := catalog.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	var fieldErrors []models.FieldError
	page, ok := queryInt(q.Get("page"))
	if !ok {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "page", Message: "must be a positive integer"})
	}
	perPage, ok := queryInt(q.Get("perPage"))
	if !ok {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "perPage", Message: "must be a positive integer"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid pagination", fieldErrors)
		return
	}

	opts := catalog.ListOptions{Page: page, PerPage: perPage, Search: q.Get("search")}
	if c := q.Get("category"); c != "" {
		opts.Category = export.DeviceCategory(strings.ToLower(c))
	}

	result, err := h.lister.List(r.Context(), kind, opts)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownKind) {
			writeError(w, r, h.logger, err)
			return
		}
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("catalog list failed")
		response.Error(w, r, models.NewBadGateway("", "could not load the "+string(kind)+" list"))
		return
	}

	response.JSON(w, r, http.StatusOK, models.CatalogPage{
		Kind:  string(kind),
		Items: result.Items,
		Meta: models.PageMeta{
			Page:    result.Page,
			PerPage: result.PerPage,
			Total:   result.Total,
			HasMore: result.HasMore(),
		},
	})
}

// queryInt parses an optional positive integer query value.
func queryInt(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
