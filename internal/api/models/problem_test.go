package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdash/airdash/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_test123").
		WithDetail("select a start and end date").
		WithInstance("/v1/sessions/s1/download").
		WithErrors([]models.FieldError{{Field: "startDate", Message: "required", Code: "validation"}}).
		WithKind("validation", false)

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "req_test123", p.TraceID)
	assert.Equal(t, "select a start and end date", p.Detail)
	assert.Equal(t, "/v1/sessions/s1/download", p.Instance)
	assert.Equal(t, "validation", p.Kind)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "startDate", p.Errors[0].Field)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewUnprocessable("req_test123", "select at least one location", []models.FieldError{
		{Field: "selection", Message: "select at least one location"},
	}).WithKind("validation", false)
	p.Instance = "/v1/sessions/s1/preview"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Export not ready", result.Title)
	assert.Equal(t, "/v1/sessions/s1/preview", result.Instance)
	assert.Equal(t, "validation", result.Kind)
	assert.False(t, result.Retryable)
	require.Len(t, result.Errors, 1)
}

func TestProblem_WriteWithoutTraceID(t *testing.T) {
	w := httptest.NewRecorder()
	models.NewInternalError("", "boom").Write(w)

	assert.Empty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		p      *models.Problem
		typ    string
		title  string
		status int
	}{
		{"bad request", models.NewBadRequest("r", "d", nil), models.ProblemTypeValidation, "Validation error", http.StatusBadRequest},
		{"unprocessable", models.NewUnprocessable("r", "d", nil), models.ProblemTypeValidation, "Export not ready", http.StatusUnprocessableEntity},
		{"unauthorized", models.NewUnauthorized("r", "d"), models.ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized},
		{"not found", models.NewNotFound("r", "d"), models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"empty result", models.NewEmptyResult("r", "d"), models.ProblemTypeEmptyResult, "No data", http.StatusNotFound},
		{"conflict", models.NewConflict("r", "d"), models.ProblemTypeConflict, "Conflict", http.StatusConflict},
		{"unsupported format", models.NewUnsupportedFormat("r", "d"), models.ProblemTypeUnsupportedFormat, "Unsupported format", http.StatusUnsupportedMediaType},
		{"too many requests", models.NewTooManyRequests("r", "d"), models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("r", "d"), models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"bad gateway", models.NewBadGateway("r", "d"), models.ProblemTypeUpstream, "Upstream error", http.StatusBadGateway},
		{"unavailable", models.NewServiceUnavailable("r", "d"), models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
		{"gateway timeout", models.NewGatewayTimeout("r", "d"), models.ProblemTypeTimeout, "Request timed out", http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.p.Type)
			assert.Equal(t, tt.title, tt.p.Title)
			assert.Equal(t, tt.status, tt.p.Status)
			assert.Equal(t, "d", tt.p.Detail)
			assert.Equal(t, "r", tt.p.TraceID)
		})
	}
}
