package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdash/airdash/internal/api"
	"github.com/airdash/airdash/internal/api/handler"
	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/auth"
	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/provider/resilience"
	"github.com/airdash/airdash/internal/session"
	"github.com/airdash/airdash/internal/transfer"
)

const (
	testSigningKey = "test-secret-key-for-testing-only"
	sampleCSV      = "datetime,site_name,pm2_5\n2024-01-01T00:00:00Z,Nakawa,12.5\n2024-01-02T00:00:00Z,Nakawa,14.1"
)

type testServer struct {
	handler http.Handler
	tokens  *auth.JWTService
	failing atomic.Bool
	calls   atomic.Int32
}

func newTestServer(t *testing.T, checks ...handler.ReadinessCheck) *testServer {
	t.Helper()
	ts := &testServer{tokens: auth.NewJWTService(auth.JWTConfig{SigningKey: testSigningKey})}

	cat := catalog.NewMemoryCatalog()
	cat.Add(catalog.KindSites,
		export.SelectableItem{ID: "site_1", Name: "Nakawa"},
		export.SelectableItem{ID: "site_2", Name: "Kireka"},
		export.SelectableItem{ID: "site_3", Name: "Makerere"},
	)
	cat.SetGrid("grid_kampala", "site_1", "site_2")
	cat.Add(catalog.KindCities, export.SelectableItem{ID: "grid_kampala", Name: "Kampala"})

	transport := transfer.TransportFunc(func(context.Context, *export.Request) (export.RawResponse, error) {
		ts.calls.Add(1)
		if ts.failing.Load() {
			return export.RawResponse{}, errors.New("upstream connection reset")
		}
		return export.TextResponse(sampleCSV), nil
	})

	store := session.NewStore(session.StoreConfig{
		NewEngine: func(id string, limits export.SelectionLimits) *engine.Engine {
			return engine.New(engine.Config{
				Transport: transport,
				Resolver:  cat,
				Limits:    limits,
				SessionID: id,
				Logger:    zerolog.Nop(),
			})
		},
		Logger: zerolog.Nop(),
	})

	ts.handler = api.NewRouter(api.RouterConfig{
		Version:         "test",
		BuildTime:       "2024-01-01T00:00:00Z",
		Logger:          zerolog.Nop(),
		Sessions:        store,
		Catalog:         cat,
		Registry:        resilience.NewRegistry(),
		Tokens:          ts.tokens,
		ReadinessChecks: checks,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := ts.tokens.IssueAccessToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, user))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createSession(t *testing.T, user, flow string) models.Session {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/sessions", user, models.CreateSessionRequest{Flow: flow})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[models.Session](t, rec)
	assert.Equal(t, "/v1/sessions/"+sess.ID, rec.Header().Get("Location"))
	return sess
}

// prepare selects site_1 and sets a title and a January 2024 window.
func (ts *testServer) prepare(t *testing.T, user, id string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/selection:toggle", user,
		models.ToggleRequest{Item: export.SelectableItem{ID: "site_1", Name: "Nakawa"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	title, start, end := "Kampala weekly", "2024-01-01", "2024-01-31"
	rec = ts.do(t, http.MethodPatch, "/v1/sessions/"+id+"/configuration", user,
		models.ConfigurationPatch{Title: &title, StartDate: &start, EndDate: &end})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/ops/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReadinessCheck(t *testing.T) {
	ts := newTestServer(t,
		handler.ReadinessCheck{Name: "catalog", Check: func(context.Context) error { return nil }},
		handler.ReadinessCheck{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := ts.do(t, http.MethodGet, "/v1/ops/ready", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, "ok", health.Details["catalog"])
	assert.Equal(t, "connection refused", health.Details["database"])
}

func TestProviders_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/v1/ops/providers", "", nil).Code)

	rec := ts.do(t, http.MethodGet, "/v1/ops/providers", "usr_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[models.ProvidersResponse](t, rec)
	assert.Equal(t, models.HealthStatusOK, out.Status)
	assert.Empty(t, out.Providers)
}

func TestSessions_RequireAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	sess := ts.createSession(t, "usr_a", "favorites")

	assert.Equal(t, "favorites", sess.Flow)
	assert.Equal(t, 4, sess.Limits.Max)
	assert.True(t, sess.Limits.RequireOne)
	assert.Equal(t, export.FilterSites, sess.State.FilterType)
	assert.Equal(t, export.FileCSV, sess.State.Configuration.FileType)
	assert.ElementsMatch(t, []string{"csv", "json", "pdf"}, sess.Formats)
	assert.True(t, sess.ExpiresAt.Time().After(sess.CreatedAt.Time()))
}

func TestCreateSession_EmptyBodyUsesAnalysis(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions", "usr_a", nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "analysis", decode[models.Session](t, rec).Flow)
}

func TestCreateSession_UnknownFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions", "usr_a", models.CreateSessionRequest{Flow: "reports"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p := decode[models.Problem](t, rec)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "flow", p.Errors[0].Field)
}

func TestCreateSession_RejectsNonJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader("flow=analysis"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "usr_a"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestSession_ForeignUserNotFound(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, "usr_a", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, "usr_b", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, "usr_b", nil).Code)
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, "usr_a", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, "usr_a", nil).Code)
}

func TestSelection_FavoritesLimit(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "favorites")
	path := "/v1/sessions/" + sess.ID + "/selection:toggle"

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		rec := ts.do(t, http.MethodPost, path, "usr_a", models.ToggleRequest{Item: export.SelectableItem{ID: id}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodPost, path, "usr_a", models.ToggleRequest{Item: export.SelectableItem{ID: "s5"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	p := decode[models.Problem](t, rec)
	assert.Equal(t, string(export.KindSelectionLimit), p.Kind)
	assert.Contains(t, p.Detail, "up to 4")

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, "usr_a", nil)
	assert.Len(t, decode[models.Session](t, rec).State.Selection, 4)
}

func TestFilterType_ClearsSelection(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	ts.prepare(t, "usr_a", sess.ID)

	rec := ts.do(t, http.MethodPut, "/v1/sessions/"+sess.ID+"/filter-type", "usr_a", models.FilterTypeRequest{FilterType: "Cities"})

	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[models.Session](t, rec).State
	assert.Equal(t, export.FilterCities, state.FilterType)
	assert.Empty(t, state.Selection)

	rec = ts.do(t, http.MethodPut, "/v1/sessions/"+sess.ID+"/filter-type", "usr_a", models.FilterTypeRequest{FilterType: "planets"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPatchConfiguration_CategoryRules(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	category, frequency := "mobile", "daily"
	rec := ts.do(t, http.MethodPatch, "/v1/sessions/"+sess.ID+"/configuration", "usr_a",
		models.ConfigurationPatch{DeviceCategory: &category, Frequency: &frequency, Pollutants: []string{"pm2_5"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decode[models.Session](t, rec).State.Configuration
	assert.Equal(t, export.CategoryMobile, cfg.DeviceCategory)
	assert.Equal(t, export.DataRaw, cfg.DataType)
	assert.Equal(t, export.FrequencyRaw, cfg.Frequency)
	assert.Equal(t, []string{"pm2_5"}, cfg.Pollutants)
}

func TestPatchConfiguration_InvalidField(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	bad := "not-a-date"
	rec := ts.do(t, http.MethodPatch, "/v1/sessions/"+sess.ID+"/configuration", "usr_a",
		models.ConfigurationPatch{StartDate: &bad})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decode[models.Problem](t, rec)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "startDate", p.Errors[0].Field)

	fileType := "xlsx"
	rec = ts.do(t, http.MethodPatch, "/v1/sessions/"+sess.ID+"/configuration", "usr_a",
		models.ConfigurationPatch{FileType: &fileType})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestPatchConfiguration_UnknownJSONField(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	rec := ts.do(t, http.MethodPatch, "/v1/sessions/"+sess.ID+"/configuration", "usr_a", map[string]string{"colour": "red"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	ts.prepare(t, "usr_a", sess.ID)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/preview", "usr_a", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[export.PreviewResult](t, rec)
	assert.Equal(t, []string{"datetime", "site_name", "pm2_5"}, result.Headers)
	assert.Len(t, result.Rows, 2)
}

func TestPreview_ValidationError(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/preview", "usr_a", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decode[models.Problem](t, rec)
	assert.Equal(t, string(export.KindValidation), p.Kind)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "selection", p.Errors[0].Field)
	assert.Zero(t, ts.calls.Load())
}

func TestDownload_Attachment(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	ts.prepare(t, "usr_a", sess.ID)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/download", "usr_a", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "attachment; filename=Kampala_weekly.csv", rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Contains(t, rec.Body.String(), "Nakawa")

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, "usr_a", nil)
	assert.Empty(t, decode[models.Session](t, rec).State.Selection)
}

func TestDownload_SelectedColumns(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	ts.prepare(t, "usr_a", sess.ID)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/download", "usr_a",
		models.DownloadRequest{Columns: []string{"pm2_5"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	header := strings.SplitN(strings.TrimPrefix(rec.Body.String(), "\ufeff"), "\n", 2)[0]
	assert.NotContains(t, header, "site_name")
	assert.Contains(t, header, "pm2_5")
	assert.Contains(t, header, "datetime")
}

func TestDownload_GridSelection(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	base := "/v1/sessions/" + sess.ID

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/filter-type", "usr_a", models.FilterTypeRequest{FilterType: "cities"}).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/selection:toggle", "usr_a",
		models.ToggleRequest{Item: export.SelectableItem{ID: "grid_kampala"}}).Code)
	start, end := "2024-01-01", "2024-01-31"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPatch, base+"/configuration", "usr_a",
		models.ConfigurationPatch{StartDate: &start, EndDate: &end}).Code)

	rec := ts.do(t, http.MethodPost, base+"/download", "usr_a", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDownload_TransportErrorThenRetry(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	ts.prepare(t, "usr_a", sess.ID)
	base := "/v1/sessions/" + sess.ID

	ts.failing.Store(true)
	rec := ts.do(t, http.MethodPost, base+"/download", "usr_a", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	p := decode[models.Problem](t, rec)
	assert.Equal(t, string(export.KindTransport), p.Kind)
	assert.True(t, p.Retryable)

	rec = ts.do(t, http.MethodGet, base, "usr_a", nil)
	assert.True(t, decode[models.Session](t, rec).CanRetry)

	ts.failing.Store(false)
	rec = ts.do(t, http.MethodPost, base+"/download:retry", "usr_a", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Kampala_weekly.csv")

	rec = ts.do(t, http.MethodPost, base+"/download:retry", "usr_a", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t, "usr_a", "")
	base := "/v1/sessions/" + sess.ID

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, base+"/jobs/download", "usr_a", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, base+"/jobs/upload", "usr_a", nil).Code)
}

func TestCatalog_Columns(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/catalog/columns", "usr_a", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[models.ColumnsResponse](t, rec).Columns
	require.NotEmpty(t, cols)
	assert.Equal(t, "datetime", cols[0].Key)
	assert.True(t, cols[0].Required)
}

func TestCatalog_List(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/catalog/sites?page=1&perPage=2", "usr_a", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[models.CatalogPage](t, rec)
	assert.Equal(t, "sites", page.Kind)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Meta.Total)
	assert.True(t, page.Meta.HasMore)

	rec = ts.do(t, http.MethodGet, "/v1/catalog/sites?search=kir", "usr_a", nil)
	page = decode[models.CatalogPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "site_2", page.Items[0].ID)
}

func TestCatalog_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/catalog/planets", "usr_a", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/catalog/sites?page=0", "usr_a", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/catalog/sites?perPage=abc", "usr_a", nil).Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestAuthDisabled_UsesAnonymousUser(t *testing.T) {
	store := session.NewStore(session.StoreConfig{
		NewEngine: func(id string, limits export.SelectionLimits) *engine.Engine {
			return engine.New(engine.Config{Limits: limits, SessionID: id, Logger: zerolog.Nop()})
		},
		Logger: zerolog.Nop(),
	})
	router := api.NewRouter(api.RouterConfig{
		Logger:   zerolog.Nop(),
		Sessions: store,
		Catalog:  catalog.NewMemoryCatalog(),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[models.Session](t, rec)

	got, err := store.Get(api.DefaultAnonymousUser, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.DefaultAnonymousUser, got.UserID)
}
