// Package airqo lists catalog entities and resolves grids through the AirQo
// devices API.
package airqo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL of the AirQo API.
	DefaultBaseURL = "https://api.airqo.net/api/v2"

	// ProviderName identifies this client in the provider registry.
	ProviderName = "catalog"
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the catalog client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Token is sent as the token query parameter when set.
	Token string

	// HTTPClient overrides the default resilient client.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// Registry receives breaker health when no HTTPClient is given.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client is a catalog.Catalog backed by the AirQo API.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ catalog.Catalog = (*Client)(nil)

// NewClient creates a catalog client. Reads are idempotent, so the default
// client retries transient failures.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		logger := cfg.Logger
		cb := resilience.DefaultCircuitBreakerConfig(ProviderName)
		cb.Logger = &logger
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			CircuitBreaker:  &cb,
			Registry:        cfg.Registry,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "catalog").Logger(),
	}
}

// API response types.

type meta struct {
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

type siteRef struct {
	ID string `json:"_id"`
}

type entity struct {
	ID         string    `json:"_id"`
	Name       string    `json:"name"`
	LongName   string    `json:"long_name"`
	SearchName string    `json:"search_name"`
	Category   string    `json:"category"`
	Mobility   *bool     `json:"mobility"`
	Sites      []siteRef `json:"sites"`
}

type listResponse struct {
	Meta    meta     `json:"meta"`
	Grids   []entity `json:"grids"`
	Sites   []entity `json:"sites"`
	Devices []entity `json:"devices"`
}

var errNotFound = errors.New("not found")

type errorResponse struct {
	Message string `json:"message"`
}

// List implements catalog.Lister.
func (c *Client) List(ctx context.Context, kind catalog.Kind, opts catalog.ListOptions) (*catalog.Page, error) {
	if _, err := catalog.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	path, query := listEndpoint(kind, opts)
	query.Set("skip", strconv.Itoa(opts.Offset()))
	query.Set("limit", strconv.Itoa(opts.PerPage))
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}

	var body listResponse
	if err := c.get(ctx, path, query, &body); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	var entities []entity
	switch kind {
	case catalog.KindCountries, catalog.KindCities:
		entities = body.Grids
	case catalog.KindSites:
		entities = body.Sites
	default:
		entities = body.Devices
	}

	page := &catalog.Page{
		Page:    opts.Page,
		PerPage: opts.PerPage,
		Total:   body.Meta.Total,
		Items:   make([]export.SelectableItem, 0, len(entities)),
	}
	for _, e := range entities {
		page.Items = append(page.Items, e.item(kind))
	}
	if page.Total < opts.Offset()+len(page.Items) {
		page.Total = opts.Offset() + len(page.Items)
	}

	c.logger.Debug().
		Str("kind", string(kind)).
		Int("page", opts.Page).
		Int("items", len(page.Items)).
		Int("total", page.Total).
		Msg("listed catalog page")

	return page, nil
}

// ResolveGrid implements catalog.GridResolver.
func (c *Client) ResolveGrid(ctx context.Context, gridID string) ([]string, error) {
	var body listResponse
	err := c.get(ctx, "/devices/grids/"+url.PathEscape(gridID), url.Values{}, &body)
	if err != nil && !errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("resolve grid %s: %w", gridID, err)
	}
	if err != nil || len(body.Grids) == 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrGridNotFound, gridID)
	}

	sites := make([]string, 0, len(body.Grids[0].Sites))
	for _, s := range body.Grids[0].Sites {
		if s.ID != "" {
			sites = append(sites, s.ID)
		}
	}
	return sites, nil
}

func listEndpoint(kind catalog.Kind, opts catalog.ListOptions) (string, url.Values) {
	q := url.Values{}
	switch kind {
	case catalog.KindCountries:
		q.Set("admin_level", "country")
		return "/devices/grids/summary", q
	case catalog.KindCities:
		q.Set("admin_level", "city")
		return "/devices/grids/summary", q
	case catalog.KindSites:
		return "/devices/sites/summary", q
	case catalog.KindMobileDevices:
		q.Set("category", string(export.CategoryMobile))
		return "/devices/summary", q
	default:
		if opts.Category != "" {
			q.Set("category", string(opts.Category))
		}
		return "/devices/summary", q
	}
}

func (e entity) item(kind catalog.Kind) export.SelectableItem {
	item := export.SelectableItem{ID: e.ID, Name: e.Name}
	switch {
	case kind == catalog.KindSites && e.SearchName != "":
		item.Name = e.SearchName
	case item.Name == "":
		item.Name = e.LongName
	}
	if kind == catalog.KindDevices || kind == catalog.KindMobileDevices {
		item.Category = export.NormalizeDeviceCategory(e.Category)
		item.Mobility = e.Mobility
	}
	return item
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.token != "" {
		query.Set("token", c.token)
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var eb errorResponse
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(payload, &eb) == nil && eb.Message != "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, eb.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
