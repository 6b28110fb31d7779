// Package catalog supplies the selectable entities of an export and resolves
// grids (countries and cities) into their monitoring sites.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/airdash/airdash/internal/export"
)

var (
	// ErrUnknownKind is returned for an entity kind outside the catalog.
	ErrUnknownKind = errors.New("unknown catalog kind")

	// ErrGridNotFound is returned when a grid id does not exist.
	ErrGridNotFound = errors.New("grid not found")
)

// Kind is a listable entity kind.
type Kind string

const (
	KindCountries     Kind = "countries"
	KindCities        Kind = "cities"
	KindSites         Kind = "sites"
	KindDevices       Kind = "devices"
	KindMobileDevices Kind = "mobile_devices"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindCountries, KindCities, KindSites, KindDevices, KindMobileDevices}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// KindFor returns the catalog kind that backs a filter type.
func KindFor(ft export.FilterType) Kind {
	return Kind(ft)
}

// DefaultPerPage and MaxPerPage bound list page sizes.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// ListOptions select one page of a list.
type ListOptions struct {
	Page     int
	PerPage  int
	Search   string
	Category export.DeviceCategory
}

// Normalize clamps the page and page size to their valid ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	o.Search = strings.TrimSpace(o.Search)
	return o
}

// Offset returns the zero-based index of the first item on the page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

// Page is one page of a list.
type Page struct {
	Items   []export.SelectableItem `json:"items"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"perPage"`
	Total   int                     `json:"total"`
}

// HasMore reports whether items exist past this page.
func (p *Page) HasMore() bool {
	return p.Page*p.PerPage < p.Total
}

// Lister lists selectable entities.
type Lister interface {
	List(ctx context.Context, kind Kind, opts ListOptions) (*Page, error)
}

// GridResolver resolves a country or city id to the site ids it contains.
type GridResolver interface {
	ResolveGrid(ctx context.Context, gridID string) ([]string, error)
}

// Catalog is both a Lister and a GridResolver.
type Catalog interface {
	Lister
	GridResolver
}
