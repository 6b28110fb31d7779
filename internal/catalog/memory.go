package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/airdash/airdash/internal/export"
)

// MemoryCatalog is an in-memory Catalog for development and tests.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[Kind][]export.SelectableItem
	grids map[string][]string
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		items: make(map[Kind][]export.SelectableItem),
		grids: make(map[string][]string),
	}
}

// Add appends items to kind.
func (c *MemoryCatalog) Add(kind Kind, items ...export.SelectableItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[kind] = append(c.items[kind], items...)
}

// SetGrid sets the sites of a grid.
func (c *MemoryCatalog) SetGrid(gridID string, siteIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grids[gridID] = append([]string(nil), siteIDs...)
}

// List implements Lister. Search matches names case-insensitively; Category
// filters devices.
func (c *MemoryCatalog) List(_ context.Context, kind Kind, opts ListOptions) (*Page, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	c.mu.RLock()
	all := c.items[kind]
	c.mu.RUnlock()

	search := strings.ToLower(opts.Search)
	matched := make([]export.SelectableItem, 0, len(all))
	for _, item := range all {
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		if opts.Category != "" && item.Category != opts.Category {
			continue
		}
		matched = append(matched, item)
	}

	page := &Page{Page: opts.Page, PerPage: opts.PerPage, Total: len(matched), Items: []export.SelectableItem{}}
	if start := opts.Offset(); start < len(matched) {
		end := min(start+opts.PerPage, len(matched))
		page.Items = append(page.Items, matched[start:end]...)
	}
	return page, nil
}

// ResolveGrid implements GridResolver.
func (c *MemoryCatalog) ResolveGrid(_ context.Context, gridID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sites, ok := c.grids[gridID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGridNotFound, gridID)
	}
	return append([]string(nil), sites...), nil
}
