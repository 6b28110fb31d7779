package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airdash/airdash/internal/export"
)

// PostgresCatalog reads the catalog from the catalog_items and grid_sites
// tables maintained by the catalog sync job.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates a PostgreSQL catalog.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// List implements Lister.
func (c *PostgresCatalog) List(ctx context.Context, kind Kind, opts ListOptions) (*Page, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	query := `
		SELECT id, name, category, mobility, count(*) OVER ()
		FROM catalog_items
		WHERE kind = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%')
			AND ($3 = '' OR category = $3)
		ORDER BY name, id
		LIMIT $4 OFFSET $5
	`

	rows, err := c.pool.Query(ctx, query, string(kind), opts.Search, string(opts.Category), opts.PerPage, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	page := &Page{Page: opts.Page, PerPage: opts.PerPage, Items: []export.SelectableItem{}}
	for rows.Next() {
		var (
			item     export.SelectableItem
			category *string
			total    int
		)
		if err := rows.Scan(&item.ID, &item.Name, &category, &item.Mobility, &total); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		if category != nil {
			item.Category = export.DeviceCategory(*category)
		}
		page.Total = total
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	if len(page.Items) == 0 && opts.Page > 1 {
		// The window function yields no total past the last page.
		if err := c.pool.QueryRow(ctx, `
			SELECT count(*) FROM catalog_items
			WHERE kind = $1
				AND ($2 = '' OR name ILIKE '%' || $2 || '%')
				AND ($3 = '' OR category = $3)
		`, string(kind), opts.Search, string(opts.Category)).Scan(&page.Total); err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
	}
	return page, nil
}

// ResolveGrid implements GridResolver. An unknown grid and a grid without
// sites are told apart through the grids table.
func (c *PostgresCatalog) ResolveGrid(ctx context.Context, gridID string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT site_id FROM grid_sites WHERE grid_id = $1 ORDER BY site_id`, gridID)
	if err != nil {
		return nil, fmt.Errorf("resolve grid %s: %w", gridID, err)
	}
	sites, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("resolve grid %s: %w", gridID, err)
	}
	if len(sites) > 0 {
		return sites, nil
	}

	var exists bool
	if err := c.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1 AND kind IN ('countries', 'cities'))`, gridID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("resolve grid %s: %w", gridID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGridNotFound, gridID)
	}
	return []string{}, nil
}

// Ping checks that the database is reachable.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
