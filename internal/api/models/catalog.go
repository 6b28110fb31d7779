package models

import "github.com/airdash/airdash/internal/export"

// ColumnsResponse lists the columns an export may contain.
type ColumnsResponse struct {
	Columns []export.Column `json:"columns"`
}

// CatalogPage is one page of selectable items.
type CatalogPage struct {
	Kind  string                  `json:"kind"`
	Items []export.SelectableItem `json:"items"`
	Meta  PageMeta                `json:"meta"`
}
