package materialize

import (
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/tabular"
)

// CSVRenderer writes comma separated values. CSV input is filtered in place;
// row input is re-rendered with every cell escaped.
type CSVRenderer struct{}

// Format implements Renderer.
func (CSVRenderer) Format() export.FileType { return export.FileCSV }

// Render implements Renderer.
func (CSVRenderer) Render(t *Table) ([]byte, error) {
	var out string
	if text, ok := t.CSV(); ok {
		out = tabular.FilterColumns(text, t.Columns)
	} else {
		out = tabular.RowsToCSV(t.SelectedRows())
	}

	if len(out) <= EmptyThreshold {
		return nil, emptyResult()
	}
	return []byte(out), nil
}
