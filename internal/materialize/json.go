package materialize

import (
	"encoding/json"
	"fmt"

	"github.com/airdash/airdash/internal/export"
)

// JSONRenderer writes an indented array of row objects, keys in column order.
type JSONRenderer struct {
	Indent string
}

// Format implements Renderer.
func (JSONRenderer) Format() export.FileType { return export.FileJSON }

// Render implements Renderer.
func (r JSONRenderer) Render(t *Table) ([]byte, error) {
	rows := t.SelectedRows()
	if len(rows) == 0 {
		return nil, emptyResult()
	}

	data, err := json.MarshalIndent(rows, "", r.Indent)
	if err != nil {
		return nil, fmt.Errorf("encode json export: %w", err)
	}
	return append(data, '\n'), nil
}
