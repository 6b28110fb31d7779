package materialize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/tabular"
)

// ProtocolPrefix is the anti-hijacking marker some API gateways prepend to
// text responses.
const ProtocolPrefix = ")]}'"

// Table is a normalized response. It keeps the original CSV text when the
// response was CSV so that filtering does not re-render unchanged cells.
type Table struct {
	Title string

	// Columns selected for output, in any order. Empty means all.
	Columns []string

	csv     string
	isCSV   bool
	headers []string
	rows    []tabular.Record
	parsed  bool
}

// NewTable builds a table from rows.
func NewTable(rows []tabular.Record) *Table {
	t := &Table{rows: rows, parsed: true}
	if len(rows) > 0 {
		t.headers = rows[0].Keys()
	}
	return t
}

// NewCSVTable builds a table from CSV text.
func NewCSVTable(text string) *Table {
	return &Table{csv: text, isCSV: true}
}

func (t *Table) parse() {
	if t.parsed {
		return
	}
	t.headers, t.rows = tabular.ParseCSV(t.csv)
	t.parsed = true
}

// Headers returns the column names in source order.
func (t *Table) Headers() []string {
	t.parse()
	return t.headers
}

// Rows returns the data rows.
func (t *Table) Rows() []tabular.Record {
	t.parse()
	return t.rows
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows())
}

// CSV returns the source text and whether the table came from CSV.
func (t *Table) CSV() (string, bool) {
	return t.csv, t.isCSV
}

// Selected returns the headers kept by Columns, in source order. When
// Columns is empty or names no header, every header is kept.
func (t *Table) Selected() []string {
	headers := t.Headers()
	if len(t.Columns) == 0 {
		return headers
	}
	wanted := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		wanted[c] = struct{}{}
	}
	kept := make([]string, 0, len(t.Columns))
	for _, h := range headers {
		if _, ok := wanted[h]; ok {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return headers
	}
	return kept
}

// SelectedRows returns the rows projected onto Selected.
func (t *Table) SelectedRows() []tabular.Record {
	keys := t.Selected()
	rows := t.Rows()
	out := make([]tabular.Record, 0, len(rows))
	for _, r := range rows {
		projected := make(tabular.Record, len(keys))
		for i, k := range keys {
			v, _ := r.Get(k)
			projected[i] = tabular.Field{Key: k, Value: v}
		}
		out = append(out, projected)
	}
	return out
}

// StripPrefix removes a leading ProtocolPrefix from text.
func StripPrefix(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, ProtocolPrefix) {
		return strings.TrimPrefix(trimmed, ProtocolPrefix)
	}
	return text
}

// looksLikeJSON reports whether text starts, after whitespace, with { or [.
// A CSV whose first cell starts with either character is misread here;
// decoding then fails and the text is treated as CSV.
func looksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Normalize resolves the shape of raw once: text is stripped of the protocol
// prefix and read as JSON when it looks like JSON and decodes, else as CSV.
// Structured payloads are converted to rows.
func Normalize(raw export.RawResponse) (*Table, error) {
	if text, ok := raw.Text(); ok {
		text = StripPrefix(text)
		if looksLikeJSON(text) {
			if rows, err := tabular.DecodeRecords(bytes.TrimSpace([]byte(text))); err == nil {
				return NewTable(rows), nil
			}
		}
		return NewCSVTable(strings.TrimLeft(text, "\r\n")), nil
	}

	if v, ok := raw.Structured(); ok {
		if s, isString := v.(string); isString {
			return Normalize(export.TextResponse(s))
		}
		rows, err := tabular.ToRecords(v)
		if err != nil {
			return nil, export.WrapError(export.KindTransport, "the export service returned an unreadable response", fmt.Errorf("normalize response: %w", err))
		}
		return NewTable(rows), nil
	}

	return nil, emptyResult()
}
