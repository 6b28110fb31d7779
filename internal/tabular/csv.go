package tabular

import (
	"strings"
)

// EscapeField quotes value when it contains a comma, a line break or a double
// quote, doubling any embedded quotes. Other values are returned unchanged.
func EscapeField(value string) string {
	if !strings.ContainsAny(value, ",\"\n\r") {
		return value
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// ParseLine splits one logical CSV line into its fields.
//
// A quote toggles quoted mode unless, inside quotes, it is immediately
// followed by another quote: that pair is an escaped quote and yields one
// literal '"'. Commas outside quotes end a field.
func ParseLine(line string) []string {
	fields := make([]string, 0, 8)
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	return append(fields, current.String())
}

// SplitLines splits CSV text into logical lines. Line breaks inside quoted
// fields do not end a line. A trailing line break yields a final empty line.
func SplitLines(text string) []string {
	var lines []string
	inQuotes := false
	start := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if !inQuotes {
				lines = append(lines, text[start:i])
				start = i + 1
			}
		}
	}

	return append(lines, text[start:])
}

// JoinFields escapes every field and joins them with commas.
func JoinFields(fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeField(f)
	}
	return strings.Join(escaped, ",")
}

// RowsToCSV renders rows as CSV. The header is the key order of the first
// row; later rows are written in header order, with missing keys left empty.
func RowsToCSV(rows []Record) string {
	if len(rows) == 0 {
		return ""
	}

	headers := rows[0].Keys()
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, JoinFields(headers))

	values := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			v, _ := row.Get(h)
			values[i] = FormatValue(v)
		}
		lines = append(lines, JoinFields(values))
	}

	return strings.Join(lines, "\n")
}

// FilterColumns keeps only the columns named in keys, in their original
// order, for the header and every row. The input is returned unchanged when
// keys is empty or names no column of the header.
func FilterColumns(text string, keys []string) string {
	if len(keys) == 0 || text == "" {
		return text
	}

	lines := SplitLines(text)
	header := ParseLine(trimLine(lines[0]))

	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[strings.TrimSpace(k)] = struct{}{}
	}

	keep := make([]int, 0, len(keys))
	for i, h := range header {
		if _, ok := wanted[cleanHeader(h, i)]; ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return text
	}

	out := make([]string, 0, len(lines))
	kept := make([]string, len(keep))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			out = append(out, line)
			continue
		}
		fields := ParseLine(trimLine(line))
		for j, idx := range keep {
			kept[j] = ""
			if idx < len(fields) {
				kept[j] = fields[idx]
			}
		}
		out = append(out, JoinFields(kept))
	}

	return strings.Join(out, "\n")
}

// ParseCSV reads CSV text into a header list and header-keyed rows. Blank
// lines are skipped; short rows are padded with empty values.
func ParseCSV(text string) ([]string, []Record) {
	var headers []string
	var rows []Record

	for _, line := range SplitLines(text) {
		line = trimLine(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := ParseLine(line)
		if headers == nil {
			headers = make([]string, len(fields))
			for i, f := range fields {
				headers[i] = cleanHeader(f, i)
			}
			continue
		}
		row := make(Record, len(headers))
		for i, h := range headers {
			row[i] = Field{Key: h}
			if i < len(fields) {
				row[i].Value = fields[i]
			} else {
				row[i].Value = ""
			}
		}
		rows = append(rows, row)
	}

	return headers, rows
}

func trimLine(line string) string {
	return strings.TrimSuffix(line, "\r")
}

// cleanHeader trims whitespace and, on the first column, a UTF-8 byte order mark.
func cleanHeader(h string, index int) string {
	if index == 0 {
		h = strings.TrimPrefix(h, "\ufeff")
	}
	return strings.TrimSpace(h)
}
