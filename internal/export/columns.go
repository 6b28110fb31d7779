package export

// Column describes one column an export may contain.
type Column struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Default  bool   `json:"default"`
}

var columnCatalog = []Column{
	{Key: "datetime", Label: "Date & time", Required: true, Default: true},
	{Key: "month", Label: "Month", Required: true, Default: true},
	{Key: "device_name", Label: "Device name", Default: true},
	{Key: "frequency", Label: "Frequency", Default: true},
	{Key: "humidity", Label: "Humidity"},
	{Key: "latitude", Label: "Latitude"},
	{Key: "longitude", Label: "Longitude"},
	{Key: "network", Label: "Network"},
	{Key: "pm10", Label: "PM10", Default: true},
	{Key: "pm10_calibrated_value", Label: "PM10 calibrated", Default: true},
	{Key: "pm2_5", Label: "PM2.5", Default: true},
	{Key: "pm2_5_calibrated_value", Label: "PM2.5 calibrated", Default: true},
	{Key: "site_name", Label: "Site name", Default: true},
	{Key: "temperature", Label: "Temperature"},
}

// Columns returns the fixed column catalog.
func Columns() []Column {
	return append([]Column(nil), columnCatalog...)
}

// LookupColumn finds a catalog column by key.
func LookupColumn(key string) (Column, bool) {
	for _, c := range columnCatalog {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

// DefaultColumns returns, in header order, the headers that are required or
// enabled by default in the catalog. Unknown headers are left out.
func DefaultColumns(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if c, ok := LookupColumn(h); ok && (c.Required || c.Default) {
			out = append(out, h)
		}
	}
	return out
}

// WithRequiredColumns adds every required catalog column present in headers
// to columns. Required columns cannot be deselected. When no entry of columns
// names a header, columns is returned unchanged so the selection stays a
// no-op.
func WithRequiredColumns(columns, headers []string) []string {
	if len(columns) == 0 {
		return columns
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		seen[c] = struct{}{}
	}
	matched := false
	for _, h := range headers {
		if _, ok := seen[h]; ok {
			matched = true
			break
		}
	}
	if !matched {
		return columns
	}
	out := append([]string(nil), columns...)
	for _, h := range headers {
		if c, ok := LookupColumn(h); ok && c.Required {
			if _, dup := seen[h]; !dup {
				out = append(out, h)
				seen[h] = struct{}{}
			}
		}
	}
	return out
}
