package export

import (
	"strings"
	"time"
)

// TimestampLayout is the wire format of request dates: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// OutputFormat is the fixed response layout requested from the analytics API.
const OutputFormat = "airqo-standard"

// Request is the body accepted by the remote export API.
// Exactly one of Sites or DeviceNames is set.
type Request struct {
	StartDateTime  string         `json:"startDateTime"`
	EndDateTime    string         `json:"endDateTime"`
	DataType       DataType       `json:"datatype"`
	Pollutants     []string       `json:"pollutants"`
	Frequency      Frequency      `json:"frequency"`
	DownloadType   FileType       `json:"downloadType"`
	OutputFormat   string         `json:"outputFormat"`
	Minimum        bool           `json:"minimum"`
	DeviceCategory DeviceCategory `json:"device_category"`
	Sites          []string       `json:"sites,omitempty"`
	DeviceNames    []string       `json:"device_names,omitempty"`
}

// BuildRequest maps a validated snapshot to a Request. For countries and
// cities the sites come from resolvedIDs, never from the selected grid item.
// It assumes snap has passed Validate.
func BuildRequest(snap Snapshot, resolvedIDs []string) *Request {
	cfg := snap.Configuration
	req := &Request{
		StartDateTime:  FormatTimestamp(cfg.Duration.Start),
		EndDateTime:    FormatTimestamp(cfg.Duration.End),
		DataType:       cfg.DataType,
		Pollutants:     NormalizePollutants(cfg.Pollutants),
		Frequency:      cfg.Frequency,
		DownloadType:   cfg.FileType,
		OutputFormat:   OutputFormat,
		Minimum:        true,
		DeviceCategory: NormalizeDeviceCategory(string(cfg.DeviceCategory)),
	}

	switch snap.FilterType {
	case FilterCountries, FilterCities:
		req.Sites = append([]string(nil), resolvedIDs...)
	case FilterDevices:
		names := make([]string, 0, len(snap.Selection))
		for _, item := range snap.Selection {
			if item.Name != "" {
				names = append(names, item.Name)
			} else {
				names = append(names, item.ID)
			}
		}
		req.DeviceNames = names
	default:
		req.Sites = snap.SelectedIDs()
	}
	return req
}

// FormatTimestamp formats t in the request timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizePollutants lowercases pollutant names and replaces dots with
// underscores, so "PM2.5" becomes "pm2_5".
func NormalizePollutants(pollutants []string) []string {
	out := make([]string, 0, len(pollutants))
	for _, p := range pollutants {
		out = append(out, strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), ".", "_"))
	}
	return out
}
