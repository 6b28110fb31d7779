// Package export holds the selection model, validation rules and request
// construction for air quality data exports.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/airdash/airdash/internal/tabular"
)

// FilterType is the category of entity a selection is made from.
type FilterType string

const (
	FilterCountries FilterType = "countries"
	FilterCities    FilterType = "cities"
	FilterSites     FilterType = "sites"
	FilterDevices   FilterType = "devices"
)

// Valid reports whether f is a known filter type.
func (f FilterType) Valid() bool {
	switch f {
	case FilterCountries, FilterCities, FilterSites, FilterDevices:
		return true
	}
	return false
}

// SingleSelect reports whether selecting an item replaces the prior selection.
// Countries and cities are grids: one grid is exported at a time.
func (f FilterType) SingleSelect() bool {
	return f == FilterCountries || f == FilterCities
}

// IsGrid reports whether the selection must be resolved into site ids.
func (f FilterType) IsGrid() bool {
	return f.SingleSelect()
}

// ParseFilterType parses a filter type name.
func ParseFilterType(s string) (FilterType, error) {
	f := FilterType(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown filter type %q", s)
	}
	return f, nil
}

// DeviceCategory is the operating class of a monitoring device.
type DeviceCategory string

const (
	CategoryLowCost DeviceCategory = "lowcost"
	CategoryBAM     DeviceCategory = "bam"
	CategoryMobile  DeviceCategory = "mobile"
)

// DefaultDeviceCategory is used when none is set or the value is unknown.
const DefaultDeviceCategory = CategoryLowCost

// Valid reports whether c is a known device category.
func (c DeviceCategory) Valid() bool {
	switch c {
	case CategoryLowCost, CategoryBAM, CategoryMobile:
		return true
	}
	return false
}

// NormalizeDeviceCategory lowercases s and falls back to the default category
// for anything outside the known set.
func NormalizeDeviceCategory(s string) DeviceCategory {
	c := DeviceCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return DefaultDeviceCategory
	}
	return c
}

// DataType selects calibrated or raw measurements.
type DataType string

const (
	DataCalibrated DataType = "calibrated"
	DataRaw        DataType = "raw"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	return d == DataCalibrated || d == DataRaw
}

// Frequency is the aggregation interval of exported measurements.
type Frequency string

const (
	FrequencyRaw     Frequency = "raw"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyRaw, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// FileType is the serialization format of the exported file.
type FileType string

const (
	FileCSV  FileType = "csv"
	FileJSON FileType = "json"
	FilePDF  FileType = "pdf"
)

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	switch t {
	case FileCSV, FileJSON, FilePDF:
		return true
	}
	return false
}

// SelectableItem is a country, city, site or device supplied by the catalog.
// Only ID is relied on for selection; devices also carry their category.
type SelectableItem struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Category DeviceCategory `json:"category,omitempty"`
	Mobility *bool          `json:"mobility,omitempty"`
}

// DateRange is a half-open export window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Span returns the length of the window.
func (r DateRange) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// Configuration holds the export settings chosen by the user.
type Configuration struct {
	Title          string         `json:"title"`
	DeviceCategory DeviceCategory `json:"deviceCategory"`
	DataType       DataType       `json:"dataType"`
	Pollutants     []string       `json:"pollutants"`
	Duration       DateRange      `json:"duration"`
	Frequency      Frequency      `json:"frequency"`
	FileType       FileType       `json:"fileType"`
}

// DefaultConfiguration returns the settings a new form starts with.
func DefaultConfiguration() Configuration {
	return Configuration{
		DeviceCategory: DefaultDeviceCategory,
		DataType:       DataCalibrated,
		Pollutants:     []string{"pm2_5", "pm10"},
		Frequency:      FrequencyDaily,
		FileType:       FileCSV,
	}
}

// Clone returns a deep copy of c.
func (c Configuration) Clone() Configuration {
	c.Pollutants = append([]string(nil), c.Pollutants...)
	return c
}

// Snapshot is an immutable copy of the form taken when a job starts.
type Snapshot struct {
	FilterType    FilterType       `json:"filterType"`
	Selection     []SelectableItem `json:"selection"`
	Configuration Configuration    `json:"configuration"`
}

// SelectedIDs returns the identifiers of the selected items, in selection order.
func (s Snapshot) SelectedIDs() []string {
	ids := make([]string, 0, len(s.Selection))
	for _, item := range s.Selection {
		ids = append(ids, item.ID)
	}
	return ids
}

// PreviewResult is a bounded sample of an export.
type PreviewResult struct {
	Headers        []string         `json:"headers"`
	Rows           []tabular.Record `json:"rows"`
	DateRange      DateRange        `json:"dateRange"`
	Truncated      bool             `json:"truncated"`
	Note           string           `json:"note"`
	DefaultColumns []string         `json:"defaultColumns"`
}
