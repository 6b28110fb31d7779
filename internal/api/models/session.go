package models

import "github.com/airdash/airdash/internal/export"

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	// Flow selects the selection limits: analysis, favorites or insights.
	Flow string `json:"flow"`
}

// SelectionLimits mirrors export.SelectionLimits on the wire.
type SelectionLimits struct {
	Max        int  `json:"max"`
	RequireOne bool `json:"requireOne"`
}

// Jobs reports which execution slots are busy.
type Jobs struct {
	Preview  bool `json:"preview"`
	Download bool `json:"download"`
}

// Session is the state of one export session.
type Session struct {
	ID        string          `json:"id"`
	Flow      string          `json:"flow"`
	CreatedAt Timestamp       `json:"createdAt"`
	ExpiresAt Timestamp       `json:"expiresAt"`
	Limits    SelectionLimits `json:"limits"`
	State     export.Snapshot `json:"state"`
	Jobs      Jobs            `json:"jobs"`
	CanRetry  bool            `json:"canRetry"`
	Formats   []string        `json:"formats"`
}

// FilterTypeRequest is the body of PUT /v1/sessions/{id}/filter-type.
type FilterTypeRequest struct {
	FilterType string `json:"filterType"`
}

// ToggleRequest is the body of POST /v1/sessions/{id}/selection:toggle.
type ToggleRequest struct {
	Item export.SelectableItem `json:"item"`
}

// ConfigurationPatch is the body of PATCH /v1/sessions/{id}/configuration.
// Absent fields are left unchanged.
type ConfigurationPatch struct {
	Title          *string  `json:"title,omitempty"`
	DeviceCategory *string  `json:"deviceCategory,omitempty"`
	DataType       *string  `json:"dataType,omitempty"`
	Pollutants     []string `json:"pollutants,omitempty"`
	StartDate      *string  `json:"startDate,omitempty"`
	EndDate        *string  `json:"endDate,omitempty"`
	Frequency      *string  `json:"frequency,omitempty"`
	FileType       *string  `json:"fileType,omitempty"`
}

// DownloadRequest is the optional body of POST /v1/sessions/{id}/download.
type DownloadRequest struct {
	// Columns restricts the export. Empty keeps every column.
	Columns []string `json:"columns,omitempty"`
}
