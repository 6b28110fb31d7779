package export

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SelectionLimits bounds a multi-select selection.
type SelectionLimits struct {
	// Max is the largest number of items that may be selected. Zero means unbounded.
	Max int

	// RequireOne refuses to deselect the last remaining item.
	RequireOne bool
}

// Selection limits used by the dashboard flows. Callers pass one explicitly.
var (
	AnalysisLimits = SelectionLimits{Max: 0}
	FavoriteLimits = SelectionLimits{Max: 4, RequireOne: true}
	InsightsLimits = SelectionLimits{Max: 20}
)

// Field names a configuration field settable through SetField.
type Field string

const (
	FieldTitle          Field = "title"
	FieldDeviceCategory Field = "deviceCategory"
	FieldDataType       Field = "dataType"
	FieldPollutants     Field = "pollutants"
	FieldStartDate      Field = "startDate"
	FieldEndDate        Field = "endDate"
	FieldFrequency      Field = "frequency"
	FieldFileType       Field = "fileType"
)

// ChangeKind identifies what a Change notification is about.
type ChangeKind string

const (
	ChangeFilterType    ChangeKind = "filter_type_changed"
	ChangeSelection     ChangeKind = "selection_changed"
	ChangeConfiguration ChangeKind = "configuration_changed"
)

// Change is delivered to the listener after every state mutation.
type Change struct {
	Kind     ChangeKind
	Field    Field
	Snapshot Snapshot
}

// Listener receives change notifications. It is called outside the state lock.
type Listener func(Change)

// FormState owns the filter type, the selected items and the export configuration.
// The device category rules are re-applied on every configuration mutation.
type FormState struct {
	mu         sync.Mutex
	limits     SelectionLimits
	filterType FilterType
	selection  []SelectableItem
	config     Configuration
	listeners  []Listener
}

// NewFormState creates a form on the sites filter with the default configuration.
func NewFormState(limits SelectionLimits) *FormState {
	s := &FormState{
		limits:     limits,
		filterType: FilterSites,
		config:     DefaultConfiguration(),
	}
	enforceCategoryRules(&s.config)
	return s
}

// OnChange registers a listener for state changes.
func (s *FormState) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Limits returns the selection limits of this form.
func (s *FormState) Limits() SelectionLimits {
	return s.limits
}

// FilterType returns the active filter type.
func (s *FormState) FilterType() FilterType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterType
}

// Selection returns a copy of the selected items.
func (s *FormState) Selection() []SelectableItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SelectableItem(nil), s.selection...)
}

// Configuration returns a copy of the export configuration.
func (s *FormState) Configuration() Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// Snapshot returns a copy of the whole form.
func (s *FormState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *FormState) snapshotLocked() Snapshot {
	return Snapshot{
		FilterType:    s.filterType,
		Selection:     append([]SelectableItem(nil), s.selection...),
		Configuration: s.config.Clone(),
	}
}

// IsSelected reports whether an item with id is selected.
func (s *FormState) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(id) >= 0
}

func (s *FormState) indexLocked(id string) int {
	for i, item := range s.selection {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// SetFilterType switches the filter type. The selection never carries across
// types, and leaving the devices filter resets the device category.
func (s *FormState) SetFilterType(ft FilterType) error {
	if !ft.Valid() {
		return validationError("filterType", fmt.Errorf("%w: filter type %q", ErrInvalidField, ft))
	}

	s.mu.Lock()
	if ft == s.filterType {
		s.mu.Unlock()
		return nil
	}
	previous := s.filterType
	s.filterType = ft
	s.selection = nil
	if previous == FilterDevices && s.config.DeviceCategory != DefaultDeviceCategory {
		s.config.DeviceCategory = DefaultDeviceCategory
		enforceCategoryRules(&s.config)
	}
	change := Change{Kind: ChangeFilterType, Snapshot: s.snapshotLocked()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
	return nil
}

// ToggleItem selects or deselects item.
//
// For countries and cities, toggling the selected item clears the selection
// and toggling another item replaces it. For sites and devices, toggling a
// selected item removes it and toggling a new one appends it, subject to the
// selection limits. A rejected toggle leaves the selection unchanged.
func (s *FormState) ToggleItem(item SelectableItem) error {
	if item.ID == "" {
		return validationError("item", fmt.Errorf("%w: item id is required", ErrInvalidField))
	}

	s.mu.Lock()
	idx := s.indexLocked(item.ID)

	switch {
	case s.filterType.SingleSelect():
		if idx >= 0 {
			s.selection = nil
		} else {
			s.selection = []SelectableItem{item}
		}
	case idx >= 0:
		if s.limits.RequireOne && len(s.selection) == 1 {
			s.mu.Unlock()
			return &Error{Kind: KindMinimumSelection, Err: ErrMinimumSelection}
		}
		s.selection = append(s.selection[:idx:idx], s.selection[idx+1:]...)
	default:
		if s.limits.Max > 0 && len(s.selection) >= s.limits.Max {
			s.mu.Unlock()
			return &Error{
				Kind:    KindSelectionLimit,
				Message: fmt.Sprintf("you can select up to %d items", s.limits.Max),
				Err:     ErrSelectionLimitExceeded,
			}
		}
		s.selection = append(s.selection, item)
	}

	change := Change{Kind: ChangeSelection, Snapshot: s.snapshotLocked()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
	return nil
}

// ClearSelection empties the selection.
func (s *FormState) ClearSelection() {
	s.mu.Lock()
	if len(s.selection) == 0 {
		s.mu.Unlock()
		return
	}
	s.selection = nil
	change := Change{Kind: ChangeSelection, Snapshot: s.snapshotLocked()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
}

// SetTitle sets the export title.
func (s *FormState) SetTitle(title string) {
	s.update(FieldTitle, func(c *Configuration) { c.Title = title })
}

// SetDeviceCategory sets the device category.
func (s *FormState) SetDeviceCategory(category DeviceCategory) error {
	if !category.Valid() {
		return validationError(string(FieldDeviceCategory), fmt.Errorf("%w: device category %q", ErrInvalidField, category))
	}
	s.update(FieldDeviceCategory, func(c *Configuration) { c.DeviceCategory = category })
	return nil
}

// SetDataType sets the data type. The selection is cleared because the data
// type decides which locations are valid.
func (s *FormState) SetDataType(dataType DataType) error {
	if !dataType.Valid() {
		return validationError(string(FieldDataType), fmt.Errorf("%w: data type %q", ErrInvalidField, dataType))
	}
	s.update(FieldDataType, func(c *Configuration) { c.DataType = dataType })
	return nil
}

// SetPollutants sets the pollutant list.
func (s *FormState) SetPollutants(pollutants []string) {
	values := make([]string, 0, len(pollutants))
	for _, p := range pollutants {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	s.update(FieldPollutants, func(c *Configuration) { c.Pollutants = values })
}

// SetDuration sets the export window.
func (s *FormState) SetDuration(r DateRange) {
	s.update(FieldStartDate, func(c *Configuration) { c.Duration = r })
}

// SetFrequency sets the aggregation frequency.
func (s *FormState) SetFrequency(f Frequency) error {
	if !f.Valid() {
		return validationError(string(FieldFrequency), fmt.Errorf("%w: frequency %q", ErrInvalidField, f))
	}
	s.update(FieldFrequency, func(c *Configuration) { c.Frequency = f })
	return nil
}

// SetFileType sets the output format.
func (s *FormState) SetFileType(t FileType) error {
	if !t.Valid() {
		return &Error{Kind: KindUnsupportedFormat, Field: string(FieldFileType), Message: fmt.Sprintf("unsupported file type %q", t)}
	}
	s.update(FieldFileType, func(c *Configuration) { c.FileType = t })
	return nil
}

// SetField parses value and sets the named configuration field.
// Dates accept RFC 3339 timestamps or YYYY-MM-DD; pollutants are comma separated.
func (s *FormState) SetField(field Field, value string) error {
	switch field {
	case FieldTitle:
		s.SetTitle(value)
		return nil
	case FieldDeviceCategory:
		return s.SetDeviceCategory(DeviceCategory(strings.ToLower(strings.TrimSpace(value))))
	case FieldDataType:
		return s.SetDataType(DataType(strings.ToLower(strings.TrimSpace(value))))
	case FieldPollutants:
		s.SetPollutants(strings.Split(value, ","))
		return nil
	case FieldStartDate, FieldEndDate:
		t, err := ParseDate(value)
		if err != nil {
			return validationError(string(field), fmt.Errorf("%w: %s", ErrInvalidField, err.Error()))
		}
		s.update(field, func(c *Configuration) {
			if field == FieldStartDate {
				c.Duration.Start = t
			} else {
				c.Duration.End = t
			}
		})
		return nil
	case FieldFrequency:
		return s.SetFrequency(Frequency(strings.ToLower(strings.TrimSpace(value))))
	case FieldFileType:
		return s.SetFileType(FileType(strings.ToLower(strings.TrimSpace(value))))
	default:
		return validationError(string(field), fmt.Errorf("%w: unknown field %q", ErrInvalidField, field))
	}
}

// update applies fn, re-applies the device category rules and notifies.
func (s *FormState) update(field Field, fn func(*Configuration)) {
	s.mu.Lock()
	fn(&s.config)
	enforceCategoryRules(&s.config)
	if field == FieldDataType {
		s.selection = nil
	}
	change := Change{Kind: ChangeConfiguration, Field: field, Snapshot: s.snapshotLocked()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
}

// enforceCategoryRules couples data type and frequency to the device category:
// BAM and mobile devices only report raw data, mobile devices only at raw
// frequency, and every other category never at raw frequency.
func enforceCategoryRules(c *Configuration) {
	switch c.DeviceCategory {
	case CategoryBAM:
		c.DataType = DataRaw
	case CategoryMobile:
		c.DataType = DataRaw
		c.Frequency = FrequencyRaw
	default:
		if c.Frequency == FrequencyRaw {
			c.Frequency = FrequencyDaily
		}
	}
}

func notify(listeners []Listener, change Change) {
	for _, l := range listeners {
		l(change)
	}
}

// ParseDate parses an RFC 3339 timestamp or a YYYY-MM-DD date (UTC midnight).
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t.UTC(), nil
}
