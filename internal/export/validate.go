package export

import (
	"time"
)

// MaxHourlyRange is the longest window that may be exported at hourly frequency.
const MaxHourlyRange = 180 * 24 * time.Hour

// Validate checks that snap is complete enough to build a request. It returns
// the first violated rule as an *Error of KindValidation, or nil.
//
// Rules, in order: a non-empty selection, a present and well-formed date
// range, the hourly range limit and a non-empty pollutant list.
func Validate(snap Snapshot) error {
	if len(snap.Selection) == 0 {
		return validationError("selection", ErrNoSelection)
	}

	r := snap.Configuration.Duration
	if r.Start.IsZero() || r.End.IsZero() {
		return validationError("duration", ErrMissingDateRange)
	}
	if !r.Start.Before(r.End) {
		return validationError("duration", ErrInvalidDateRange)
	}
	if snap.Configuration.Frequency == FrequencyHourly && r.Span() > MaxHourlyRange {
		return validationError("frequency", ErrHourlyRangeTooLong)
	}

	if len(snap.Configuration.Pollutants) == 0 {
		return validationError("pollutants", ErrNoPollutants)
	}
	return nil
}

// ValidateResolved runs Validate and, for countries and cities, also requires
// the grid to have resolved to at least one site.
func ValidateResolved(snap Snapshot, resolvedIDs []string) error {
	if err := Validate(snap); err != nil {
		return err
	}
	if snap.FilterType.IsGrid() && len(resolvedIDs) == 0 {
		return validationError("selection", ErrNoResolvedSites)
	}
	return nil
}
