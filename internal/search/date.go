package search

import (
	"fmt"
	"time"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// DateRange is the half-open interval [Start, End) covered by a FHIR date
// search value. A bare year covers the whole year, a year-month the whole
// month, and so on down to an instant, which covers a single point.
type DateRange struct {
	Start time.Time
	End   time.Time
}

var dateLayouts = []struct {
	layout string
	step   func(time.Time) time.Time
}{
	{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2006-01-02T15:04", func(t time.Time) time.Time { return t.Add(time.Minute) }},
	{"2006-01-02T15:04:05", func(t time.Time) time.Time { return t.Add(time.Second) }},
	// An instant still yields a non-empty range so equality is
	// satisfiable and le/gt keep the endpoint on the right side.
	{time.RFC3339, func(t time.Time) time.Time { return t.Add(time.Nanosecond) }},
}

// ParseDateRange parses a FHIR date search value at any supported
// precision. Unparseable input fails with an invalid outcome naming the
// input.
func ParseDateRange(value string) (DateRange, error) {
	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, value)
		if err != nil {
			continue
		}
		return DateRange{Start: t, End: dl.step(t)}, nil
	}
	return DateRange{}, fhir.ErrorInvalid(fmt.Sprintf("Invalid date value: %q", value))
}
