package models

import (
	"errors"
	"time"
)

var ErrInvalidDateRange = errors.New("end date must be after start date")

const day = 24 * time.Hour

// DateRange is the half-open interval [Start, End). A bike returned on a
// given day can be picked up again the same day.
type DateRange struct {
	Start time.Time `json:"start" gorm:"column:start_date;not null"`
	End   time.Time `json:"end" gorm:"column:end_date;not null"`
}

// NewDateRange truncates both ends to whole days (UTC) and validates them.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDay(start), End: truncateDay(end)}
	return r, r.Validate()
}

func (r DateRange) Validate() error {
	if !r.End.After(r.Start) {
		return ErrInvalidDateRange
	}
	return nil
}

// Overlaps reports whether two ranges share at least one instant.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Days is the number of rental days, never less than one.
func (r DateRange) Days() int64 {
	d := int64(r.End.Sub(r.Start) / day)
	if d < 1 {
		return 1
	}
	return d
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
