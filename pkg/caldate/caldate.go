// Package caldate is a calendar date without time of day, encoded in JSON as
// "YYYY-MM-DD".
package caldate

import (
	"encoding/json"
	"fmt"
	"time"
)

const Layout = "2006-01-02"

type Date struct {
	time.Time
}

// Parse reads a "YYYY-MM-DD" date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// FromTime truncates t to its calendar date. A nil t gives nil.
func FromTime(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	return &Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// TimePtr returns the date as midnight UTC, or nil for a nil receiver.
func (d *Date) TimePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func (d Date) String() string {
	return d.Format(Layout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "YYYY-MM-DD" and full RFC 3339 timestamps.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*d = *FromTime(&t)
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
