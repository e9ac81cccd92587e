package model

import (
	"errors"
	"fmt"
	"time"
)

// Frequency is the time-bucket granularity of a counter.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ErrInvalidFrequency signals an unknown frequency token.
var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequencies lists all supported bucket granularities.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

// ParseFrequencyValue validates a raw frequency string.
func ParseFrequencyValue(s string) (Frequency, error) {
	switch Frequency(s) {
	case Daily, Weekly, Monthly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// Period identifies one concrete instance of a frequency bucket. It is
// built once from a calendar date and threaded through the pipeline so
// that daily/weekly/monthly branching lives in exactly one place.
type Period struct {
	Frequency Frequency `json:"frequency"`
	// Day is set for daily periods (UTC midnight).
	Day time.Time `json:"day,omitempty"`
	// Week and Year are set for weekly periods (ISO week numbering).
	Week int `json:"week,omitempty"`
	// Month and Year are set for monthly periods.
	Month int `json:"month,omitempty"`
	Year  int `json:"year,omitempty"`
}

// PeriodOf converts a calendar date into the period of the given
// frequency that contains it.
func PeriodOf(freq Frequency, date time.Time) (Period, error) {
	date = date.UTC().Truncate(24 * time.Hour)
	switch freq {
	case Daily:
		return Period{Frequency: Daily, Day: date}, nil
	case Weekly:
		year, week := date.ISOWeek()
		return Period{Frequency: Weekly, Week: week, Year: year}, nil
	case Monthly:
		return Period{Frequency: Monthly, Month: int(date.Month()), Year: date.Year()}, nil
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
}

// PeriodsOf returns the daily, weekly and monthly periods containing
// the given date. A single mention targets all three.
func PeriodsOf(date time.Time) []Period {
	periods := make([]Period, 0, len(Frequencies))
	for _, freq := range Frequencies {
		p, _ := PeriodOf(freq, date)
		periods = append(periods, p)
	}
	return periods
}

// Token renders the period as the key segment identifying it.
func (p Period) Token() string {
	switch p.Frequency {
	case Daily:
		return p.Day.Format("2006-01-02")
	case Weekly:
		return fmt.Sprintf("%dw%02d", p.Year, p.Week)
	case Monthly:
		return fmt.Sprintf("%dm%02d", p.Year, p.Month)
	}
	return ""
}

func (p Period) String() string {
	return string(p.Frequency) + "/" + p.Token()
}
