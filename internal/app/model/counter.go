package model

import "time"

// Subject kinds tracked by counters.
const (
	SubjectProduct = "product"
	SubjectPoster  = "poster"
)

// Counter is one mention-count row per (subject, frequency, period).
// Updates are additive deltas; only the banned flag is overwritten.
type Counter struct {
	SubjectKey  string     `json:"subject_key" gorm:"primaryKey;size:768"`
	SubjectRoot string     `json:"subject_root" gorm:"size:512;index"`
	Kind        string     `json:"kind" gorm:"size:16;not null"`
	Frequency   string     `json:"frequency" gorm:"size:8;not null;index"`
	Day         *time.Time `json:"day,omitempty" gorm:"type:date;index"`
	Week        int        `json:"week,omitempty" gorm:"index"`
	Month       int        `json:"month,omitempty" gorm:"index"`
	Year        int        `json:"year,omitempty" gorm:"index"`
	Count       int64      `json:"count" gorm:"not null;default:0;index"`
	Banned      bool       `json:"banned" gorm:"not null;default:false"`
	// Store is denormalized onto product counters for per-store ranking.
	Store     string    `json:"store,omitempty" gorm:"size:256;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// NewCounter creates a zero-valued counter for a subject in a period.
func NewCounter(root, kind string, p Period, store string) *Counter {
	c := &Counter{
		SubjectKey:  BuildKey(root, p),
		SubjectRoot: root,
		Kind:        kind,
		Frequency:   string(p.Frequency),
		Week:        p.Week,
		Month:       p.Month,
		Year:        p.Year,
		Store:       store,
	}
	if p.Frequency == Daily {
		day := p.Day
		c.Day = &day
	}
	return c
}

// MinWriteCount returns the durable-promotion threshold for this
// counter's subject kind.
func (c *Counter) MinWriteCount(productMin, posterMin int64) int64 {
	if c.Kind == SubjectPoster {
		return posterMin
	}
	return productMin
}
