package model

import "time"

// Snapshot states. A snapshot is pending until metadata enrichment
// succeeds; enrichment exhaustion tombstones it as banned so it is
// never retried again.
const (
	SnapshotPending  = "pending"
	SnapshotComplete = "complete"
	SnapshotBanned   = "banned"
)

// RankingSnapshot is a materialized leaderboard entry: one row per
// (product, frequency, period), carrying display metadata fetched from
// the external product-metadata service plus the counter's count.
type RankingSnapshot struct {
	SubjectKey string     `json:"subject_key" gorm:"primaryKey;size:768"`
	ProductRef string     `json:"product_ref" gorm:"size:512;index"`
	Store      string     `json:"store" gorm:"size:256;index"`
	Frequency  string     `json:"frequency" gorm:"size:8;index"`
	Day        *time.Time `json:"day,omitempty" gorm:"type:date;index"`
	Week       int        `json:"week,omitempty" gorm:"index"`
	Month      int        `json:"month,omitempty" gorm:"index"`
	Year       int        `json:"year,omitempty" gorm:"index"`

	Title        string  `json:"title,omitempty" gorm:"size:512"`
	ProductGroup string  `json:"product_group,omitempty" gorm:"size:256"`
	Price        string  `json:"price,omitempty" gorm:"size:64"`
	ImageSmall   string  `json:"image_small,omitempty" gorm:"type:text"`
	ImageMedium  string  `json:"image_medium,omitempty" gorm:"type:text"`
	ImageLarge   string  `json:"image_large,omitempty" gorm:"type:text"`
	Rating       float64 `json:"rating,omitempty"`

	Count   int64  `json:"count" gorm:"not null;default:0;index"`
	Retries int    `json:"retries" gorm:"not null;default:0"`
	State   string `json:"state" gorm:"size:16;not null;default:pending;index"`
	// BanSynced marks tombstoned snapshots already folded into the ban
	// list by the ban synchronizer.
	BanSynced bool      `json:"ban_synced" gorm:"not null;default:false"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// NewSnapshot creates a pending snapshot for a product in a period.
func NewSnapshot(productRef, store string, p Period, count int64) *RankingSnapshot {
	s := &RankingSnapshot{
		SubjectKey: BuildKey(productRef, p),
		ProductRef: productRef,
		Store:      store,
		Frequency:  string(p.Frequency),
		Week:       p.Week,
		Month:      p.Month,
		Year:       p.Year,
		Count:      count,
		State:      SnapshotPending,
	}
	if p.Frequency == Daily {
		day := p.Day
		s.Day = &day
	}
	return s
}

// CopyMetadata fills display fields from another snapshot of the same
// product and marks the snapshot complete.
func (s *RankingSnapshot) CopyMetadata(src *RankingSnapshot) {
	s.Title = src.Title
	s.ProductGroup = src.ProductGroup
	s.Price = src.Price
	s.ImageSmall = src.ImageSmall
	s.ImageMedium = src.ImageMedium
	s.ImageLarge = src.ImageLarge
	s.Rating = src.Rating
	s.State = SnapshotComplete
}

// Tombstone permanently marks the snapshot banned, preserving the last
// known count. No transition leaves this state.
func (s *RankingSnapshot) Tombstone() {
	s.State = SnapshotBanned
}
