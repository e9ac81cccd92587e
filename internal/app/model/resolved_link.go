package model

import "time"

// Resolution states of a raw URL.
const (
	LinkUnresolved = "unresolved"
	LinkProduct    = "product"
	LinkNonProduct = "non_product"
	LinkInvalid    = "invalid"
)

// ResolvedLink caches the outcome of resolving one raw URL. It is
// keyed by the raw URL and overwritten on re-resolution.
type ResolvedLink struct {
	RawURL   string `json:"raw_url" gorm:"primaryKey;size:2048"`
	FinalURL string `json:"final_url,omitempty" gorm:"type:text"`
	// PosterID is the poster seen on the first resolution attempt.
	PosterID string `json:"poster_id,omitempty" gorm:"size:128"`
	// Store and ProductRef are set for product links only.
	Store      string    `json:"store,omitempty" gorm:"size:256"`
	ProductRef string    `json:"product_ref,omitempty" gorm:"size:512;index"`
	State      string    `json:"state" gorm:"size:16;not null;default:unresolved"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// IsProduct reports whether the link resolved to a known product page.
func (l *ResolvedLink) IsProduct() bool {
	return l.State == LinkProduct
}

// Settled reports whether the link needs no further fetch attempts.
// Unresolved links are retried on their own schedule once their cache
// entry expires.
func (l *ResolvedLink) Settled() bool {
	return l.State == LinkProduct || l.State == LinkNonProduct || l.State == LinkInvalid
}
