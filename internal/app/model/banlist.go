package model

// BanList is the singleton set of banned poster ids and product
// references. It is consulted by the resolver and aggregator to
// short-circuit banned subjects, and extended by the ban synchronizer
// via read-merge-write. A missed entry under a concurrent merge
// self-heals on the next periodic scan.
type BanList struct {
	ID       uint     `json:"id" gorm:"primaryKey"`
	Posters  []string `json:"posters" gorm:"serializer:json"`
	Products []string `json:"products" gorm:"serializer:json"`
}

// BanListID is the fixed primary key of the singleton row.
const BanListID = 1

// HasPoster reports whether a poster id is banned.
func (b *BanList) HasPoster(id string) bool {
	return contains(b.Posters, id)
}

// HasProduct reports whether a product reference is banned.
func (b *BanList) HasProduct(ref string) bool {
	return contains(b.Products, ref)
}

// Merge unions the given subjects into the list, skipping duplicates,
// and reports whether anything was added.
func (b *BanList) Merge(posters, products []string) bool {
	changed := false
	for _, p := range posters {
		if !contains(b.Posters, p) {
			b.Posters = append(b.Posters, p)
			changed = true
		}
	}
	for _, p := range products {
		if !contains(b.Products, p) {
			b.Products = append(b.Products, p)
			changed = true
		}
	}
	return changed
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
