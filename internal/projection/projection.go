// Package projection maps catalog listings to the documents kept in the
// search index.
package projection

import (
	"strconv"

	"classifieds-catalog/internal/domain"
)

// FromListing builds the search document for l. Missing optional fields
// produce an absent geo-point and empty keyword lists, never an error.
func FromListing(l *domain.Listing) domain.SearchDocument {
	doc := domain.SearchDocument{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Slug:        l.Slug,
		Type:        l.Type,
		Condition:   l.Condition,
		Status:      string(l.Status),
		PriceType:   string(l.PriceType),
		CategoryIDs: CategoryKeys(l.CategoryIDs),
		OwnerID:     l.OwnerID,
		Price:       l.Price.InexactFloat64(),
		IsActive:    l.IsActive,
		IsFeatured:  l.IsFeatured,
		IsVerified:  l.IsVerified,
		IsUrgent:    l.IsUrgent,
		CreatedAt:   l.CreatedAt.UTC(),
		PublishedAt: utc(l.PublishedAt),
		ExpiresAt:   utc(l.ExpiresAt),
	}
	if loc := l.Location; loc != nil {
		doc.City = loc.City
		doc.Country = loc.Country
		if c := loc.Coordinates; c != nil {
			doc.Location = &domain.GeoPoint{Lat: c.Lat, Lon: c.Lon}
		}
	}
	return doc
}

// CategoryKeys renders category ids as index keywords.
func CategoryKeys(ids []int64) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, strconv.FormatInt(id, 10))
	}
	return keys
}
