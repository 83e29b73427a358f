package projection

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds-catalog/internal/domain"
)

func TestFromListing(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	expires := created.Add(30 * 24 * time.Hour)

	doc := FromListing(&domain.Listing{
		ID:          "id-1",
		Title:       "iPhone 13",
		Slug:        "iphone-13",
		Description: "Mint condition",
		Price:       decimal.RequireFromString("499.99"),
		PriceType:   domain.PriceNegotiable,
		Status:      domain.StatusActive,
		Condition:   "used",
		Location: &domain.Location{
			City:        "Austin",
			Country:     "US",
			Coordinates: &domain.Coordinates{Lat: 30.27, Lon: -97.74},
		},
		CategoryIDs: []int64{2, 10},
		OwnerID:     "owner-1",
		IsActive:    true,
		IsUrgent:    true,
		CreatedAt:   created,
		ExpiresAt:   &expires,
	})

	assert.Equal(t, "id-1", doc.ID)
	assert.Equal(t, []string{"2", "10"}, doc.CategoryIDs)
	assert.InDelta(t, 499.99, doc.Price, 1e-9)
	assert.Equal(t, "negotiable", doc.PriceType)
	assert.Equal(t, "active", doc.Status)
	require.NotNil(t, doc.Location)
	assert.Equal(t, domain.GeoPoint{Lat: 30.27, Lon: -97.74}, *doc.Location)
	assert.Equal(t, "Austin", doc.City)
	assert.Equal(t, time.UTC, doc.CreatedAt.Location())
	require.NotNil(t, doc.ExpiresAt)
	assert.True(t, doc.ExpiresAt.Equal(expires))
	assert.Nil(t, doc.PublishedAt)
	assert.True(t, doc.IsUrgent)
}

func TestFromListing_MissingOptionalFields(t *testing.T) {
	doc := FromListing(&domain.Listing{ID: "id-2", Title: "Sofa"})

	assert.Nil(t, doc.Location)
	assert.Empty(t, doc.City)
	assert.NotNil(t, doc.CategoryIDs)
	assert.Empty(t, doc.CategoryIDs)
	assert.Zero(t, doc.Price)

	withAddressOnly := FromListing(&domain.Listing{ID: "id-3", Location: &domain.Location{City: "Lyon"}})
	assert.Nil(t, withAddressOnly.Location)
	assert.Equal(t, "Lyon", withAddressOnly.City)
}
