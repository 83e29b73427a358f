package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds-catalog/internal/domain"
)

const testListingID = "7f1d3a52-2a4e-4f43-9d6b-0c7a4a1f2e11"

var listingRowColumns = []string{
	"id", "title", "slug", "description", "contact", "price", "price_type", "status",
	"listing_type", "item_condition", "location", "owner_id", "is_active", "is_featured", "is_verified",
	"is_urgent", "views", "favorites", "attributes", "created_at", "updated_at", "published_at", "expires_at",
	"category_ids",
}

func listingRow(rows *sqlmock.Rows, id string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "iPhone 12 Pro", "iphone-12-pro", "Great phone", "+1 555 0100", "500.00", "fixed", "active",
		"sale", "used", []byte(`{"city":"NYC","coordinates":{"lat":40.7128,"lon":-74.006}}`), "user-1", true, false, false,
		false, int64(3), int64(0), nil, now, now, now, nil,
		"{1,2}",
	)
}

func newTestListing(now time.Time) *domain.Listing {
	return &domain.Listing{
		ID:          testListingID,
		Title:       "iPhone 12 Pro",
		Slug:        "iphone-12-pro",
		Description: "Great phone",
		Contact:     "+1 555 0100",
		Price:       decimal.RequireFromString("500"),
		PriceType:   domain.PriceFixed,
		Status:      domain.StatusActive,
		Location:    &domain.Location{City: "NYC"},
		CategoryIDs: []int64{1, 2},
		OwnerID:     "user-1",
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}
}

func TestPostgresStore_GetListing_Found(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.listings l") + `\s+WHERE l.id = \$1;`).
		WithArgs(testListingID).
		WillReturnRows(listingRow(sqlmock.NewRows(listingRowColumns), testListingID, now))

	listing, err := store.GetListing(context.Background(), testListingID)

	require.NoError(t, err)
	require.NotNil(t, listing)
	assert.Equal(t, "iphone-12-pro", listing.Slug)
	assert.True(t, decimal.RequireFromString("500").Equal(listing.Price))
	assert.Equal(t, []int64{1, 2}, listing.CategoryIDs)
	require.NotNil(t, listing.Location)
	require.NotNil(t, listing.Location.Coordinates)
	assert.InDelta(t, 40.7128, listing.Location.Coordinates.Lat, 1e-9)
	assert.Nil(t, listing.ExpiresAt)
	assert.NotNil(t, listing.PublishedAt)
	assert.Nil(t, listing.Attributes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetListing_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.listings l")).
		WithArgs(testListingID).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetListing(context.Background(), testListingID)
	assert.ErrorIs(t, err, ErrListingNotFound)

	// Malformed ids never reach the database.
	_, err = store.GetListing(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrListingNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetListingsByIDs_SkipsMalformedIDs(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.id = ANY($1::uuid[])")).
		WithArgs(pq.Array([]string{testListingID})).
		WillReturnRows(listingRow(sqlmock.NewRows(listingRowColumns), testListingID, now))

	listings, err := store.GetListingsByIDs(context.Background(), []string{"garbage", testListingID})

	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, testListingID, listings[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertListingWithOutbox(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().UTC()
	listing := newTestListing(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.listings (id, title, slug")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM catalog.listing_categories WHERE listing_id = $1")).
		WithArgs(testListingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.listing_categories (listing_id, category_id)")).
		WithArgs(testListingID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.search_outbox (listing_id, op) VALUES ($1, $2)")).
		WithArgs(testListingID, domain.ChangeUpsert).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InListingTx(context.Background(), func(tx ListingTx) error {
		if err := tx.InsertListing(context.Background(), listing); err != nil {
			return err
		}
		return tx.AppendOutbox(context.Background(), listing.ID, domain.ChangeUpsert)
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertListing_SlugRaceRollsBack(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.listings")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "listings_slug_key"})
	mock.ExpectRollback()

	err := store.InListingTx(context.Background(), func(tx ListingTx) error {
		if err := tx.InsertListing(context.Background(), newTestListing(time.Now())); err != nil {
			return err
		}
		return tx.AppendOutbox(context.Background(), testListingID, domain.ChangeUpsert)
	})

	assert.ErrorIs(t, err, ErrSlugExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateListing_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE catalog.listings")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.InListingTx(context.Background(), func(tx ListingTx) error {
		return tx.UpdateListing(context.Background(), newTestListing(time.Now()))
	})

	assert.ErrorIs(t, err, ErrListingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireListings(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'expired', updated_at = $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testListingID))
	mock.ExpectCommit()

	var expired []string
	err := store.InListingTx(context.Background(), func(tx ListingTx) error {
		var err error
		expired, err = tx.ExpireListings(context.Background(), now)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []string{testListingID}, expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementViews(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("SET views = l.views + 1")).
		WithArgs(now, testListingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET views = l.views + 1")).
		WithArgs(now, testListingID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.IncrementViews(context.Background(), testListingID, now))
	assert.ErrorIs(t, store.IncrementViews(context.Background(), testListingID, now), ErrListingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
