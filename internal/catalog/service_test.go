package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classifieds-catalog/internal/cache"
	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
	"classifieds-catalog/internal/store"
	"classifieds-catalog/internal/store/storetest"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const owner = "user-1"

func PtrTo[T any](v T) *T {
	return &v
}

type fixture struct {
	svc     *Service
	store   *storetest.Store
	redis   *miniredis.Miniredis
	metrics *metrics.MetricsManager
	phones  domain.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New()
	phones := st.PutCategory(domain.Category{Name: "Phones", Slug: "phones", IsActive: true})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := metrics.NewMetricsManager("test")
	c := cache.NewRedis(client, "catalog:", time.Second, zap.NewNop(), m)
	svc := NewService(st, c, Options{DefaultLifetime: 720 * time.Hour, ActiveListingsTTL: 300 * time.Second}, zap.NewNop(), m)
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, store: st, redis: mr, metrics: m, phones: phones}
}

func (fx *fixture) newListing(title string) domain.NewListing {
	return domain.NewListing{
		Title:       title,
		Description: "Good condition, barely used",
		Contact:     "+1 555 0100",
		Price:       decimal.NewFromInt(500),
		CategoryIDs: []int64{fx.phones.ID},
		Location:    &domain.Location{City: "Almaty", Coordinates: &domain.Coordinates{Lat: 43.238, Lon: 76.945}},
	}
}

func TestService_Create(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	l, err := fx.svc.Create(ctx, owner, fx.newListing("iPhone 13"))
	require.NoError(t, err)

	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "iphone-13", l.Slug)
	assert.Equal(t, domain.StatusActive, l.Status)
	assert.Equal(t, domain.PriceFixed, l.PriceType)
	assert.True(t, l.IsActive)
	assert.Equal(t, owner, l.OwnerID)
	require.NotNil(t, l.PublishedAt)
	assert.Equal(t, now, *l.PublishedAt)
	require.NotNil(t, l.ExpiresAt)
	assert.Equal(t, now.Add(720*time.Hour), *l.ExpiresAt)

	stored, ok := fx.store.Listing(l.ID)
	require.True(t, ok)
	assert.Equal(t, "iPhone 13", stored.Title)

	pending := fx.store.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, l.ID, pending[0].ListingID)
	assert.Equal(t, domain.ChangeUpsert, pending[0].Op)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.ListingWritesTotal.WithLabelValues("create")))
}

func TestService_Create_SlugCollisionAppendsTimestamp(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Create(ctx, owner, fx.newListing("iPhone 13"))
	require.NoError(t, err)
	second, err := fx.svc.Create(ctx, "user-2", fx.newListing("iPhone 13"))
	require.NoError(t, err)

	assert.Equal(t, "iphone-13", first.Slug)
	assert.Equal(t, "iphone-13-"+strconv.FormatInt(now.UnixMilli(), 10), second.Slug)

	// both candidates are taken at the same instant
	_, err = fx.svc.Create(ctx, "user-3", fx.newListing("iPhone 13"))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestService_Create_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *domain.NewListing)
		reason string
	}{
		{"blank title", func(in *domain.NewListing) { in.Title = "   " }, "title is required"},
		{"blank description", func(in *domain.NewListing) { in.Description = "" }, "description is required"},
		{"negative price", func(in *domain.NewListing) { in.Price = decimal.NewFromInt(-1) }, "price must not be negative"},
		{"unknown price type", func(in *domain.NewListing) { in.PriceType = "barter" }, "priceType must be one of: fixed, negotiable, free, contact, exchange"},
		{"active without categories", func(in *domain.NewListing) { in.CategoryIDs = nil }, "at least one category is required to publish a listing"},
		{"unknown category", func(in *domain.NewListing) { in.CategoryIDs = []int64{fx.phones.ID, 999} }, "one or more categories do not exist"},
		{"expiry before publish", func(in *domain.NewListing) { in.ExpiresAt = PtrTo(now.Add(-time.Hour)) }, "expiresAt must not be before publishedAt"},
		{"invalid attributes", func(in *domain.NewListing) { in.Attributes = PtrTo(json.RawMessage(`{"color":`)) }, "attributes must be valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fx.newListing("Pixel 8")
			tt.mutate(&in)

			_, err := fx.svc.Create(ctx, owner, in)

			require.ErrorIs(t, err, domain.ErrValidation)
			var de *domain.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.reason, de.Reason)
		})
	}
	assert.Zero(t, fx.store.OutboxLen())
}

func TestService_Create_DraftWithoutCategories(t *testing.T) {
	fx := newFixture(t)
	in := fx.newListing("Pixel 8")
	in.Status = domain.StatusDraft
	in.CategoryIDs = nil

	l, err := fx.svc.Create(context.Background(), owner, in)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDraft, l.Status)
	assert.Nil(t, l.PublishedAt)
	assert.Nil(t, l.ExpiresAt)
}

func TestService_Create_RequiresOwner(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Create(context.Background(), "", fx.newListing("Pixel 8"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestService_Create_SlugRaceIsConflict(t *testing.T) {
	fx := newFixture(t)
	fx.store.FailNext("InsertListing", store.ErrSlugExists)

	_, err := fx.svc.Create(context.Background(), owner, fx.newListing("Pixel 8"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, fx.store.OutboxLen())
}

func TestService_Create_OutboxFailureRollsBack(t *testing.T) {
	fx := newFixture(t)
	fx.store.FailNext("AppendOutbox", errors.New("connection reset"))

	_, err := fx.svc.Create(context.Background(), owner, fx.newListing("Pixel 8"))
	require.Error(t, err)
	assert.Empty(t, domain.KindOf(err))
	assert.Contains(t, err.Error(), "catalog: create listing")

	got, err := fx.svc.FindAllActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, fx.store.OutboxLen())
}

func TestService_CreateQuick(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	full := domain.QuickListing{
		Title:       "Road bike",
		Description: "Aluminium frame",
		Contact:     "bob@example.com",
		Price:       PtrTo(decimal.NewFromInt(300)),
		Location:    &domain.Location{City: "Astana"},
	}

	draft, err := fx.svc.CreateQuick(ctx, owner, full)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, draft.Status)
	assert.Equal(t, domain.PriceFixed, draft.PriceType)

	withCategory := full
	withCategory.Title = "Mountain bike"
	withCategory.CategoryIDs = []int64{fx.phones.ID}
	active, err := fx.svc.CreateQuick(ctx, owner, withCategory)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, active.Status)
	assert.NotNil(t, active.PublishedAt)

	tests := []struct {
		name   string
		mutate func(in *domain.QuickListing)
		reason string
	}{
		{"title", func(in *domain.QuickListing) { in.Title = "" }, "title is required"},
		{"description", func(in *domain.QuickListing) { in.Description = " " }, "description is required"},
		{"contact", func(in *domain.QuickListing) { in.Contact = "" }, "contact is required"},
		{"price", func(in *domain.QuickListing) { in.Price = nil }, "price is required"},
		{"location", func(in *domain.QuickListing) { in.Location = nil }, "location is required"},
		{"empty location", func(in *domain.QuickListing) { in.Location = &domain.Location{} }, "location is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := full
			tt.mutate(&in)

			_, err := fx.svc.CreateQuick(ctx, owner, in)

			var de *domain.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, domain.KindValidation, de.Kind)
			assert.Equal(t, tt.reason, de.Reason)
		})
	}
}

func TestService_Update(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	l, err := fx.svc.Create(ctx, owner, fx.newListing("iPhone 13"))
	require.NoError(t, err)

	later := now.Add(time.Minute)
	fx.svc.now = func() time.Time { return later }

	updated, err := fx.svc.Update(ctx, owner, l.ID, domain.ListingPatch{
		Title: PtrTo("iPhone 13 Pro"),
		Price: PtrTo(decimal.NewFromInt(650)),
	})
	require.NoError(t, err)

	assert.Equal(t, "iPhone 13 Pro", updated.Title)
	assert.Equal(t, "iphone-13-pro", updated.Slug)
	assert.True(t, decimal.NewFromInt(650).Equal(updated.Price))
	assert.Equal(t, later, updated.UpdatedAt)
	assert.Equal(t, now, *updated.PublishedAt)
	assert.Len(t, fx.store.Pending(), 2)
}

func TestService_Update_TitleCollisionAppendsTimestamp(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.svc.Create(ctx, owner, fx.newListing("Pixel 8"))
	require.NoError(t, err)
	other, err := fx.svc.Create(ctx, owner, fx.newListing("Galaxy S23"))
	require.NoError(t, err)

	updated, err := fx.svc.Update(ctx, owner, other.ID, domain.ListingPatch{Title: PtrTo("Pixel 8")})
	require.NoError(t, err)
	assert.Equal(t, "pixel-8-"+strconv.FormatInt(now.UnixMilli(), 10), updated.Slug)

	// an unchanged title keeps the slug
	same, err := fx.svc.Update(ctx, owner, other.ID, domain.ListingPatch{Title: PtrTo("Pixel 8")})
	require.NoError(t, err)
	assert.Equal(t, updated.Slug, same.Slug)
}

func TestService_Update_Errors(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	l, err := fx.svc.Create(ctx, owner, fx.newListing("Pixel 8"))
	require.NoError(t, err)

	_, err = fx.svc.Update(ctx, "intruder", l.ID, domain.ListingPatch{Title: PtrTo("Mine now")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = fx.svc.Update(ctx, owner, "missing", domain.ListingPatch{Title: PtrTo("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = fx.svc.Update(ctx, owner, l.ID, domain.ListingPatch{CategoryIDs: &[]int64{}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.Update(ctx, owner, l.ID, domain.ListingPatch{CategoryIDs: &[]int64{404}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.Update(ctx, owner, l.ID, domain.ListingPatch{Status: PtrTo(domain.ListingStatus("sold"))})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, _ := fx.store.Listing(l.ID)
	assert.Equal(t, "Pixel 8", stored.Title)
	assert.Len(t, fx.store.Pending(), 1)
}

func TestService_Remove(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	l, err := fx.svc.Create(ctx, owner, fx.newListing("Pixel 8"))
	require.NoError(t, err)

	assert.ErrorIs(t, fx.svc.Remove(ctx, "intruder", l.ID), domain.ErrForbidden)
	require.NoError(t, fx.svc.Remove(ctx, owner, l.ID))

	_, err = fx.svc.FindOne(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending := fx.store.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, domain.ChangeDelete, pending[1].Op)
	assert.Equal(t, l.ID, pending[1].ListingID)

	assert.ErrorIs(t, fx.svc.Remove(ctx, owner, l.ID), domain.ErrNotFound)
}

func TestService_FindOne_HidesInvisible(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	past := now.Add(-time.Hour)

	fx.store.PutListing(domain.Listing{ID: "visible", Status: domain.StatusActive, IsActive: true})
	fx.store.PutListing(domain.Listing{ID: "inactive", Status: domain.StatusActive, IsActive: false})
	fx.store.PutListing(domain.Listing{ID: "draft", Status: domain.StatusDraft, IsActive: true})
	fx.store.PutListing(domain.Listing{ID: "expired", Status: domain.StatusActive, IsActive: true, ExpiresAt: &past})

	got, err := fx.svc.FindOne(ctx, "visible")
	require.NoError(t, err)
	assert.Equal(t, "visible", got.ID)

	for _, id := range []string{"inactive", "draft", "expired", "missing"} {
		_, err := fx.svc.FindOne(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
}

func TestService_FindAllActive_CachesAndInvalidates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Create(ctx, owner, fx.newListing("Pixel 8"))
	require.NoError(t, err)

	got, err := fx.svc.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, fx.redis.Exists("catalog:"+cache.KeyActiveListings))

	// a row written behind the service is not seen until the entry goes away
	fx.store.PutListing(domain.Listing{ID: "seeded", Status: domain.StatusActive, IsActive: true, CreatedAt: now})
	got, err = fx.svc.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)

	_, err = fx.svc.Create(ctx, owner, fx.newListing("Galaxy S23"))
	require.NoError(t, err)
	assert.False(t, fx.redis.Exists("catalog:"+cache.KeyActiveListings))

	got, err = fx.svc.FindAllActive(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestService_FindAllActive_FiltersEntriesExpiredWhileCached(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	soon := now.Add(time.Minute)
	fx.store.PutListing(domain.Listing{ID: "short", Status: domain.StatusActive, IsActive: true, ExpiresAt: &soon})
	fx.store.PutListing(domain.Listing{ID: "long", Status: domain.StatusActive, IsActive: true})

	got, err := fx.svc.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	fx.svc.now = func() time.Time { return now.Add(2 * time.Minute) }
	got, err = fx.svc.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "long", got[0].ID)
}

func TestService_FindAllActive_CacheDownStillServes(t *testing.T) {
	fx := newFixture(t)
	fx.store.PutListing(domain.Listing{ID: "a", Status: domain.StatusActive, IsActive: true})
	fx.redis.Close()

	got, err := fx.svc.FindAllActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestService_FindAllActive_StoreFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.FailNext("ListActiveListings", errors.New("connection reset"))

	_, err := fx.svc.FindAllActive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: list active listings")
}

func TestService_RecordView(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.store.PutListing(domain.Listing{ID: "a", Status: domain.StatusActive, IsActive: true})
	fx.store.PutListing(domain.Listing{ID: "hidden", Status: domain.StatusDraft, IsActive: true})

	require.NoError(t, fx.svc.RecordView(ctx, "a"))
	require.NoError(t, fx.svc.RecordView(ctx, "a"))
	stored, _ := fx.store.Listing("a")
	assert.Equal(t, int64(2), stored.Views)

	assert.ErrorIs(t, fx.svc.RecordView(ctx, "hidden"), domain.ErrNotFound)
	assert.Zero(t, fx.store.OutboxLen())
}

func TestService_RunCleanup(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	fx.store.PutListing(domain.Listing{ID: "old", Status: domain.StatusActive, IsActive: true, ExpiresAt: &past})
	fx.store.PutListing(domain.Listing{ID: "fresh", Status: domain.StatusActive, IsActive: true, ExpiresAt: &future})
	fx.store.PutListing(domain.Listing{ID: "forever", Status: domain.StatusActive, IsActive: true})

	_, err := fx.svc.FindAllActive(ctx)
	require.NoError(t, err)

	n, err := fx.svc.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := fx.store.Listing("old")
	assert.Equal(t, domain.StatusExpired, old.Status)
	assert.Equal(t, now, old.UpdatedAt)

	pending := fx.store.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "old", pending[0].ListingID)
	assert.Equal(t, domain.ChangeUpsert, pending[0].Op)
	assert.False(t, fx.redis.Exists("catalog:"+cache.KeyActiveListings))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.ListingsExpiredTotal))

	n, err = fx.svc.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
