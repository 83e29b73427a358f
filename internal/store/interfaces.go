package store

import (
	"context"
	"time"

	"classifieds-catalog/internal/domain"
)

// CategoryTx is the set of category operations available inside one
// transaction. Tree-shape changes take LockCategoryTree first.
type CategoryTx interface {
	LockCategoryTree(ctx context.Context) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CategorySlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error)
	InsertCategory(ctx context.Context, category *domain.Category) error
	UpdateCategory(ctx context.Context, category *domain.Category) error
	SetCategoryParent(ctx context.Context, id int64, parentID *int64) error
	CountChildCategories(ctx context.Context, id int64) (int, error)
	CategoryInUse(ctx context.Context, id int64) (bool, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// CategoryStorer defines the database operations for categories.
type CategoryStorer interface {
	InCategoryTx(ctx context.Context, fn func(tx CategoryTx) error) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	SearchCategories(ctx context.Context, substring string) ([]domain.Category, error)
}

// ListingTx is the set of listing operations available inside one write
// transaction. Every write appends its outbox record through the same tx.
type ListingTx interface {
	ListingSlugTaken(ctx context.Context, slug, excludeID string) (bool, error)
	CountCategories(ctx context.Context, ids []int64) (int, error)
	InsertListing(ctx context.Context, listing *domain.Listing) error
	GetListingForUpdate(ctx context.Context, id string) (*domain.Listing, error)
	UpdateListing(ctx context.Context, listing *domain.Listing) error
	DeleteListing(ctx context.Context, id string) error
	ExpireListings(ctx context.Context, now time.Time) ([]string, error)
	AppendOutbox(ctx context.Context, listingID string, op domain.ChangeOp) error
}

// ListingStorer defines the database operations for listings.
type ListingStorer interface {
	InListingTx(ctx context.Context, fn func(tx ListingTx) error) error
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	GetListingsByIDs(ctx context.Context, ids []string) ([]domain.Listing, error)
	ListActiveListings(ctx context.Context, now time.Time) ([]domain.Listing, error)
	IncrementViews(ctx context.Context, id string, now time.Time) error
}

// OutboxTx is used by the relay to drain the search outbox. The relay lock is
// transaction scoped, so at most one drainer works at a time across instances.
type OutboxTx interface {
	TryLockRelay(ctx context.Context) (bool, error)
	PendingOutbox(ctx context.Context, limit int, now time.Time) ([]domain.OutboxRecord, error)
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	MarkProcessed(ctx context.Context, ids []int64, now time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, retryAt time.Time) error
}

// OutboxStorer defines the database operations behind the outbox relay.
type OutboxStorer interface {
	InOutboxTx(ctx context.Context, fn func(tx OutboxTx) error) error
	EnqueueAllListings(ctx context.Context) (int64, error)
	PurgeProcessedOutbox(ctx context.Context, before time.Time) (int64, error)
}
