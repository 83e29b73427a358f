package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"classifieds-catalog/internal/domain"
)

const listingColumns = `l.id, l.title, l.slug, l.description, l.contact, l.price, l.price_type, l.status,
		l.listing_type, l.item_condition, l.location, l.owner_id, l.is_active, l.is_featured, l.is_verified,
		l.is_urgent, l.views, l.favorites, l.attributes, l.created_at, l.updated_at, l.published_at, l.expires_at,
		COALESCE((SELECT array_agg(lc.category_id ORDER BY lc.category_id) FROM catalog.listing_categories lc WHERE lc.listing_id = l.id), '{}') AS category_ids`

// visibleClause restricts a listing query to rows read queries may return.
// The caller binds now as $1.
const visibleClause = `l.is_active AND l.status = 'active' AND (l.expires_at IS NULL OR l.expires_at > $1)`

func scanListing(row rowScanner) (*domain.Listing, error) {
	var (
		l           domain.Listing
		location    []byte
		attributes  []byte
		categoryIDs []int64
	)
	err := row.Scan(
		&l.ID, &l.Title, &l.Slug, &l.Description, &l.Contact, &l.Price, &l.PriceType, &l.Status,
		&l.Type, &l.Condition, &location, &l.OwnerID, &l.IsActive, &l.IsFeatured, &l.IsVerified,
		&l.IsUrgent, &l.Views, &l.Favorites, &attributes, &l.CreatedAt, &l.UpdatedAt, &l.PublishedAt, &l.ExpiresAt,
		pq.Array(&categoryIDs),
	)
	if err != nil {
		return nil, err
	}
	if location != nil {
		var loc domain.Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return nil, fmt.Errorf("decode location of listing %s: %w", l.ID, err)
		}
		l.Location = &loc
	}
	if attributes != nil {
		raw := json.RawMessage(attributes)
		l.Attributes = &raw
	}
	l.CategoryIDs = categoryIDs
	if l.CategoryIDs == nil {
		l.CategoryIDs = []int64{}
	}
	return &l, nil
}

func encodeLocation(loc *domain.Location) (any, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("store: failed to encode location: %w", err)
	}
	return b, nil
}

func collectListings(rows *sql.Rows, op string) ([]domain.Listing, error) {
	defer rows.Close()

	listings := make([]domain.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s failed to scan listing row: %w", op, err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s iteration error: %w", op, err)
	}
	return listings, nil
}

// --- ListingStorer Implementation ---

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	return s.direct().GetListing(ctx, id)
}

// GetListingsByIDs loads the listings with the given ids in one round trip.
// Unknown ids are skipped; the result order is unspecified.
func (s *PostgresStore) GetListingsByIDs(ctx context.Context, ids []string) ([]domain.Listing, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []domain.Listing{}, nil
	}

	query := `
		SELECT ` + listingColumns + `
		FROM catalog.listings l
		WHERE l.id = ANY($1::uuid[]);
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("store: GetListingsByIDs failed to query listings: %w", err)
	}
	return collectListings(rows, "GetListingsByIDs")
}

// ListActiveListings returns every listing visible at now, newest first.
func (s *PostgresStore) ListActiveListings(ctx context.Context, now time.Time) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM catalog.listings l
		WHERE ` + visibleClause + `
		ORDER BY l.created_at DESC, l.id ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("store: ListActiveListings failed to query listings: %w", err)
	}
	return collectListings(rows, "ListActiveListings")
}

// IncrementViews bumps the view counter of a listing visible at now.
func (s *PostgresStore) IncrementViews(ctx context.Context, id string, now time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrListingNotFound
	}
	query := `
		UPDATE catalog.listings l
		SET views = l.views + 1
		WHERE ` + visibleClause + ` AND l.id = $2;
	`
	result, err := s.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("store: IncrementViews failed to execute update: %w", err)
	}
	return rowsAffectedOrNotFound(result, "IncrementViews", ErrListingNotFound)
}

// --- ListingTx Implementation ---

func (t *pgTx) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	return t.getListing(ctx, id, "")
}

func (t *pgTx) GetListingForUpdate(ctx context.Context, id string) (*domain.Listing, error) {
	return t.getListing(ctx, id, " FOR UPDATE OF l")
}

func (t *pgTx) getListing(ctx context.Context, id, suffix string) (*domain.Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrListingNotFound
	}
	query := `
		SELECT ` + listingColumns + `
		FROM catalog.listings l
		WHERE l.id = $1` + suffix + `;
	`
	l, err := scanListing(t.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("store: GetListing failed to scan row: %w", err)
	}
	return l, nil
}

// ListingSlugTaken reports whether a listing other than excludeID uses slug.
// Pass an empty excludeID on create.
func (t *pgTx) ListingSlugTaken(ctx context.Context, slug, excludeID string) (bool, error) {
	var taken bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.listings WHERE slug = $1 AND id::text <> $2);`,
		slug, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("store: ListingSlugTaken failed: %w", err)
	}
	return taken, nil
}

// CountCategories returns how many of ids exist.
func (t *pgTx) CountCategories(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog.categories WHERE id = ANY($1::bigint[]);`, pq.Array(ids),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: CountCategories failed: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertListing(ctx context.Context, listing *domain.Listing) error {
	location, err := encodeLocation(listing.Location)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO catalog.listings (id, title, slug, description, contact, price, price_type, status,
			listing_type, item_condition, location, owner_id, is_active, is_featured, is_verified,
			is_urgent, views, favorites, attributes, created_at, updated_at, published_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23);
	`
	_, err = t.q.ExecContext(ctx, query,
		listing.ID, listing.Title, listing.Slug, listing.Description, listing.Contact, listing.Price,
		listing.PriceType, listing.Status, listing.Type, listing.Condition, location, listing.OwnerID,
		listing.IsActive, listing.IsFeatured, listing.IsVerified, listing.IsUrgent, listing.Views,
		listing.Favorites, nullableJSON(listing.Attributes), listing.CreatedAt, listing.UpdatedAt,
		listing.PublishedAt, listing.ExpiresAt,
	)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return ErrSlugExists
		}
		return fmt.Errorf("store: InsertListing failed to execute insert: %w", err)
	}
	return t.replaceListingCategories(ctx, listing.ID, listing.CategoryIDs)
}

func (t *pgTx) UpdateListing(ctx context.Context, listing *domain.Listing) error {
	location, err := encodeLocation(listing.Location)
	if err != nil {
		return err
	}
	query := `
		UPDATE catalog.listings
		SET title = $2, slug = $3, description = $4, contact = $5, price = $6, price_type = $7, status = $8,
			listing_type = $9, item_condition = $10, location = $11, is_active = $12, is_featured = $13,
			is_verified = $14, is_urgent = $15, attributes = $16, updated_at = $17, published_at = $18, expires_at = $19
		WHERE id = $1;
	`
	result, err := t.q.ExecContext(ctx, query,
		listing.ID, listing.Title, listing.Slug, listing.Description, listing.Contact, listing.Price,
		listing.PriceType, listing.Status, listing.Type, listing.Condition, location, listing.IsActive,
		listing.IsFeatured, listing.IsVerified, listing.IsUrgent, nullableJSON(listing.Attributes),
		listing.UpdatedAt, listing.PublishedAt, listing.ExpiresAt,
	)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return ErrSlugExists
		}
		return fmt.Errorf("store: UpdateListing failed to execute update: %w", err)
	}
	if err := rowsAffectedOrNotFound(result, "UpdateListing", ErrListingNotFound); err != nil {
		return err
	}
	return t.replaceListingCategories(ctx, listing.ID, listing.CategoryIDs)
}

func (t *pgTx) replaceListingCategories(ctx context.Context, listingID string, ids []int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM catalog.listing_categories WHERE listing_id = $1;`, listingID); err != nil {
		return fmt.Errorf("store: failed to clear listing categories: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO catalog.listing_categories (listing_id, category_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING;`,
		listingID, pq.Array(ids),
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("store: failed to link listing categories: %w", err)
	}
	return nil
}

// DeleteListing removes the listing row; category links go with it.
func (t *pgTx) DeleteListing(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM catalog.listings WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("store: DeleteListing failed to execute delete: %w", err)
	}
	return rowsAffectedOrNotFound(result, "DeleteListing", ErrListingNotFound)
}

// ExpireListings flips every active listing whose expiry is due at now to
// expired and returns their ids.
func (t *pgTx) ExpireListings(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE catalog.listings
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id;
	`
	rows, err := t.q.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("store: ExpireListings failed to execute update: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: ExpireListings failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ExpireListings iteration error: %w", err)
	}
	return ids, nil
}

func (t *pgTx) AppendOutbox(ctx context.Context, listingID string, op domain.ChangeOp) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO catalog.search_outbox (listing_id, op) VALUES ($1, $2);`, listingID, op,
	)
	if err != nil {
		return fmt.Errorf("store: AppendOutbox failed: %w", err)
	}
	return nil
}
