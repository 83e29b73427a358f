package storetest

import (
	"context"
	"sort"
	"time"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/store"
)

type tx struct {
	s  *Store
	st *state
}

func (t *tx) LockCategoryTree(context.Context) error {
	return t.s.injected("LockCategoryTree")
}

func (t *tx) ListCategories(context.Context) ([]domain.Category, error) {
	if err := t.s.injected("ListCategories"); err != nil {
		return nil, err
	}
	return sortedCategories(t.st.categories), nil
}

func (t *tx) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	if err := t.s.injected("GetCategory"); err != nil {
		return nil, err
	}
	c, ok := t.st.categories[id]
	if !ok {
		return nil, store.ErrCategoryNotFound
	}
	return &c, nil
}

func (t *tx) CategorySlugTaken(_ context.Context, slug string, excludeID int64) (bool, error) {
	for _, c := range t.st.categories {
		if c.Slug == slug && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertCategory(ctx context.Context, c *domain.Category) error {
	if err := t.s.injected("InsertCategory"); err != nil {
		return err
	}
	if taken, _ := t.CategorySlugTaken(ctx, c.Slug, 0); taken {
		return store.ErrSlugExists
	}
	if c.ParentID != nil {
		if _, ok := t.st.categories[*c.ParentID]; !ok {
			return store.ErrCategoryNotFound
		}
	}
	t.st.nextCategoryID++
	now := t.s.clock()
	c.ID = t.st.nextCategoryID
	c.CreatedAt, c.UpdatedAt = now, now
	t.st.categories[c.ID] = *c
	return nil
}

func (t *tx) UpdateCategory(ctx context.Context, c *domain.Category) error {
	cur, ok := t.st.categories[c.ID]
	if !ok {
		return store.ErrCategoryNotFound
	}
	if taken, _ := t.CategorySlugTaken(ctx, c.Slug, c.ID); taken {
		return store.ErrSlugExists
	}
	c.ParentID = cur.ParentID
	c.UpdatedAt = t.s.clock()
	t.st.categories[c.ID] = *c
	return nil
}

func (t *tx) SetCategoryParent(_ context.Context, id int64, parentID *int64) error {
	if err := t.s.injected("SetCategoryParent"); err != nil {
		return err
	}
	c, ok := t.st.categories[id]
	if !ok {
		return store.ErrCategoryNotFound
	}
	if parentID != nil {
		if _, ok := t.st.categories[*parentID]; !ok {
			return store.ErrCategoryNotFound
		}
	}
	c.ParentID = parentID
	c.UpdatedAt = t.s.clock()
	t.st.categories[id] = c
	return nil
}

func (t *tx) CountChildCategories(_ context.Context, id int64) (int, error) {
	n := 0
	for _, c := range t.st.categories {
		if c.ParentID != nil && *c.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (t *tx) CategoryInUse(_ context.Context, id int64) (bool, error) {
	for _, l := range t.st.listings {
		for _, cid := range l.CategoryIDs {
			if cid == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *tx) DeleteCategory(ctx context.Context, id int64) error {
	if _, ok := t.st.categories[id]; !ok {
		return store.ErrCategoryNotFound
	}
	children, _ := t.CountChildCategories(ctx, id)
	used, _ := t.CategoryInUse(ctx, id)
	if children > 0 || used {
		return store.ErrCategoryInUse
	}
	delete(t.st.categories, id)
	return nil
}

func (t *tx) ListingSlugTaken(_ context.Context, slug, excludeID string) (bool, error) {
	for _, l := range t.st.listings {
		if l.Slug == slug && l.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CountCategories(_ context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := t.st.categories[id]; ok {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertListing(ctx context.Context, l *domain.Listing) error {
	if err := t.s.injected("InsertListing"); err != nil {
		return err
	}
	if taken, _ := t.ListingSlugTaken(ctx, l.Slug, l.ID); taken {
		return store.ErrSlugExists
	}
	t.st.listings[l.ID] = copyListing(*l)
	return nil
}

func (t *tx) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	if err := t.s.injected("GetListing"); err != nil {
		return nil, err
	}
	l, ok := t.st.listings[id]
	if !ok {
		return nil, store.ErrListingNotFound
	}
	cp := copyListing(l)
	return &cp, nil
}

func (t *tx) GetListingForUpdate(ctx context.Context, id string) (*domain.Listing, error) {
	return t.GetListing(ctx, id)
}

func (t *tx) UpdateListing(ctx context.Context, l *domain.Listing) error {
	if err := t.s.injected("UpdateListing"); err != nil {
		return err
	}
	if _, ok := t.st.listings[l.ID]; !ok {
		return store.ErrListingNotFound
	}
	if taken, _ := t.ListingSlugTaken(ctx, l.Slug, l.ID); taken {
		return store.ErrSlugExists
	}
	t.st.listings[l.ID] = copyListing(*l)
	return nil
}

func (t *tx) DeleteListing(_ context.Context, id string) error {
	if _, ok := t.st.listings[id]; !ok {
		return store.ErrListingNotFound
	}
	delete(t.st.listings, id)
	return nil
}

func (t *tx) ExpireListings(_ context.Context, now time.Time) ([]string, error) {
	ids := make([]string, 0)
	for id, l := range t.st.listings {
		if l.Status == domain.StatusActive && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
			l.Status = domain.StatusExpired
			l.UpdatedAt = now
			t.st.listings[id] = l
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *tx) AppendOutbox(_ context.Context, listingID string, op domain.ChangeOp) error {
	if err := t.s.injected("AppendOutbox"); err != nil {
		return err
	}
	t.appendOutbox(listingID, op)
	return nil
}

func (t *tx) appendOutbox(listingID string, op domain.ChangeOp) {
	t.st.nextOutboxID++
	now := t.s.clock()
	t.st.outbox = append(t.st.outbox, outboxRow{
		rec:         domain.OutboxRecord{ID: t.st.nextOutboxID, ListingID: listingID, Op: op, CreatedAt: now},
		availableAt: now,
	})
}

func (t *tx) TryLockRelay(context.Context) (bool, error) {
	return !t.s.RelayHeld, nil
}

func (t *tx) PendingOutbox(_ context.Context, limit int, now time.Time) ([]domain.OutboxRecord, error) {
	if err := t.s.injected("PendingOutbox"); err != nil {
		return nil, err
	}
	out := make([]domain.OutboxRecord, 0, limit)
	for _, row := range t.st.outbox {
		if len(out) == limit {
			break
		}
		if row.processedAt == nil && !row.availableAt.After(now) {
			out = append(out, row.rec)
		}
	}
	return out, nil
}

func (t *tx) MarkProcessed(_ context.Context, ids []int64, now time.Time) error {
	done := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	for i := range t.st.outbox {
		if _, ok := done[t.st.outbox[i].rec.ID]; ok {
			processed := now
			t.st.outbox[i].processedAt = &processed
		}
	}
	return nil
}

func (t *tx) MarkFailed(_ context.Context, id int64, reason string, retryAt time.Time) error {
	for i := range t.st.outbox {
		if t.st.outbox[i].rec.ID == id {
			t.st.outbox[i].rec.Attempts++
			r := reason
			t.st.outbox[i].rec.LastError = &r
			t.st.outbox[i].availableAt = retryAt
		}
	}
	return nil
}
