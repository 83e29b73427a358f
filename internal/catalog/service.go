// Package catalog implements the listing operations of the system of record.
// Every committed write appends a search outbox record in the same
// transaction and invalidates the cached read paths after commit.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"classifieds-catalog/internal/cache"
	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
	"classifieds-catalog/internal/store"
)

// Options tunes listing defaults and caching.
type Options struct {
	// DefaultLifetime sets ExpiresAt for published listings created without one.
	DefaultLifetime time.Duration
	// ActiveListingsTTL bounds the cached result of FindAllActive.
	ActiveListingsTTL time.Duration
}

// Service implements the listing operations.
type Service struct {
	store   store.ListingStorer
	cache   cache.Cache
	opts    Options
	logger  *zap.Logger
	metrics *metrics.MetricsManager
	now     func() time.Time
}

func NewService(s store.ListingStorer, c cache.Cache, opts Options, logger *zap.Logger, m *metrics.MetricsManager) *Service {
	return &Service{
		store:   s,
		cache:   c,
		opts:    opts,
		logger:  logger.Named("catalog"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a full-form listing owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in domain.NewListing) (*domain.Listing, error) {
	if ownerID == "" {
		return nil, domain.Forbiddenf("an authenticated owner is required")
	}
	if in.Status == "" {
		in.Status = domain.StatusActive
	}
	if in.PriceType == "" {
		in.PriceType = domain.PriceFixed
	}
	if err := listingRules.Check(newListingValues(in)); err != nil {
		return nil, err
	}
	return s.create(ctx, ownerID, in)
}

// CreateQuick stores a listing from the minimal form. With categories the
// listing is published right away; without, it is kept as a draft.
func (s *Service) CreateQuick(ctx context.Context, ownerID string, in domain.QuickListing) (*domain.Listing, error) {
	if ownerID == "" {
		return nil, domain.Forbiddenf("an authenticated owner is required")
	}
	err := quickRules.Check(map[string]any{
		"title":           in.Title,
		"description":     in.Description,
		"contact":         in.Contact,
		"pricePresent":    in.Price != nil,
		"locationPresent": hasLocation(in.Location),
	})
	if err != nil {
		return nil, err
	}

	full := domain.NewListing{
		Title:       in.Title,
		Description: in.Description,
		Contact:     in.Contact,
		Price:       *in.Price,
		PriceType:   domain.PriceFixed,
		Status:      domain.StatusDraft,
		Location:    in.Location,
		CategoryIDs: in.CategoryIDs,
	}
	if len(in.CategoryIDs) > 0 {
		full.Status = domain.StatusActive
	}
	if err := listingRules.Check(newListingValues(full)); err != nil {
		return nil, err
	}
	return s.create(ctx, ownerID, full)
}

func (s *Service) create(ctx context.Context, ownerID string, in domain.NewListing) (*domain.Listing, error) {
	now := s.now()
	l := &domain.Listing{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Contact:     strings.TrimSpace(in.Contact),
		Price:       in.Price,
		PriceType:   in.PriceType,
		Status:      in.Status,
		Type:        in.Type,
		Condition:   in.Condition,
		Location:    in.Location,
		CategoryIDs: dedupe(in.CategoryIDs),
		OwnerID:     ownerID,
		IsActive:    true,
		IsFeatured:  in.IsFeatured,
		IsVerified:  in.IsVerified,
		IsUrgent:    in.IsUrgent,
		Attributes:  in.Attributes,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := checkAttributes(l.Attributes); err != nil {
		return nil, err
	}
	s.publish(l, now)
	if err := checkExpiry(l); err != nil {
		return nil, err
	}

	err := s.store.InListingTx(ctx, func(tx store.ListingTx) error {
		if err := checkCategories(ctx, tx, l.CategoryIDs); err != nil {
			return err
		}
		sl, err := uniqueSlug(ctx, tx, l.Title, "", now)
		if err != nil {
			return err
		}
		l.Slug = sl
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, l.ID, domain.ChangeUpsert)
	})
	if err != nil {
		return nil, translate(err, "create listing")
	}

	s.afterWrite(ctx, "create")
	s.logger.Info("listing created", zap.String("listing_id", l.ID), zap.String("slug", l.Slug), zap.String("owner_id", ownerID))
	return l, nil
}

// Update applies patch on behalf of principal, who must own the listing. A
// title change derives a new slug.
func (s *Service) Update(ctx context.Context, principal, id string, patch domain.ListingPatch) (*domain.Listing, error) {
	if err := listingRules.Check(patchValues(patch)); err != nil {
		return nil, err
	}
	if err := checkAttributes(patch.Attributes); err != nil {
		return nil, err
	}

	now := s.now()
	var updated *domain.Listing
	err := s.store.InListingTx(ctx, func(tx store.ListingTx) error {
		l, err := tx.GetListingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if l.OwnerID != principal {
			return domain.Forbiddenf("only the owner may update listing %s", id)
		}

		titleChanged := applyPatch(l, patch)
		if l.Status == domain.StatusActive || l.Status == domain.StatusPublished {
			if err := listingRules.Check(map[string]any{"categories": len(l.CategoryIDs) > 0}); err != nil {
				return err
			}
		}
		if patch.CategoryIDs != nil {
			if err := checkCategories(ctx, tx, l.CategoryIDs); err != nil {
				return err
			}
		}
		s.publish(l, now)
		if err := checkExpiry(l); err != nil {
			return err
		}
		if titleChanged {
			sl, err := uniqueSlug(ctx, tx, l.Title, l.ID, now)
			if err != nil {
				return err
			}
			l.Slug = sl
		}
		l.UpdatedAt = now

		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, l.ID, domain.ChangeUpsert); err != nil {
			return err
		}
		updated = l
		return nil
	})
	if err != nil {
		return nil, translate(err, "update listing")
	}

	s.afterWrite(ctx, "update")
	s.logger.Info("listing updated", zap.String("listing_id", id))
	return updated, nil
}

// Remove deletes the listing on behalf of its owner and schedules the search
// document for deletion.
func (s *Service) Remove(ctx context.Context, principal, id string) error {
	err := s.store.InListingTx(ctx, func(tx store.ListingTx) error {
		l, err := tx.GetListingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if l.OwnerID != principal {
			return domain.Forbiddenf("only the owner may remove listing %s", id)
		}
		if err := tx.DeleteListing(ctx, id); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, id, domain.ChangeDelete)
	})
	if err != nil {
		return translate(err, "remove listing")
	}

	s.afterWrite(ctx, "remove")
	s.logger.Info("listing removed", zap.String("listing_id", id))
	return nil
}

// FindOne returns a visible listing. A row that exists but is inactive,
// expired or in another status is reported as not found.
func (s *Service) FindOne(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, translate(err, "find listing")
	}
	if !l.IsVisible(s.now()) {
		return nil, domain.NotFoundf("listing %s not found", id)
	}
	return l, nil
}

// FindAllActive returns every visible listing, newest first. The result is
// cached for ActiveListingsTTL; entries that expired while cached are
// filtered out on the way back.
func (s *Service) FindAllActive(ctx context.Context) ([]domain.Listing, error) {
	now := s.now()
	var cached []domain.Listing
	if s.cache.Get(ctx, cache.KeyActiveListings, &cached) {
		out := cached[:0]
		for i := range cached {
			if cached[i].IsVisible(now) {
				out = append(out, cached[i])
			}
		}
		return out, nil
	}

	listings, err := s.store.ListActiveListings(ctx, now)
	if err != nil {
		return nil, translate(err, "list active listings")
	}
	s.cache.Set(ctx, cache.KeyActiveListings, listings, s.opts.ActiveListingsTTL)
	return listings, nil
}

// RecordView counts one view of a visible listing. Counters are not indexed
// and do not invalidate cached reads.
func (s *Service) RecordView(ctx context.Context, id string) error {
	if err := s.store.IncrementViews(ctx, id, s.now()); err != nil {
		return translate(err, "record view")
	}
	return nil
}

// RunCleanup expires every active listing whose expiry has passed and returns
// how many were expired.
func (s *Service) RunCleanup(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := s.store.InListingTx(ctx, func(tx store.ListingTx) error {
		ids, err := tx.ExpireListings(ctx, now)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.AppendOutbox(ctx, id, domain.ChangeUpsert); err != nil {
				return err
			}
		}
		expired = ids
		return nil
	})
	if err != nil {
		return 0, translate(err, "expire listings")
	}

	if len(expired) > 0 {
		s.cache.Invalidate(ctx, cache.KeyActiveListings)
		s.metrics.ListingsExpiredTotal.Add(float64(len(expired)))
	}
	s.logger.Info("cleanup sweep finished", zap.Int("expired", len(expired)))
	return len(expired), nil
}

func (s *Service) afterWrite(ctx context.Context, op string) {
	s.cache.Invalidate(ctx, cache.KeyActiveListings)
	s.metrics.ListingWritesTotal.WithLabelValues(op).Inc()
}

// publish stamps PublishedAt the first time a listing becomes active and
// gives it the default lifetime when it has no expiry.
func (s *Service) publish(l *domain.Listing, now time.Time) {
	if l.Status != domain.StatusActive && l.Status != domain.StatusPublished {
		return
	}
	if l.PublishedAt == nil {
		l.PublishedAt = &now
	}
	if l.ExpiresAt == nil && s.opts.DefaultLifetime > 0 {
		exp := l.PublishedAt.Add(s.opts.DefaultLifetime)
		l.ExpiresAt = &exp
	}
}

func checkExpiry(l *domain.Listing) error {
	if l.ExpiresAt != nil && l.PublishedAt != nil && l.ExpiresAt.Before(*l.PublishedAt) {
		return domain.Validationf("expiresAt must not be before publishedAt")
	}
	return nil
}

func checkAttributes(raw *json.RawMessage) error {
	if raw != nil && !json.Valid(*raw) {
		return domain.Validationf("attributes must be valid JSON")
	}
	return nil
}

// checkCategories requires every id to resolve to an existing category.
func checkCategories(ctx context.Context, tx store.ListingTx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := tx.CountCategories(ctx, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return domain.Validationf("one or more categories do not exist")
	}
	return nil
}

// uniqueSlug derives the slug from title. When another listing already uses
// it, the creation time in unix milliseconds is appended.
func uniqueSlug(ctx context.Context, tx store.ListingTx, title, excludeID string, now time.Time) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "listing"
	}
	taken, err := tx.ListingSlugTaken(ctx, base, excludeID)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	suffixed := base + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	taken, err = tx.ListingSlugTaken(ctx, suffixed, excludeID)
	if err != nil {
		return "", err
	}
	if taken {
		return "", domain.Conflictf("slug %q is already in use", suffixed)
	}
	return suffixed, nil
}

func applyPatch(l *domain.Listing, p domain.ListingPatch) (titleChanged bool) {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		titleChanged = t != l.Title
		l.Title = t
	}
	if p.Description != nil {
		l.Description = strings.TrimSpace(*p.Description)
	}
	if p.Contact != nil {
		l.Contact = strings.TrimSpace(*p.Contact)
	}
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.PriceType != nil {
		l.PriceType = *p.PriceType
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Type != nil {
		l.Type = *p.Type
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.Location != nil {
		l.Location = p.Location
	}
	if p.CategoryIDs != nil {
		l.CategoryIDs = dedupe(*p.CategoryIDs)
	}
	if p.IsActive != nil {
		l.IsActive = *p.IsActive
	}
	if p.IsFeatured != nil {
		l.IsFeatured = *p.IsFeatured
	}
	if p.IsUrgent != nil {
		l.IsUrgent = *p.IsUrgent
	}
	if p.Attributes != nil {
		l.Attributes = p.Attributes
	}
	if p.ExpiresAt != nil {
		exp := *p.ExpiresAt
		l.ExpiresAt = &exp
	}
	return titleChanged
}

func newListingValues(in domain.NewListing) map[string]any {
	values := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"contact":     in.Contact,
		"price":       in.Price.InexactFloat64(),
		"priceType":   string(in.PriceType),
		"status":      string(in.Status),
		"type":        in.Type,
		"condition":   in.Condition,
	}
	if in.Status == domain.StatusActive || in.Status == domain.StatusPublished {
		values["categories"] = len(in.CategoryIDs) > 0
	}
	return values
}

func patchValues(p domain.ListingPatch) map[string]any {
	values := map[string]any{}
	if p.Title != nil {
		values["title"] = *p.Title
	}
	if p.Description != nil {
		values["description"] = *p.Description
	}
	if p.Contact != nil {
		values["contact"] = *p.Contact
	}
	if p.Price != nil {
		values["price"] = p.Price.InexactFloat64()
	}
	if p.PriceType != nil {
		values["priceType"] = string(*p.PriceType)
	}
	if p.Status != nil {
		values["status"] = string(*p.Status)
	}
	if p.Type != nil {
		values["type"] = *p.Type
	}
	if p.Condition != nil {
		values["condition"] = *p.Condition
	}
	return values
}

func hasLocation(loc *domain.Location) bool {
	if loc == nil {
		return false
	}
	return strings.TrimSpace(loc.Address) != "" || strings.TrimSpace(loc.City) != "" || loc.Coordinates != nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// translate maps store sentinels to domain errors and leaves domain errors as is.
func translate(err error, op string) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrListingNotFound):
		return domain.NotFoundf("listing not found")
	case errors.Is(err, store.ErrSlugExists):
		return domain.Conflictf("slug is already in use")
	case errors.Is(err, store.ErrCategoryNotFound):
		return domain.Validationf("one or more categories do not exist")
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}
