// Package storetest provides an in-memory implementation of the store
// interfaces for service and relay tests. Transactions work on a copy of the
// state that replaces the committed state only when the callback succeeds.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/store"
)

type outboxRow struct {
	rec         domain.OutboxRecord
	availableAt time.Time
	processedAt *time.Time
}

type state struct {
	categories     map[int64]domain.Category
	listings       map[string]domain.Listing
	outbox         []outboxRow
	nextCategoryID int64
	nextOutboxID   int64
}

func (s *state) clone() *state {
	c := &state{
		categories:     make(map[int64]domain.Category, len(s.categories)),
		listings:       make(map[string]domain.Listing, len(s.listings)),
		outbox:         make([]outboxRow, len(s.outbox)),
		nextCategoryID: s.nextCategoryID,
		nextOutboxID:   s.nextOutboxID,
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.listings {
		v.CategoryIDs = append([]int64(nil), v.CategoryIDs...)
		c.listings[k] = v
	}
	copy(c.outbox, s.outbox)
	return c
}

// Store is an in-memory CategoryStorer, ListingStorer and OutboxStorer.
type Store struct {
	mu    sync.Mutex
	state *state

	// RelayHeld simulates another instance holding the relay lock.
	RelayHeld bool

	failures map[string]error
	calls    []string
	clock    func() time.Time
}

var (
	_ store.CategoryStorer = (*Store)(nil)
	_ store.ListingStorer  = (*Store)(nil)
	_ store.OutboxStorer   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		state:    &state{categories: map[int64]domain.Category{}, listings: map[string]domain.Listing{}},
		failures: map[string]error{},
		clock:    time.Now,
	}
}

// FailNext makes the next call of the named method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Calls returns the names of the methods that support FailNext, in the
// order they were called.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Store) injected(method string) error {
	s.calls = append(s.calls, method)
	err := s.failures[method]
	delete(s.failures, method)
	return err
}

func (s *Store) inTx(fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, st: s.state.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

func (s *Store) InCategoryTx(_ context.Context, fn func(tx store.CategoryTx) error) error {
	return s.inTx(func(t *tx) error { return fn(t) })
}

func (s *Store) InListingTx(_ context.Context, fn func(tx store.ListingTx) error) error {
	return s.inTx(func(t *tx) error { return fn(t) })
}

func (s *Store) InOutboxTx(_ context.Context, fn func(tx store.OutboxTx) error) error {
	return s.inTx(func(t *tx) error { return fn(t) })
}

func (s *Store) read() *tx {
	return &tx{s: s, st: s.state}
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListCategories(ctx)
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetCategory(ctx, id)
}

func (s *Store) SearchCategories(_ context.Context, substring string) ([]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SearchCategories"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(substring)
	out := make([]domain.Category, 0)
	for _, c := range sortedCategories(s.state.categories) {
		desc := ""
		if c.Description != nil {
			desc = *c.Description
		}
		if strings.Contains(strings.ToLower(c.Name), needle) || strings.Contains(strings.ToLower(desc), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetListing(ctx, id)
}

func (s *Store) GetListingsByIDs(_ context.Context, ids []string) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetListingsByIDs"); err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.state.listings[id]; ok {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (s *Store) ListActiveListings(_ context.Context, now time.Time) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListActiveListings"); err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0)
	for _, l := range s.state.listings {
		if l.IsVisible(now) {
			out = append(out, copyListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) IncrementViews(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.listings[id]
	if !ok || !l.IsVisible(now) {
		return store.ErrListingNotFound
	}
	l.Views++
	s.state.listings[id] = l
	return nil
}

func (s *Store) EnqueueAllListings(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.state.listings))
	for id := range s.state.listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	t := s.read()
	for _, id := range ids {
		t.appendOutbox(id, domain.ChangeUpsert)
	}
	return int64(len(ids)), nil
}

func (s *Store) PurgeProcessedOutbox(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.outbox[:0]
	var purged int64
	for _, row := range s.state.outbox {
		if row.processedAt != nil && row.processedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, row)
	}
	s.state.outbox = kept
	return purged, nil
}

// Seed helpers. They bypass validation and do not append outbox records.

// PutCategory stores c as-is, assigning an id when c.ID is zero.
func (s *Store) PutCategory(c domain.Category) domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.state.nextCategoryID++
		c.ID = s.state.nextCategoryID
	} else if c.ID > s.state.nextCategoryID {
		s.state.nextCategoryID = c.ID
	}
	s.state.categories[c.ID] = c
	return c
}

func (s *Store) PutListing(l domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.listings[l.ID] = copyListing(l)
}

// Listing returns the stored row regardless of visibility.
func (s *Store) Listing(id string) (domain.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.listings[id]
	return copyListing(l), ok
}

// Pending returns the unprocessed outbox records in id order.
func (s *Store) Pending() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxRecord, 0)
	for _, row := range s.state.outbox {
		if row.processedAt == nil {
			out = append(out, row.rec)
		}
	}
	return out
}

// OutboxLen returns the number of outbox records, processed or not.
func (s *Store) OutboxLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.outbox)
}

func sortedCategories(m map[int64]domain.Category) []domain.Category {
	out := make([]domain.Category, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyListing(l domain.Listing) domain.Listing {
	l.CategoryIDs = append([]int64{}, l.CategoryIDs...)
	if l.Location != nil {
		loc := *l.Location
		if loc.Coordinates != nil {
			c := *loc.Coordinates
			loc.Coordinates = &c
		}
		l.Location = &loc
	}
	if l.Attributes != nil {
		raw := append(json.RawMessage(nil), *l.Attributes...)
		l.Attributes = &raw
	}
	return l
}
