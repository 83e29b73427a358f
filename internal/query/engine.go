// Package query turns a listing filter into a structured index query, runs it
// and hydrates the hits from the system of record.
package query

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
	"classifieds-catalog/internal/search"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	aggPrice      = "price"
	aggConditions = "conditions"
	aggCategories = "categories"
)

// MaxResultWindow caps from+size, matching the index.max_result_window
// default of Elasticsearch.
const MaxResultWindow = 10000

// ListingReader loads listings by id in one round trip.
type ListingReader interface {
	GetListingsByIDs(ctx context.Context, ids []string) ([]domain.Listing, error)
}

// Engine executes listing searches.
type Engine struct {
	index   search.Index
	store   ListingReader
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.MetricsManager
	tracer  trace.Tracer
	now     func() time.Time
}

// NewEngine returns an Engine. timeout bounds the index call and hydration;
// zero means no bound beyond the caller's context.
func NewEngine(index search.Index, store ListingReader, timeout time.Duration, logger *zap.Logger, m *metrics.MetricsManager) *Engine {
	return &Engine{
		index:   index,
		store:   store,
		timeout: timeout,
		logger:  logger.Named("query"),
		metrics: m,
		tracer:  otel.Tracer("classifieds-catalog/query"),
		now:     time.Now,
	}
}

// Search runs f and returns at most f.Limit hydrated items. Hits whose listing
// is gone or no longer visible are dropped from the page.
func (e *Engine) Search(ctx context.Context, f domain.ListingFilter) (*domain.SearchResult, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "query.Search")
	defer span.End()

	page, limit, err := normalizePage(f.Page, f.Limit)
	if err != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := checkFilter(f); err != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	f.Page, f.Limit = page, limit

	now := e.now()
	q := Build(f, now)
	span.SetAttributes(
		attribute.String("search.query", f.Query),
		attribute.Int("search.page", page),
		attribute.Int("search.limit", limit),
	)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.index.Query(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		e.metrics.SearchQueriesTotal.WithLabelValues("unavailable").Inc()
		e.logger.Error("search index query failed", zap.Error(err))
		return nil, domain.SearchUnavailable(err, "search is temporarily unavailable")
	}

	items, err := e.hydrate(ctx, res.Hits, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hydration failed")
		e.metrics.SearchQueriesTotal.WithLabelValues("unavailable").Inc()
		e.logger.Error("search hydration failed", zap.Error(err))
		return nil, domain.SearchUnavailable(err, "search is temporarily unavailable")
	}

	out := &domain.SearchResult{
		Items: items,
		Total: res.Total,
		Page:  page,
		Limit: limit,
		Pages: int(math.Ceil(float64(res.Total) / float64(limit))),
		Aggregations: domain.Aggregations{
			Price:      res.Stats[aggPrice],
			Conditions: nonNil(res.Buckets[aggConditions]),
			Categories: nonNil(res.Buckets[aggCategories]),
		},
	}

	span.SetAttributes(attribute.Int64("search.total", out.Total), attribute.Int("search.items", len(items)))
	e.metrics.SearchQueriesTotal.WithLabelValues("ok").Inc()
	e.metrics.SearchLatency.Observe(e.now().Sub(start).Seconds())
	return out, nil
}

// hydrate re-reads the hits from the store in hit order. A hit whose row is
// missing or not visible at now is dropped and logged.
func (e *Engine) hydrate(ctx context.Context, hits []search.Hit, now time.Time) ([]domain.SearchHit, error) {
	if len(hits) == 0 {
		return []domain.SearchHit{}, nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}

	ctx, span := e.tracer.Start(ctx, "query.hydrate", trace.WithAttributes(attribute.Int("hits", len(ids))))
	defer span.End()

	listings, err := e.store.GetListingsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Listing, len(listings))
	for i := range listings {
		byID[listings[i].ID] = &listings[i]
	}

	items := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		l, ok := byID[h.ID]
		if !ok || !l.IsVisible(now) {
			e.metrics.SearchHitsDropped.Inc()
			e.logger.Warn("dropping search hit without a visible listing", zap.String("listing_id", h.ID), zap.Bool("row_found", ok))
			continue
		}
		items = append(items, domain.SearchHit{Listing: l, Score: h.Score, DistanceKm: h.DistanceKm})
	}
	return items, nil
}

func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return 0, 0, domain.Validationf("page must be at least 1")
	}
	if limit < 1 || limit > MaxLimit {
		return 0, 0, domain.Validationf("limit must be between 1 and %d", MaxLimit)
	}
	if page > MaxResultWindow/limit {
		return 0, 0, domain.Validationf("page * limit must not exceed %d", MaxResultWindow)
	}
	return page, limit, nil
}

func checkFilter(f domain.ListingFilter) error {
	switch f.Sort {
	case "", domain.SortRelevance, domain.SortPriceAsc, domain.SortPriceDesc, domain.SortDateDesc:
	default:
		return domain.Validationf("sort must be one of relevance, price_asc, price_desc, date_desc")
	}
	switch strings.ToLower(f.Order) {
	case "", "asc", "desc":
	default:
		return domain.Validationf("order must be asc or desc")
	}
	if f.MinPrice != nil && *f.MinPrice < 0 {
		return domain.Validationf("minPrice must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return domain.Validationf("minPrice must not exceed maxPrice")
	}
	if g := f.Location; g != nil {
		if g.Lat < -90 || g.Lat > 90 || g.Lon < -180 || g.Lon > 180 {
			return domain.Validationf("location coordinates are out of range")
		}
		if g.RadiusKm < 0 {
			return domain.Validationf("radiusKm must not be negative")
		}
	}
	return nil
}

// Build translates a normalized filter into an index query. Visibility
// filters are always applied: active flag, status (active unless the filter
// names one) and expiry after now.
func Build(f domain.ListingFilter, now time.Time) search.Query {
	q := search.Query{
		From: (f.Page - 1) * f.Limit,
		Size: f.Limit,
		Aggs: []search.Agg{
			{Name: aggPrice, Kind: search.AggStats, Field: search.FieldPrice},
			{Name: aggConditions, Kind: search.AggTerms, Field: search.FieldCondition, Size: 20},
			{Name: aggCategories, Kind: search.AggTerms, Field: search.FieldCategoryIDs, Size: 50},
		},
	}

	text := strings.TrimSpace(f.Query)
	if text != "" {
		q.Text = &search.TextMatch{
			Text:  text,
			Fuzzy: true,
			Fields: []search.FieldBoost{
				{Field: search.FieldTitle, Boost: 3},
				{Field: search.FieldDescription, Boost: 1},
			},
		}
	}

	status := f.Status
	if status == "" {
		status = string(domain.StatusActive)
	}
	q.Terms = append(q.Terms,
		search.Term{Field: search.FieldIsActive, Value: true},
		search.Term{Field: search.FieldStatus, Value: status},
	)
	if f.CategoryID != nil {
		q.Terms = append(q.Terms, search.Term{Field: search.FieldCategoryIDs, Value: strconv.FormatInt(*f.CategoryID, 10)})
	}
	for _, kv := range []struct{ field, value string }{
		{search.FieldOwnerID, f.OwnerID},
		{search.FieldType, f.Type},
		{search.FieldCondition, f.Condition},
	} {
		if kv.value != "" {
			q.Terms = append(q.Terms, search.Term{Field: kv.field, Value: kv.value})
		}
	}
	for _, kv := range []struct {
		field string
		value *bool
	}{
		{search.FieldIsFeatured, f.IsFeatured},
		{search.FieldIsVerified, f.IsVerified},
		{search.FieldIsUrgent, f.IsUrgent},
	} {
		if kv.value != nil {
			q.Terms = append(q.Terms, search.Term{Field: kv.field, Value: *kv.value})
		}
	}

	if f.MinPrice != nil || f.MaxPrice != nil {
		r := search.Range{Field: search.FieldPrice}
		if f.MinPrice != nil {
			r.GTE = *f.MinPrice
		}
		if f.MaxPrice != nil {
			r.LTE = *f.MaxPrice
		}
		q.Ranges = append(q.Ranges, r)
	}
	q.Ranges = append(q.Ranges, search.Range{Field: search.FieldExpiresAt, GT: now, OrMissing: true})

	if g := f.Location; g != nil && g.RadiusKm > 0 {
		q.Geo = &search.GeoDistance{Field: search.FieldLocation, Lat: g.Lat, Lon: g.Lon, RadiusKm: g.RadiusKm}
	}

	q.Sort = sortFor(f, q.Text != nil, q.Geo != nil)
	return q
}

// sortFor picks the sort order. An explicit sort wins; otherwise geo queries
// sort by distance, text queries by relevance and the rest newest first.
// Order, when given, overrides the direction of a field sort.
func sortFor(f domain.ListingFilter, hasText, hasGeo bool) []search.SortField {
	var primary search.SortField
	switch f.Sort {
	case domain.SortPriceAsc:
		primary = search.SortField{Field: search.FieldPrice}
	case domain.SortPriceDesc:
		primary = search.SortField{Field: search.FieldPrice, Desc: true}
	case domain.SortDateDesc:
		primary = search.SortField{Field: search.FieldCreatedAt, Desc: true}
	case domain.SortRelevance:
		primary = search.SortField{Field: search.SortScore, Desc: true}
	default:
		switch {
		case hasGeo:
			primary = search.SortField{Field: search.SortDistance}
		case hasText:
			primary = search.SortField{Field: search.SortScore, Desc: true}
		default:
			primary = search.SortField{Field: search.FieldCreatedAt, Desc: true}
		}
	}

	if primary.Field != search.SortScore {
		switch strings.ToLower(f.Order) {
		case "asc":
			primary.Desc = false
		case "desc":
			primary.Desc = true
		}
	}

	out := []search.SortField{primary}
	if primary.Field == search.SortScore || primary.Field == search.SortDistance {
		out = append(out, search.SortField{Field: search.FieldCreatedAt, Desc: true})
	}
	return out
}

func nonNil(b []domain.Bucket) []domain.Bucket {
	if b == nil {
		return []domain.Bucket{}
	}
	return b
}
