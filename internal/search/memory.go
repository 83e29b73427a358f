package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"classifieds-catalog/internal/domain"
)

// MemoryIndex is an in-process Index. It evaluates the same Query model as the
// Elasticsearch backend and is used by tests and single-node deployments.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]domain.SearchDocument
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]domain.SearchDocument)}
}

func (m *MemoryIndex) EnsureSchema(context.Context) error {
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, doc domain.SearchDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("search: document without id")
	}
	doc.CategoryIDs = append([]string(nil), doc.CategoryIDs...)
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Get returns the stored document for id.
func (m *MemoryIndex) Get(id string) (domain.SearchDocument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

type memoryHit struct {
	doc      domain.SearchDocument
	score    float64
	distance float64
}

func (m *MemoryIndex) Query(ctx context.Context, q Query) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matches := make([]memoryHit, 0, len(m.docs))
	for _, doc := range m.docs {
		h, ok := evaluate(doc, q)
		if ok {
			matches = append(matches, h)
		}
	}
	m.mu.RUnlock()

	sortHits(matches, q.Sort)

	res := &Result{
		Total:   int64(len(matches)),
		Stats:   map[string]domain.PriceStats{},
		Buckets: map[string][]domain.Bucket{},
	}
	for _, agg := range q.Aggs {
		switch agg.Kind {
		case AggStats:
			res.Stats[agg.Name] = statsOf(matches, agg.Field)
		case AggTerms:
			res.Buckets[agg.Name] = termsOf(matches, agg.Field, agg.Size)
		}
	}

	start := min(max(q.From, 0), len(matches))
	end := len(matches)
	if q.Size >= 0 {
		end = min(start+q.Size, len(matches))
	}
	res.Hits = make([]Hit, 0, end-start)
	for _, h := range matches[start:end] {
		hit := Hit{ID: h.doc.ID}
		if q.Text != nil {
			score := h.score
			hit.Score = &score
		}
		if q.Geo != nil {
			d := h.distance
			hit.DistanceKm = &d
		}
		res.Hits = append(res.Hits, hit)
	}
	return res, nil
}

func evaluate(doc domain.SearchDocument, q Query) (memoryHit, bool) {
	h := memoryHit{doc: doc}
	for _, t := range q.Terms {
		if !termMatches(doc, t) {
			return h, false
		}
	}
	for _, r := range q.Ranges {
		if !rangeMatches(doc, r) {
			return h, false
		}
	}
	if g := q.Geo; g != nil {
		if doc.Location == nil {
			return h, false
		}
		h.distance = HaversineKm(g.Lat, g.Lon, doc.Location.Lat, doc.Location.Lon)
		if h.distance > g.RadiusKm {
			return h, false
		}
	}
	if q.Text != nil && strings.TrimSpace(q.Text.Text) != "" {
		h.score = textScore(q.Text, func(field string) string { return textField(doc, field) })
		if h.score <= 0 {
			return h, false
		}
	}
	return h, true
}

func textField(doc domain.SearchDocument, field string) string {
	switch field {
	case FieldTitle:
		return doc.Title
	case FieldDescription:
		return doc.Description
	case FieldCity:
		return doc.City
	}
	return ""
}

// keywordValues returns the keyword or boolean values of field.
func keywordValues(doc domain.SearchDocument, field string) []any {
	switch field {
	case FieldID:
		return []any{doc.ID}
	case FieldSlug:
		return []any{doc.Slug}
	case FieldType:
		return []any{doc.Type}
	case FieldCondition:
		return []any{doc.Condition}
	case FieldStatus:
		return []any{doc.Status}
	case FieldPriceType:
		return []any{doc.PriceType}
	case FieldOwnerID:
		return []any{doc.OwnerID}
	case FieldCity:
		return []any{doc.City}
	case FieldCountry:
		return []any{doc.Country}
	case FieldCategoryIDs:
		out := make([]any, 0, len(doc.CategoryIDs))
		for _, id := range doc.CategoryIDs {
			out = append(out, id)
		}
		return out
	case FieldIsActive:
		return []any{doc.IsActive}
	case FieldIsFeatured:
		return []any{doc.IsFeatured}
	case FieldIsVerified:
		return []any{doc.IsVerified}
	case FieldIsUrgent:
		return []any{doc.IsUrgent}
	}
	return nil
}

func termMatches(doc domain.SearchDocument, t Term) bool {
	for _, v := range keywordValues(doc, t.Field) {
		if v == t.Value {
			return true
		}
	}
	return false
}

// rangeValue returns the numeric or date value of field, false when absent.
func rangeValue(doc domain.SearchDocument, field string) (any, bool) {
	switch field {
	case FieldPrice:
		return doc.Price, true
	case FieldCreatedAt:
		return doc.CreatedAt, true
	case FieldPublishedAt:
		if doc.PublishedAt == nil {
			return nil, false
		}
		return *doc.PublishedAt, true
	case FieldExpiresAt:
		if doc.ExpiresAt == nil {
			return nil, false
		}
		return *doc.ExpiresAt, true
	}
	return nil, false
}

func rangeMatches(doc domain.SearchDocument, r Range) bool {
	v, ok := rangeValue(doc, r.Field)
	if !ok {
		return r.OrMissing
	}
	if r.GTE != nil && compare(v, r.GTE) < 0 {
		return false
	}
	if r.GT != nil && compare(v, r.GT) <= 0 {
		return false
	}
	if r.LTE != nil && compare(v, r.LTE) > 0 {
		return false
	}
	return true
}

// compare orders a against b. Mismatched types compare equal.
func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return 0
}

func sortHits(hits []memoryHit, fields []SortField) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		for _, f := range fields {
			c := 0
			switch f.Field {
			case SortScore:
				c = compare(a.score, b.score)
			case SortDistance:
				c = compare(a.distance, b.distance)
			default:
				av, aok := rangeValue(a.doc, f.Field)
				bv, bok := rangeValue(b.doc, f.Field)
				switch {
				case aok && bok:
					c = compare(av, bv)
				case aok != bok:
					// missing values sort last in either direction
					if aok {
						return true
					}
					return false
				}
			}
			if c != 0 {
				if f.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return a.doc.ID < b.doc.ID
	})
}

func statsOf(hits []memoryHit, field string) domain.PriceStats {
	var st domain.PriceStats
	sum := 0.0
	for _, h := range hits {
		v, ok := rangeValue(h.doc, field)
		f, isFloat := v.(float64)
		if !ok || !isFloat {
			continue
		}
		if st.Count == 0 {
			st.Min, st.Max = f, f
		}
		st.Min = math.Min(st.Min, f)
		st.Max = math.Max(st.Max, f)
		sum += f
		st.Count++
	}
	if st.Count > 0 {
		st.Avg = sum / float64(st.Count)
	}
	return st
}

// termsOf counts documents per distinct value of field, most frequent first,
// ties broken by key. Empty values are not counted.
func termsOf(hits []memoryHit, field string, size int) []domain.Bucket {
	counts := map[string]int64{}
	for _, h := range hits {
		seen := map[string]struct{}{}
		for _, v := range keywordValues(h.doc, field) {
			key := fmt.Sprint(v)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			counts[key]++
		}
	}
	buckets := make([]domain.Bucket, 0, len(counts))
	for k, c := range counts {
		buckets = append(buckets, domain.Bucket{Key: k, Count: c})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	if size > 0 && len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets
}
