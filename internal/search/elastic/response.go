package elastic

import (
	"fmt"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/search"
)

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID    string   `json:"_id"`
			Score *float64 `json:"_score"`
			Sort  []any    `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]aggResponse `json:"aggregations"`
}

// aggResponse covers both stats and terms aggregation results.
type aggResponse struct {
	Count   int64    `json:"count"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Avg     *float64 `json:"avg"`
	Buckets []struct {
		Key      any   `json:"key"`
		DocCount int64 `json:"doc_count"`
	} `json:"buckets"`
}

func (sr *searchResponse) toResult(q search.Query) *search.Result {
	res := &search.Result{
		Total:   sr.Hits.Total.Value,
		Hits:    make([]search.Hit, 0, len(sr.Hits.Hits)),
		Stats:   map[string]domain.PriceStats{},
		Buckets: map[string][]domain.Bucket{},
	}

	distanceAt := distanceSortIndex(q)
	for _, h := range sr.Hits.Hits {
		hit := search.Hit{ID: h.ID}
		if q.Text != nil && h.Score != nil {
			score := *h.Score
			hit.Score = &score
		}
		if distanceAt >= 0 && distanceAt < len(h.Sort) {
			if d, ok := h.Sort[distanceAt].(float64); ok {
				hit.DistanceKm = &d
			}
		}
		res.Hits = append(res.Hits, hit)
	}

	for _, a := range q.Aggs {
		raw, ok := sr.Aggregations[a.Name]
		if !ok {
			continue
		}
		switch a.Kind {
		case search.AggStats:
			res.Stats[a.Name] = domain.PriceStats{
				Count: raw.Count,
				Min:   deref(raw.Min),
				Max:   deref(raw.Max),
				Avg:   deref(raw.Avg),
			}
		case search.AggTerms:
			buckets := make([]domain.Bucket, 0, len(raw.Buckets))
			for _, b := range raw.Buckets {
				buckets = append(buckets, domain.Bucket{Key: fmt.Sprint(b.Key), Count: b.DocCount})
			}
			res.Buckets[a.Name] = buckets
		}
	}
	return res
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
