package elastic

import (
	"strconv"
	"strings"
	"time"

	"classifieds-catalog/internal/search"
)

// searchBody translates q into an Elasticsearch search request body.
func searchBody(q search.Query) map[string]any {
	must := []any{}
	filter := []any{}

	if q.Text != nil && strings.TrimSpace(q.Text.Text) != "" {
		fields := make([]string, 0, len(q.Text.Fields))
		for _, f := range q.Text.Fields {
			if f.Boost != 0 && f.Boost != 1 {
				fields = append(fields, f.Field+"^"+strconv.FormatFloat(f.Boost, 'f', -1, 64))
				continue
			}
			fields = append(fields, f.Field)
		}
		match := map[string]any{
			"query":  q.Text.Text,
			"fields": fields,
			"type":   "best_fields",
		}
		if q.Text.Fuzzy {
			match["fuzziness"] = "AUTO"
		}
		must = append(must, map[string]any{"multi_match": match})
	}

	for _, t := range q.Terms {
		filter = append(filter, map[string]any{"term": map[string]any{t.Field: t.Value}})
	}
	for _, r := range q.Ranges {
		filter = append(filter, rangeClause(r))
	}
	if g := q.Geo; g != nil {
		filter = append(filter, map[string]any{"geo_distance": map[string]any{
			"distance": strconv.FormatFloat(g.RadiusKm, 'f', -1, 64) + "km",
			g.Field:    map[string]any{"lat": g.Lat, "lon": g.Lon},
		}})
	}

	body := map[string]any{
		"from":             q.From,
		"size":             q.Size,
		"track_total_hits": true,
		"query": map[string]any{"bool": map[string]any{
			"must":   must,
			"filter": filter,
		}},
	}
	if len(must) > 0 {
		body["track_scores"] = true
	}
	if sorts := sortClauses(q); len(sorts) > 0 {
		body["sort"] = sorts
	}
	if aggs := aggClauses(q.Aggs); len(aggs) > 0 {
		body["aggs"] = aggs
	}
	return body
}

func rangeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func rangeClause(r search.Range) map[string]any {
	bounds := map[string]any{}
	if r.GTE != nil {
		bounds["gte"] = rangeValue(r.GTE)
	}
	if r.GT != nil {
		bounds["gt"] = rangeValue(r.GT)
	}
	if r.LTE != nil {
		bounds["lte"] = rangeValue(r.LTE)
	}
	clause := map[string]any{"range": map[string]any{r.Field: bounds}}
	if !r.OrMissing {
		return clause
	}
	return map[string]any{"bool": map[string]any{
		"should": []any{
			clause,
			map[string]any{"bool": map[string]any{
				"must_not": map[string]any{"exists": map[string]any{"field": r.Field}},
			}},
		},
		"minimum_should_match": 1,
	}}
}

func order(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

func sortClauses(q search.Query) []any {
	out := make([]any, 0, len(q.Sort)+1)
	for _, s := range q.Sort {
		switch s.Field {
		case search.SortScore:
			out = append(out, map[string]any{"_score": map[string]any{"order": order(s.Desc)}})
		case search.SortDistance:
			if q.Geo == nil {
				continue
			}
			out = append(out, map[string]any{"_geo_distance": map[string]any{
				q.Geo.Field:     map[string]any{"lat": q.Geo.Lat, "lon": q.Geo.Lon},
				"order":         order(s.Desc),
				"unit":          "km",
				"distance_type": "arc",
			}})
		default:
			out = append(out, map[string]any{s.Field: map[string]any{"order": order(s.Desc), "missing": "_last"}})
		}
	}
	if len(out) > 0 {
		// stable paging across equal sort values
		out = append(out, map[string]any{search.FieldID: map[string]any{"order": "asc"}})
	}
	return out
}

func aggClauses(aggs []search.Agg) map[string]any {
	out := map[string]any{}
	for _, a := range aggs {
		switch a.Kind {
		case search.AggStats:
			out[a.Name] = map[string]any{"stats": map[string]any{"field": a.Field}}
		case search.AggTerms:
			size := a.Size
			if size <= 0 {
				size = 10
			}
			out[a.Name] = map[string]any{"terms": map[string]any{"field": a.Field, "size": size}}
		}
	}
	return out
}

// distanceSortIndex returns the position of the geo distance in each hit's
// sort values, or -1 when the query does not sort by distance.
func distanceSortIndex(q search.Query) int {
	if q.Geo == nil {
		return -1
	}
	i := 0
	for _, s := range q.Sort {
		switch s.Field {
		case search.SortDistance:
			return i
		default:
			i++
		}
	}
	return -1
}
