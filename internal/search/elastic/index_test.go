package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/search"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type cannedResponse struct {
	status int
	body   string
}

// fakeTransport answers esapi requests from a queue of canned responses and
// records what it was sent.
type fakeTransport struct {
	mu        sync.Mutex
	responses []cannedResponse
	requests  []recordedRequest
}

func (f *fakeTransport) enqueue(status int, body string) {
	f.responses = append(f.responses, cannedResponse{status: status, body: body})
}

func (f *fakeTransport) Perform(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := recordedRequest{Method: req.Method, Path: req.URL.Path, Query: req.URL.RawQuery}
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
	}
	f.requests = append(f.requests, rec)

	resp := cannedResponse{status: http.StatusOK, body: `{}`}
	if len(f.responses) > 0 {
		resp, f.responses = f.responses[0], f.responses[1:]
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func newTestIndex() (*Index, *fakeTransport) {
	ft := &fakeTransport{}
	return New(ft, Config{Index: "listings"}, zap.NewNop()), ft
}

func TestIndex_EnsureSchemaCreatesMissingIndex(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusNotFound, ``)
	ft.enqueue(http.StatusOK, `{"acknowledged":true}`)

	require.NoError(t, ix.EnsureSchema(context.Background()))

	require.Len(t, ft.requests, 2)
	assert.Equal(t, http.MethodHead, ft.requests[0].Method)
	assert.Equal(t, "/listings", ft.requests[0].Path)
	assert.Equal(t, http.MethodPut, ft.requests[1].Method)

	props := ft.requests[1].Body["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "geo_point", props["location"].(map[string]any)["type"])
	assert.Equal(t, "keyword", props["categoryIds"].(map[string]any)["type"])
	assert.Equal(t, "text", props["title"].(map[string]any)["type"])
	assert.Equal(t, "float", props["price"].(map[string]any)["type"])
	assert.Equal(t, "date", props["expiresAt"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["isActive"].(map[string]any)["type"])
}

func TestIndex_EnsureSchemaIsIdempotent(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusOK, ``)
	require.NoError(t, ix.EnsureSchema(context.Background()))
	assert.Len(t, ft.requests, 1)

	// lost race against another instance
	ft.enqueue(http.StatusNotFound, ``)
	ft.enqueue(http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception","reason":"index [listings] already exists"}}`)
	require.NoError(t, ix.EnsureSchema(context.Background()))

	ft.enqueue(http.StatusNotFound, ``)
	ft.enqueue(http.StatusBadRequest, `{"error":{"type":"mapper_parsing_exception","reason":"bad mapping"}}`)
	err := ix.EnsureSchema(context.Background())
	require.Error(t, err)
	var esErr *Error
	require.ErrorAs(t, err, &esErr)
	assert.Equal(t, "mapper_parsing_exception", esErr.Type)
}

func TestIndex_UpsertAndDelete(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusCreated, `{"result":"created"}`)
	ft.enqueue(http.StatusNotFound, `{"result":"not_found"}`)
	ft.enqueue(http.StatusInternalServerError, `{"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}`)

	require.NoError(t, ix.Upsert(context.Background(), domain.SearchDocument{ID: "abc", Title: "Bike", CategoryIDs: []string{"3"}}))
	require.NoError(t, ix.Delete(context.Background(), "abc"), "404 on delete is not an error")
	assert.Error(t, ix.Delete(context.Background(), "abc"))

	require.Len(t, ft.requests, 3)
	assert.Equal(t, http.MethodPut, ft.requests[0].Method)
	assert.Equal(t, "/listings/_doc/abc", ft.requests[0].Path)
	assert.Equal(t, "Bike", ft.requests[0].Body["title"])
	assert.Equal(t, []any{"3"}, ft.requests[0].Body["categoryIds"])
	assert.Equal(t, http.MethodDelete, ft.requests[1].Method)
	assert.Equal(t, "/listings/_doc/abc", ft.requests[1].Path)
}

func TestIndex_QueryBuildsBodyAndParsesResponse(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusOK, `{
		"hits": {
			"total": {"value": 2, "relation": "eq"},
			"hits": [
				{"_id": "near", "_score": 1.7, "sort": [0.98, "near"]},
				{"_id": "far", "_score": 0.4, "sort": [9.9, "far"]}
			]
		},
		"aggregations": {
			"price": {"count": 2, "min": 10, "max": 30, "avg": 20, "sum": 40},
			"conditions": {"buckets": [{"key": "used", "doc_count": 2}]},
			"categories": {"buckets": [{"key": "4", "doc_count": 1}, {"key": "9", "doc_count": 1}]}
		}
	}`)

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := search.Query{
		Text: &search.TextMatch{Text: "bike", Fuzzy: true, Fields: []search.FieldBoost{
			{Field: search.FieldTitle, Boost: 3}, {Field: search.FieldDescription, Boost: 1},
		}},
		Terms:  []search.Term{{Field: search.FieldIsActive, Value: true}},
		Ranges: []search.Range{{Field: search.FieldExpiresAt, GT: now, OrMissing: true}, {Field: search.FieldPrice, GTE: 5.0}},
		Geo:    &search.GeoDistance{Field: search.FieldLocation, Lat: 40, Lon: -74, RadiusKm: 20},
		Sort:   []search.SortField{{Field: search.SortDistance}},
		From:   10,
		Size:   10,
		Aggs: []search.Agg{
			{Name: "price", Kind: search.AggStats, Field: search.FieldPrice},
			{Name: "conditions", Kind: search.AggTerms, Field: search.FieldCondition, Size: 20},
			{Name: "categories", Kind: search.AggTerms, Field: search.FieldCategoryIDs, Size: 50},
		},
	}

	res, err := ix.Query(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, ft.requests, 1)
	req := ft.requests[0]
	assert.Equal(t, "/listings/_search", req.Path)
	assert.EqualValues(t, 10, req.Body["from"])
	assert.EqualValues(t, 10, req.Body["size"])
	assert.Equal(t, true, req.Body["track_total_hits"])

	boolQ := req.Body["query"].(map[string]any)["bool"].(map[string]any)
	mm := boolQ["must"].([]any)[0].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "bike", mm["query"])
	assert.Equal(t, []any{"title^3", "description"}, mm["fields"])
	assert.Equal(t, "AUTO", mm["fuzziness"])

	filters := boolQ["filter"].([]any)
	require.Len(t, filters, 4)
	assert.Equal(t, map[string]any{"term": map[string]any{"isActive": true}}, filters[0])
	expiry := filters[1].(map[string]any)["bool"].(map[string]any)
	assert.EqualValues(t, 1, expiry["minimum_should_match"])
	assert.Equal(t, map[string]any{"range": map[string]any{"expiresAt": map[string]any{"gt": "2024-01-02T03:04:05Z"}}},
		expiry["should"].([]any)[0])
	assert.Equal(t, map[string]any{"range": map[string]any{"price": map[string]any{"gte": 5.0}}}, filters[2])
	geo := filters[3].(map[string]any)["geo_distance"].(map[string]any)
	assert.Equal(t, "20km", geo["distance"])

	sorts := req.Body["sort"].([]any)
	require.Len(t, sorts, 2)
	assert.Contains(t, sorts[0].(map[string]any), "_geo_distance")

	aggs := req.Body["aggs"].(map[string]any)
	assert.Equal(t, map[string]any{"stats": map[string]any{"field": "price"}}, aggs["price"])

	assert.Equal(t, int64(2), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "near", res.Hits[0].ID)
	require.NotNil(t, res.Hits[0].Score)
	assert.InDelta(t, 1.7, *res.Hits[0].Score, 1e-9)
	require.NotNil(t, res.Hits[0].DistanceKm)
	assert.InDelta(t, 0.98, *res.Hits[0].DistanceKm, 1e-9)
	assert.Equal(t, domain.PriceStats{Count: 2, Min: 10, Max: 30, Avg: 20}, res.Stats["price"])
	assert.Equal(t, []domain.Bucket{{Key: "used", Count: 2}}, res.Buckets["conditions"])
	assert.Equal(t, []domain.Bucket{{Key: "4", Count: 1}, {Key: "9", Count: 1}}, res.Buckets["categories"])
}

func TestIndex_QueryWithoutTextHasNoMust(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusOK, `{"hits":{"total":{"value":0},"hits":[]}}`)

	res, err := ix.Query(context.Background(), search.Query{
		Sort: []search.SortField{{Field: search.FieldCreatedAt, Desc: true}},
		Size: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	body := ft.requests[0].Body
	assert.Empty(t, body["query"].(map[string]any)["bool"].(map[string]any)["must"])
	assert.NotContains(t, body, "track_scores")
	assert.Equal(t, map[string]any{"createdAt": map[string]any{"order": "desc", "missing": "_last"}},
		body["sort"].([]any)[0])
}

func TestIndex_QueryFailure(t *testing.T) {
	ix, ft := newTestIndex()
	ft.enqueue(http.StatusServiceUnavailable, `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"}}`)

	_, err := ix.Query(context.Background(), search.Query{Size: 10})
	require.Error(t, err)
	var esErr *Error
	require.ErrorAs(t, err, &esErr)
	assert.Equal(t, http.StatusServiceUnavailable, esErr.Status)
}
