// Package elastic implements search.Index on Elasticsearch through the typed
// esapi requests of go-elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/search"
)

// Config selects the index and its write refresh policy.
type Config struct {
	Index string
	// Refresh is passed on writes: "", "true", "false" or "wait_for".
	Refresh string
}

// Index is a search.Index backed by one Elasticsearch index.
type Index struct {
	transport esapi.Transport
	cfg       Config
	logger    *zap.Logger
}

var _ search.Index = (*Index)(nil)

// New returns an Index. transport is usually an *elasticsearch.Client.
func New(transport esapi.Transport, cfg Config, logger *zap.Logger) *Index {
	return &Index{transport: transport, cfg: cfg, logger: logger.Named("elastic")}
}

// EnsureSchema creates the index with its mapping when it does not exist. A
// concurrent create by another instance counts as success.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{ix.cfg.Index}}.Do(ctx, ix.transport)
	if err != nil {
		return fmt.Errorf("elastic: check index %s: %w", ix.cfg.Index, err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("elastic: check index %s: unexpected status %d", ix.cfg.Index, res.StatusCode)
	}

	body, err := encode(indexMapping())
	if err != nil {
		return err
	}
	res, err = esapi.IndicesCreateRequest{Index: ix.cfg.Index, Body: body}.Do(ctx, ix.transport)
	if err != nil {
		return fmt.Errorf("elastic: create index %s: %w", ix.cfg.Index, err)
	}
	defer drain(res)
	if res.IsError() {
		e := decodeError(res)
		if e.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("elastic: create index %s: %w", ix.cfg.Index, e)
	}
	ix.logger.Info("search index created", zap.String("index", ix.cfg.Index))
	return nil
}

func (ix *Index) Upsert(ctx context.Context, doc domain.SearchDocument) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := esapi.IndexRequest{
		Index:      ix.cfg.Index,
		DocumentID: doc.ID,
		Body:       body,
		Refresh:    ix.cfg.Refresh,
	}.Do(ctx, ix.transport)
	if err != nil {
		return fmt.Errorf("elastic: index document %s: %w", doc.ID, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("elastic: index document %s: %w", doc.ID, decodeError(res))
	}
	return nil
}

// Delete removes the document. A 404 means it is already gone.
func (ix *Index) Delete(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{
		Index:      ix.cfg.Index,
		DocumentID: id,
		Refresh:    ix.cfg.Refresh,
	}.Do(ctx, ix.transport)
	if err != nil {
		return fmt.Errorf("elastic: delete document %s: %w", id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("elastic: delete document %s: %w", id, decodeError(res))
	}
	return nil
}

func (ix *Index) Query(ctx context.Context, q search.Query) (*search.Result, error) {
	body, err := encode(searchBody(q))
	if err != nil {
		return nil, err
	}
	res, err := esapi.SearchRequest{
		Index: []string{ix.cfg.Index},
		Body:  body,
	}.Do(ctx, ix.transport)
	if err != nil {
		return nil, fmt.Errorf("elastic: search %s: %w", ix.cfg.Index, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("elastic: search %s: %w", ix.cfg.Index, decodeError(res))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("elastic: decode search response: %w", err)
	}
	return sr.toResult(q), nil
}

// Error is an error reported by Elasticsearch in the response body.
type Error struct {
	Status int
	Type   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func decodeError(res *esapi.Response) *Error {
	e := &Error{Status: res.StatusCode}
	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if res.Body != nil && json.NewDecoder(res.Body).Decode(&payload) == nil {
		e.Type = payload.Error.Type
		e.Reason = payload.Error.Reason
	}
	return e
}

func encode(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("elastic: encode request body: %w", err)
	}
	return &buf, nil
}

// drain consumes and closes the body so the connection can be reused.
func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
