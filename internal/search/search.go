// Package search defines the search index contract and a backend-neutral
// query model. The query engine builds a Query; each backend translates it
// to its own request format.
package search

import (
	"context"

	"classifieds-catalog/internal/domain"
)

// Document field names, as stored in the index.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldSlug        = "slug"
	FieldType        = "type"
	FieldCondition   = "condition"
	FieldStatus      = "status"
	FieldPriceType   = "priceType"
	FieldCategoryIDs = "categoryIds"
	FieldOwnerID     = "ownerId"
	FieldPrice       = "price"
	FieldLocation    = "location"
	FieldCity        = "city"
	FieldCountry     = "country"
	FieldIsActive    = "isActive"
	FieldIsFeatured  = "isFeatured"
	FieldIsVerified  = "isVerified"
	FieldIsUrgent    = "isUrgent"
	FieldCreatedAt   = "createdAt"
	FieldPublishedAt = "publishedAt"
	FieldExpiresAt   = "expiresAt"

	// Pseudo fields accepted by SortField.
	SortScore    = "_score"
	SortDistance = "_geo_distance"
)

// Index is a durable, queryable copy of the listings.
type Index interface {
	// EnsureSchema creates the index and its mapping when absent. Safe to call on every start.
	EnsureSchema(ctx context.Context) error
	// Upsert replaces the whole document stored under doc.ID.
	Upsert(ctx context.Context, doc domain.SearchDocument) error
	// Delete removes the document; a missing id is not an error.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) (*Result, error)
}

// FieldBoost weights a text field in a full-text match.
type FieldBoost struct {
	Field string
	Boost float64
}

// TextMatch is a full-text match over several fields. A document matches
// when any query token matches any field.
type TextMatch struct {
	Text   string
	Fields []FieldBoost
	Fuzzy  bool
}

// Term is an exact-match filter. Value is a string or a bool. Array fields
// match when any element equals Value.
type Term struct {
	Field string
	Value any
}

// Range bounds a numeric (float64) or date (time.Time) field. Nil bounds are
// open. With OrMissing set, documents without the field also match.
type Range struct {
	Field     string
	GTE       any
	LTE       any
	GT        any
	OrMissing bool
}

// GeoDistance keeps documents whose geo-point lies within RadiusKm of the origin.
type GeoDistance struct {
	Field    string
	Lat      float64
	Lon      float64
	RadiusKm float64
}

type SortField struct {
	Field string
	Desc  bool
}

type AggKind string

const (
	AggStats AggKind = "stats"
	AggTerms AggKind = "terms"
)

// Agg requests an aggregation over every matching document, not just the
// returned page.
type Agg struct {
	Name  string
	Kind  AggKind
	Field string
	Size  int
}

// Query is the structured search request: a must clause (Text), filters
// ANDed together, sort, pagination and aggregations.
type Query struct {
	Text   *TextMatch
	Terms  []Term
	Ranges []Range
	Geo    *GeoDistance
	Sort   []SortField
	From   int
	Size   int
	Aggs   []Agg
}

// Hit is one matching document id with the transient values the index reports.
type Hit struct {
	ID         string
	Score      *float64
	DistanceKm *float64
}

type Result struct {
	Hits    []Hit
	Total   int64
	Stats   map[string]domain.PriceStats
	Buckets map[string][]domain.Bucket
}
