package domain

import "time"

// GeoPoint is the index representation of Coordinates.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SearchDocument is the denormalized, non-authoritative copy of a Listing kept
// in the search index under the listing id.
type SearchDocument struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Slug        string     `json:"slug"`
	Type        string     `json:"type"`
	Condition   string     `json:"condition"`
	Status      string     `json:"status"`
	PriceType   string     `json:"priceType"`
	CategoryIDs []string   `json:"categoryIds"`
	OwnerID     string     `json:"ownerId"`
	Price       float64    `json:"price"`
	Location    *GeoPoint  `json:"location,omitempty"`
	City        string     `json:"city,omitempty"`
	Country     string     `json:"country,omitempty"`
	IsActive    bool       `json:"isActive"`
	IsFeatured  bool       `json:"isFeatured"`
	IsVerified  bool       `json:"isVerified"`
	IsUrgent    bool       `json:"isUrgent"`
	CreatedAt   time.Time  `json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Sort orders accepted by the query engine.
const (
	SortRelevance = "relevance"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortDateDesc  = "date_desc"
)

// GeoFilter restricts results to a radius around a point.
type GeoFilter struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radius_km"`
}

// ListingFilter is the input of a listing search. Zero values mean "no filter",
// except Page and Limit which are normalized by the query engine.
type ListingFilter struct {
	Query      string
	CategoryID *int64
	OwnerID    string
	MinPrice   *float64
	MaxPrice   *float64
	Status     string
	Type       string
	Condition  string
	Location   *GeoFilter
	IsFeatured *bool
	IsVerified *bool
	IsUrgent   *bool
	Page       int
	Limit      int
	Sort       string
	Order      string
}

// SearchHit is a hydrated listing plus the transient values reported by the
// index. Score and DistanceKm are never persisted.
type SearchHit struct {
	*Listing
	Score      *float64 `json:"score,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

type PriceStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type Aggregations struct {
	Price      PriceStats `json:"price"`
	Conditions []Bucket   `json:"conditions"`
	Categories []Bucket   `json:"categories"`
}

// SearchResult is the paginated response of a listing search.
type SearchResult struct {
	Items        []SearchHit  `json:"items"`
	Total        int64        `json:"total"`
	Page         int          `json:"page"`
	Limit        int          `json:"limit"`
	Pages        int          `json:"pages"`
	Aggregations Aggregations `json:"aggregations"`
}
