package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	StatusDraft     ListingStatus = "draft"
	StatusPending   ListingStatus = "pending"
	StatusActive    ListingStatus = "active"
	StatusExpired   ListingStatus = "expired"
	StatusDeleted   ListingStatus = "deleted"
	StatusPublished ListingStatus = "published"
)

type PriceType string

const (
	PriceFixed      PriceType = "fixed"
	PriceNegotiable PriceType = "negotiable"
	PriceFree       PriceType = "free"
	PriceContact    PriceType = "contact"
	PriceExchange   PriceType = "exchange"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is stored as a JSON document on the listing row.
type Location struct {
	Address     string       `json:"address,omitempty"`
	City        string       `json:"city,omitempty"`
	State       string       `json:"state,omitempty"`
	Country     string       `json:"country,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Listing is a single marketplace advertisement, the system-of-record entity.
type Listing struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Slug        string           `json:"slug"`
	Description string           `json:"description"`
	Contact     string           `json:"contact,omitempty"`
	Price       decimal.Decimal  `json:"price"`
	PriceType   PriceType        `json:"price_type"`
	Status      ListingStatus    `json:"status"`
	Type        string           `json:"type,omitempty"`
	Condition   string           `json:"condition,omitempty"`
	Location    *Location        `json:"location,omitempty"`
	CategoryIDs []int64          `json:"category_ids"`
	OwnerID     string           `json:"owner_id"`
	IsActive    bool             `json:"is_active"`
	IsFeatured  bool             `json:"is_featured"`
	IsVerified  bool             `json:"is_verified"`
	IsUrgent    bool             `json:"is_urgent"`
	Views       int64            `json:"views"`
	Favorites   int64            `json:"favorites"`
	Attributes  *json.RawMessage `json:"attributes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// IsVisible reports whether read queries may return the listing at instant now:
// active flag set, status active, and not past its expiry.
func (l *Listing) IsVisible(now time.Time) bool {
	if l == nil || !l.IsActive || l.Status != StatusActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// NewListing holds the input of a full-form create.
type NewListing struct {
	Title       string
	Description string
	Contact     string
	Price       decimal.Decimal
	PriceType   PriceType
	Status      ListingStatus
	Type        string
	Condition   string
	Location    *Location
	CategoryIDs []int64
	IsFeatured  bool
	IsVerified  bool
	IsUrgent    bool
	Attributes  *json.RawMessage
	ExpiresAt   *time.Time
}

// QuickListing is the minimal create form. Price is a pointer so a missing
// price can be told apart from a zero price.
type QuickListing struct {
	Title       string
	Description string
	Contact     string
	Price       *decimal.Decimal
	Location    *Location
	CategoryIDs []int64
}

// ListingPatch holds the fields an owner update may change. Nil means unchanged.
type ListingPatch struct {
	Title       *string
	Description *string
	Contact     *string
	Price       *decimal.Decimal
	PriceType   *PriceType
	Status      *ListingStatus
	Type        *string
	Condition   *string
	Location    *Location
	CategoryIDs *[]int64
	IsActive    *bool
	IsFeatured  *bool
	IsUrgent    *bool
	Attributes  *json.RawMessage
	ExpiresAt   *time.Time
}

// ChangeOp is the kind of change recorded in the search outbox.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// OutboxRecord is one "needs projecting" entry appended in the same
// transaction as the listing write.
type OutboxRecord struct {
	ID        int64
	ListingID string
	Op        ChangeOp
	Attempts  int
	LastError *string
	CreatedAt time.Time
}
