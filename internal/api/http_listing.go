package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"classifieds-catalog/internal/domain"
)

// --- Listing Handlers ---

// ListingCreateInput defines the full create form.
type ListingCreateInput struct {
	Title       string           `json:"title" validate:"max=200"`
	Description string           `json:"description"`
	Contact     string           `json:"contact" validate:"max=255"`
	Price       decimal.Decimal  `json:"price"`
	PriceType   string           `json:"price_type"`
	Status      string           `json:"status"`
	Type        string           `json:"type"`
	Condition   string           `json:"condition"`
	Location    *domain.Location `json:"location"`
	CategoryIDs []int64          `json:"category_ids" validate:"dive,gt=0"`
	IsFeatured  bool             `json:"is_featured"`
	IsUrgent    bool             `json:"is_urgent"`
	Attributes  *json.RawMessage `json:"attributes"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

// ListingQuickInput defines the minimal create form.
type ListingQuickInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Contact     string           `json:"contact"`
	Price       *decimal.Decimal `json:"price"`
	Location    *domain.Location `json:"location"`
	CategoryIDs []int64          `json:"category_ids" validate:"dive,gt=0"`
}

// ListingUpdateInput carries the fields to change; absent fields are kept.
type ListingUpdateInput struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Contact     *string          `json:"contact"`
	Price       *decimal.Decimal `json:"price"`
	PriceType   *string          `json:"price_type"`
	Status      *string          `json:"status"`
	Type        *string          `json:"type"`
	Condition   *string          `json:"condition"`
	Location    *domain.Location `json:"location"`
	CategoryIDs *[]int64         `json:"category_ids"`
	IsActive    *bool            `json:"is_active"`
	IsFeatured  *bool            `json:"is_featured"`
	IsUrgent    *bool            `json:"is_urgent"`
	Attributes  *json.RawMessage `json:"attributes"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

func (in ListingUpdateInput) patch() domain.ListingPatch {
	p := domain.ListingPatch{
		Title:       in.Title,
		Description: in.Description,
		Contact:     in.Contact,
		Price:       in.Price,
		Type:        in.Type,
		Condition:   in.Condition,
		Location:    in.Location,
		CategoryIDs: in.CategoryIDs,
		IsActive:    in.IsActive,
		IsFeatured:  in.IsFeatured,
		IsUrgent:    in.IsUrgent,
		Attributes:  in.Attributes,
		ExpiresAt:   in.ExpiresAt,
	}
	if in.PriceType != nil {
		pt := domain.PriceType(*in.PriceType)
		p.PriceType = &pt
	}
	if in.Status != nil {
		st := domain.ListingStatus(*in.Status)
		p.Status = &st
	}
	return p
}

func (h *HTTPHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var input ListingCreateInput
	if !h.decode(w, r, &input) {
		return
	}

	created, err := h.listings.Create(r.Context(), principal(r), domain.NewListing{
		Title:       input.Title,
		Description: input.Description,
		Contact:     input.Contact,
		Price:       input.Price,
		PriceType:   domain.PriceType(input.PriceType),
		Status:      domain.ListingStatus(input.Status),
		Type:        input.Type,
		Condition:   input.Condition,
		Location:    input.Location,
		CategoryIDs: input.CategoryIDs,
		IsFeatured:  input.IsFeatured,
		IsUrgent:    input.IsUrgent,
		Attributes:  input.Attributes,
		ExpiresAt:   input.ExpiresAt,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) CreateQuickListing(w http.ResponseWriter, r *http.Request) {
	var input ListingQuickInput
	if !h.decode(w, r, &input) {
		return
	}

	created, err := h.listings.CreateQuick(r.Context(), principal(r), domain.QuickListing{
		Title:       input.Title,
		Description: input.Description,
		Contact:     input.Contact,
		Price:       input.Price,
		Location:    input.Location,
		CategoryIDs: input.CategoryIDs,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) ListActiveListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.FindAllActive(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	response := struct {
		Data  []domain.Listing `json:"data"`
		Total int              `json:"total"`
	}{Data: listings, Total: len(listings)}
	h.respondWithJSON(w, http.StatusOK, response)
}

func (h *HTTPHandler) GetListingByID(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listings.FindOne(r.Context(), chi.URLParam(r, "listingId"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, listing)
}

func (h *HTTPHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	var input ListingUpdateInput
	if !h.decode(w, r, &input) {
		return
	}

	updated, err := h.listings.Update(r.Context(), principal(r), chi.URLParam(r, "listingId"), input.patch())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	if err := h.listings.Remove(r.Context(), principal(r), chi.URLParam(r, "listingId")); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) RecordListingView(w http.ResponseWriter, r *http.Request) {
	if err := h.listings.RecordView(r.Context(), chi.URLParam(r, "listingId")); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) SearchListings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	result, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

// queryParser collects the first malformed parameter while parsing.
type queryParser struct {
	values url.Values
	err    error
}

func (p *queryParser) fail(name string) {
	if p.err == nil {
		p.err = domain.Validationf("Invalid %s parameter", name)
	}
}

func (p *queryParser) int(name string) int {
	raw := p.values.Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(name)
	}
	return v
}

func (p *queryParser) int64Ptr(name string) *int64 {
	raw := p.values.Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &v
}

func (p *queryParser) floatPtr(name string) *float64 {
	raw := p.values.Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &v
}

func (p *queryParser) boolPtr(name string) *bool {
	raw := p.values.Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &v
}

// parseFilter reads a listing filter from the query string. A location is
// set only when both lat and lon are present.
func parseFilter(values url.Values) (domain.ListingFilter, error) {
	p := &queryParser{values: values}
	f := domain.ListingFilter{
		Query:      values.Get("q"),
		CategoryID: p.int64Ptr("category_id"),
		OwnerID:    values.Get("owner_id"),
		MinPrice:   p.floatPtr("min_price"),
		MaxPrice:   p.floatPtr("max_price"),
		Status:     values.Get("status"),
		Type:       values.Get("type"),
		Condition:  values.Get("condition"),
		IsFeatured: p.boolPtr("is_featured"),
		IsVerified: p.boolPtr("is_verified"),
		IsUrgent:   p.boolPtr("is_urgent"),
		Page:       p.int("page"),
		Limit:      p.int("limit"),
		Sort:       values.Get("sort"),
		Order:      values.Get("order"),
	}

	lat, lon, radius := p.floatPtr("lat"), p.floatPtr("lon"), p.floatPtr("radius_km")
	if lat != nil && lon != nil {
		f.Location = &domain.GeoFilter{Lat: *lat, Lon: *lon}
		if radius != nil {
			f.Location.RadiusKm = *radius
		}
	} else if (lat != nil || lon != nil) && p.err == nil {
		p.err = domain.Validationf("lat and lon must be given together")
	}
	return f, p.err
}
