package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
)

// PrincipalHeader carries the authenticated user id set by the gateway.
const PrincipalHeader = "X-User-ID"

// CategoryService is the category tree as used by the HTTP layer.
type CategoryService interface {
	Create(ctx context.Context, in domain.NewCategory) (*domain.Category, error)
	Update(ctx context.Context, id int64, patch domain.CategoryPatch) (*domain.Category, error)
	Move(ctx context.Context, id int64, newParent *int64) (*domain.Category, error)
	Remove(ctx context.Context, id int64) error
	GetTree(ctx context.Context) ([]*domain.CategoryNode, error)
	FindAll(ctx context.Context) ([]domain.Category, error)
	Get(ctx context.Context, id int64) (*domain.Category, error)
	Search(ctx context.Context, substring string) ([]domain.Category, error)
}

// ListingService is the listing catalog as used by the HTTP layer.
type ListingService interface {
	Create(ctx context.Context, ownerID string, in domain.NewListing) (*domain.Listing, error)
	CreateQuick(ctx context.Context, ownerID string, in domain.QuickListing) (*domain.Listing, error)
	Update(ctx context.Context, principal, id string, patch domain.ListingPatch) (*domain.Listing, error)
	Remove(ctx context.Context, principal, id string) error
	FindOne(ctx context.Context, id string) (*domain.Listing, error)
	FindAllActive(ctx context.Context) ([]domain.Listing, error)
	RecordView(ctx context.Context, id string) error
}

// Searcher runs listing searches.
type Searcher interface {
	Search(ctx context.Context, f domain.ListingFilter) (*domain.SearchResult, error)
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	categories CategoryService
	listings   ListingService
	searcher   Searcher
	validate   *validator.Validate
	logger     *zap.Logger
	metrics    *metrics.MetricsManager
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(cs CategoryService, ls ListingService, s Searcher, logger *zap.Logger, m *metrics.MetricsManager) *HTTPHandler {
	return &HTTPHandler{
		categories: cs,
		listings:   ls,
		searcher:   s,
		validate:   validator.New(),
		logger:     logger.Named("http"),
		metrics:    m,
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *HTTPHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, ErrorResponse{Error: message})
}

func (h *HTTPHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("failed to encode JSON response", zap.Error(err))
		}
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindSearchUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError writes the typed reason for caller-facing kinds and a
// generic message for everything else.
func (h *HTTPHandler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		h.respondWithError(w, code, "internal server error")
		return
	}
	if code == http.StatusServiceUnavailable {
		h.logger.Warn("search unavailable", zap.String("path", r.URL.Path), zap.Error(err))
	}

	reason := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		reason = de.Reason
	}
	h.respondWithJSON(w, code, ErrorResponse{Error: reason, Kind: string(kind)})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

func principal(r *http.Request) string {
	return r.Header.Get(PrincipalHeader)
}

// instrument records request count and latency per route pattern.
func (h *HTTPHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = r.Method + " " + rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		h.metrics.APIRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.instrument)

		r.Route("/api/v1/categories", func(r chi.Router) {
			r.Post("/", h.CreateCategory)
			r.Get("/", h.ListCategories)
			r.Get("/tree", h.GetCategoryTree)
			r.Route("/{categoryId}", func(r chi.Router) {
				r.Get("/", h.GetCategoryByID)
				r.Put("/", h.UpdateCategory)
				r.Put("/parent", h.MoveCategory)
				r.Delete("/", h.DeleteCategory)
			})
		})

		r.Route("/api/v1/listings", func(r chi.Router) {
			r.Post("/", h.CreateListing)
			r.Post("/quick", h.CreateQuickListing)
			r.Get("/", h.ListActiveListings)
			// before /{listingId} so "search" is not taken as an id
			r.Get("/search", h.SearchListings)
			r.Route("/{listingId}", func(r chi.Router) {
				r.Get("/", h.GetListingByID)
				r.Patch("/", h.UpdateListing)
				r.Delete("/", h.DeleteListing)
				r.Post("/views", h.RecordListingView)
			})
		})
	})
}
