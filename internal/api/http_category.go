package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"classifieds-catalog/internal/domain"
)

// --- Category Handlers ---

// CategoryCreateInput defines the expected input for creating a category.
type CategoryCreateInput struct {
	Name        string           `json:"name" validate:"max=255"`
	Description *string          `json:"description" validate:"omitempty"`
	ParentID    *int64           `json:"parent_id" validate:"omitempty,gt=0"`
	Metadata    *json.RawMessage `json:"metadata"`
}

// CategoryUpdateInput defines the fields an update may carry.
type CategoryUpdateInput struct {
	Name        *string          `json:"name" validate:"omitempty,max=255"`
	Slug        *string          `json:"slug" validate:"omitempty,max=255"`
	Description *string          `json:"description"`
	IsActive    *bool            `json:"is_active"`
	Metadata    *json.RawMessage `json:"metadata"`
}

// CategoryMoveInput reparents a category; a null parent_id makes it a root.
type CategoryMoveInput struct {
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

func categoryID(w http.ResponseWriter, r *http.Request, h *HTTPHandler) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "categoryId"), 10, 64)
	if err != nil || id <= 0 {
		h.respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryCreateInput
	if !h.decode(w, r, &input) {
		return
	}

	created, err := h.categories.Create(r.Context(), domain.NewCategory{
		Name:        input.Name,
		Description: input.Description,
		ParentID:    input.ParentID,
		Metadata:    input.Metadata,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, created)
}

// ListCategories returns every category ordered by name, or the ones whose
// name or description contains ?q= when it is given.
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	var (
		categories []domain.Category
		err        error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		categories, err = h.categories.Search(r.Context(), q)
	} else {
		categories, err = h.categories.FindAll(r.Context())
	}
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	response := struct {
		Data  []domain.Category `json:"data"`
		Total int               `json:"total"`
	}{Data: categories, Total: len(categories)}
	h.respondWithJSON(w, http.StatusOK, response)
}

func (h *HTTPHandler) GetCategoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.categories.GetTree(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tree)
}

func (h *HTTPHandler) GetCategoryByID(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r, h)
	if !ok {
		return
	}
	category, err := h.categories.Get(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, category)
}

func (h *HTTPHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r, h)
	if !ok {
		return
	}
	var input CategoryUpdateInput
	if !h.decode(w, r, &input) {
		return
	}

	updated, err := h.categories.Update(r.Context(), id, domain.CategoryPatch{
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
		IsActive:    input.IsActive,
		Metadata:    input.Metadata,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) MoveCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r, h)
	if !ok {
		return
	}
	var input CategoryMoveInput
	if !h.decode(w, r, &input) {
		return
	}

	moved, err := h.categories.Move(r.Context(), id, input.ParentID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, moved)
}

func (h *HTTPHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r, h)
	if !ok {
		return
	}
	if err := h.categories.Remove(r.Context(), id); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
