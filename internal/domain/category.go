package domain

import (
	"encoding/json"
	"time"
)

// Category is a node of the category forest. Children are never stored; they
// are derived from ParentID when the tree is rebuilt.
type Category struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Description *string          `json:"description,omitempty"`
	ParentID    *int64           `json:"parent_id,omitempty"`
	IsActive    bool             `json:"is_active"`
	Metadata    *json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CategoryNode is a Category together with its nested children, as returned by
// the tree view.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children,omitempty"`
}

// NewCategory holds the input of a category create.
type NewCategory struct {
	Name        string
	Description *string
	ParentID    *int64
	Metadata    *json.RawMessage
}

// CategoryPatch holds the fields an update may change. Nil means unchanged.
// Reparenting goes through Move, not through a patch.
type CategoryPatch struct {
	Name        *string
	Slug        *string
	Description *string
	IsActive    *bool
	Metadata    *json.RawMessage
}
