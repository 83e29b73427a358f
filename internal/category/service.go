package category

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/store"
	"classifieds-catalog/internal/validate"
)

var nameRules = validate.Rules{
	{Field: "name", Tag: "notblank", Message: "name is required"},
	{Field: "name", Tag: "max=255", Message: "name must be at most 255 characters"},
	{Field: "slug", Tag: "notblank", Message: "slug must not be blank"},
	{Field: "slug", Tag: "max=255", Message: "slug must be at most 255 characters"},
}

// Service implements the category tree operations on top of a CategoryStorer.
type Service struct {
	store  store.CategoryStorer
	logger *zap.Logger
}

func NewService(s store.CategoryStorer, logger *zap.Logger) *Service {
	return &Service{store: s, logger: logger.Named("category")}
}

// Create adds a category. The slug is derived from the name and must be unused.
func (s *Service) Create(ctx context.Context, in domain.NewCategory) (*domain.Category, error) {
	if err := nameRules.Check(map[string]any{"name": in.Name}); err != nil {
		return nil, err
	}
	if err := checkMetadata(in.Metadata); err != nil {
		return nil, err
	}
	sl := slug.Make(in.Name)
	if sl == "" {
		return nil, domain.Validationf("name must contain at least one letter or digit")
	}

	c := &domain.Category{
		Name:        strings.TrimSpace(in.Name),
		Slug:        sl,
		Description: in.Description,
		ParentID:    in.ParentID,
		IsActive:    true,
		Metadata:    in.Metadata,
	}
	err := s.store.InCategoryTx(ctx, func(tx store.CategoryTx) error {
		if c.ParentID != nil {
			if _, err := tx.GetCategory(ctx, *c.ParentID); err != nil {
				if errors.Is(err, store.ErrCategoryNotFound) {
					return domain.NotFoundf("parent category %d not found", *c.ParentID)
				}
				return err
			}
		}
		taken, err := tx.CategorySlugTaken(ctx, sl, 0)
		if err != nil {
			return err
		}
		if taken {
			return domain.Conflictf("category slug %q already exists", sl)
		}
		return tx.InsertCategory(ctx, c)
	})
	if err != nil {
		return nil, translate(err, "create category")
	}

	s.logger.Info("category created", zap.Int64("id", c.ID), zap.String("slug", c.Slug))
	return c, nil
}

// Update applies patch to the category. Renaming keeps the existing slug; an
// explicit slug in the patch must not collide with another category.
func (s *Service) Update(ctx context.Context, id int64, patch domain.CategoryPatch) (*domain.Category, error) {
	values := map[string]any{}
	if patch.Name != nil {
		values["name"] = *patch.Name
	}
	if patch.Slug != nil {
		values["slug"] = *patch.Slug
	}
	if err := nameRules.Check(values); err != nil {
		return nil, err
	}
	if err := checkMetadata(patch.Metadata); err != nil {
		return nil, err
	}

	var updated *domain.Category
	err := s.store.InCategoryTx(ctx, func(tx store.CategoryTx) error {
		c, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Slug != nil {
			sl := slug.Make(*patch.Slug)
			if sl == "" {
				return domain.Validationf("slug must contain at least one letter or digit")
			}
			taken, err := tx.CategorySlugTaken(ctx, sl, id)
			if err != nil {
				return err
			}
			if taken {
				return domain.Conflictf("category slug %q already exists", sl)
			}
			c.Slug = sl
		}
		if patch.Description != nil {
			c.Description = patch.Description
		}
		if patch.IsActive != nil {
			c.IsActive = *patch.IsActive
		}
		if patch.Metadata != nil {
			c.Metadata = patch.Metadata
		}
		if err := tx.UpdateCategory(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, translate(err, "update category")
	}

	s.logger.Info("category updated", zap.Int64("id", id))
	return updated, nil
}

// Move reparents id under newParent, or makes it a root when newParent is nil.
// The descendant check and the write happen under the tree lock so two
// concurrent moves cannot both pass the check.
func (s *Service) Move(ctx context.Context, id int64, newParent *int64) (*domain.Category, error) {
	var moved *domain.Category
	err := s.store.InCategoryTx(ctx, func(tx store.CategoryTx) error {
		if err := tx.LockCategoryTree(ctx); err != nil {
			return err
		}
		all, err := tx.ListCategories(ctx)
		if err != nil {
			return err
		}
		forest := NewForest(all)
		c, ok := forest.Get(id)
		if !ok {
			return domain.NotFoundf("category %d not found", id)
		}
		if newParent != nil {
			if _, ok := forest.Get(*newParent); !ok {
				return domain.NotFoundf("parent category %d not found", *newParent)
			}
		}
		if !forest.CanMove(id, newParent) {
			return domain.Conflictf("cannot move category %d into its own subtree", id)
		}
		if err := tx.SetCategoryParent(ctx, id, newParent); err != nil {
			return err
		}
		c.ParentID = newParent
		moved = &c
		return nil
	})
	if err != nil {
		return nil, translate(err, "move category")
	}

	fields := []zap.Field{zap.Int64("id", id)}
	if newParent != nil {
		fields = append(fields, zap.Int64("parent_id", *newParent))
	}
	s.logger.Info("category moved", fields...)
	return moved, nil
}

// Remove deletes a leaf category that no listing references. Categories with
// children or listings are rejected; nothing cascades.
func (s *Service) Remove(ctx context.Context, id int64) error {
	err := s.store.InCategoryTx(ctx, func(tx store.CategoryTx) error {
		if err := tx.LockCategoryTree(ctx); err != nil {
			return err
		}
		if _, err := tx.GetCategory(ctx, id); err != nil {
			return err
		}
		children, err := tx.CountChildCategories(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return domain.Conflictf("category %d has %d child categories", id, children)
		}
		inUse, err := tx.CategoryInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return domain.Conflictf("category %d is used by listings", id)
		}
		return tx.DeleteCategory(ctx, id)
	})
	if err != nil {
		return translate(err, "remove category")
	}

	s.logger.Info("category removed", zap.Int64("id", id))
	return nil
}

// GetTree returns the whole hierarchy as nested nodes, siblings by name.
func (s *Service) GetTree(ctx context.Context) ([]*domain.CategoryNode, error) {
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, translate(err, "load category tree")
	}
	return NewForest(all).Tree(), nil
}

// FindAll returns every category ordered by name.
func (s *Service) FindAll(ctx context.Context) ([]domain.Category, error) {
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, translate(err, "list categories")
	}
	return all, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, translate(err, "get category")
	}
	return c, nil
}

// Search matches substring against name and description, ignoring case.
func (s *Service) Search(ctx context.Context, substring string) ([]domain.Category, error) {
	found, err := s.store.SearchCategories(ctx, strings.TrimSpace(substring))
	if err != nil {
		return nil, translate(err, "search categories")
	}
	return found, nil
}

func checkMetadata(raw *json.RawMessage) error {
	if raw != nil && !json.Valid(*raw) {
		return domain.Validationf("metadata must be valid JSON")
	}
	return nil
}

// translate maps store sentinels to domain errors and leaves domain errors as is.
func translate(err error, op string) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrCategoryNotFound):
		return domain.NotFoundf("category not found")
	case errors.Is(err, store.ErrSlugExists):
		return domain.Conflictf("category slug already exists")
	case errors.Is(err, store.ErrCategoryInUse):
		return domain.Conflictf("category is still referenced")
	}
	return fmt.Errorf("category: %s: %w", op, err)
}
