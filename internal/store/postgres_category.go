package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"classifieds-catalog/internal/domain"
)

const categoryColumns = `id, name, slug, description, parent_id, is_active, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*domain.Category, error) {
	var (
		c        domain.Category
		metadata []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.ParentID, &c.IsActive, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if metadata != nil {
		raw := json.RawMessage(metadata)
		c.Metadata = &raw
	}
	return &c, nil
}

func nullableJSON(raw *json.RawMessage) any {
	if raw == nil || len(*raw) == 0 {
		return nil
	}
	return []byte(*raw)
}

// --- CategoryStorer Implementation ---

func (s *PostgresStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.direct().ListCategories(ctx)
}

func (s *PostgresStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	return s.direct().GetCategory(ctx, id)
}

// SearchCategories returns categories whose name or description contains
// substring, case-insensitively.
func (s *PostgresStore) SearchCategories(ctx context.Context, substring string) ([]domain.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM catalog.categories
		WHERE name ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\'
		ORDER BY name ASC, id ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, "%"+escapeLike(substring)+"%")
	if err != nil {
		return nil, fmt.Errorf("store: SearchCategories failed to query categories: %w", err)
	}
	return collectCategories(rows, "SearchCategories")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func collectCategories(rows *sql.Rows, op string) ([]domain.Category, error) {
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s failed to scan category row: %w", op, err)
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s iteration error: %w", op, err)
	}
	return categories, nil
}

// --- CategoryTx Implementation ---

func (t *pgTx) LockCategoryTree(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1);`, categoryTreeLockKey); err != nil {
		return fmt.Errorf("store: LockCategoryTree failed: %w", err)
	}
	return nil
}

func (t *pgTx) ListCategories(ctx context.Context) ([]domain.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM catalog.categories
		ORDER BY name ASC, id ASC;
	`
	rows, err := t.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: ListCategories failed to query categories: %w", err)
	}
	return collectCategories(rows, "ListCategories")
}

func (t *pgTx) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM catalog.categories
		WHERE id = $1;
	`
	c, err := scanCategory(t.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategory failed to scan row: %w", err)
	}
	return c, nil
}

// CategorySlugTaken reports whether another category than excludeID uses slug.
func (t *pgTx) CategorySlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var taken bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.categories WHERE slug = $1 AND id <> $2);`,
		slug, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("store: CategorySlugTaken failed: %w", err)
	}
	return taken, nil
}

func (t *pgTx) InsertCategory(ctx context.Context, category *domain.Category) error {
	query := `
		INSERT INTO catalog.categories (name, slug, description, parent_id, is_active, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at;
	`
	err := t.q.QueryRowContext(ctx, query,
		category.Name, category.Slug, category.Description, category.ParentID, category.IsActive, nullableJSON(category.Metadata),
	).Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		switch pqCode(err) {
		case codeUniqueViolation:
			return ErrSlugExists
		case codeForeignKeyViolation:
			return ErrCategoryNotFound
		}
		return fmt.Errorf("store: InsertCategory failed to scan row: %w", err)
	}
	return nil
}

// UpdateCategory writes the mutable fields of category. The parent is left
// untouched; see SetCategoryParent.
func (t *pgTx) UpdateCategory(ctx context.Context, category *domain.Category) error {
	query := `
		UPDATE catalog.categories
		SET name = $1, slug = $2, description = $3, is_active = $4, metadata = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
		RETURNING updated_at;
	`
	err := t.q.QueryRowContext(ctx, query,
		category.Name, category.Slug, category.Description, category.IsActive, nullableJSON(category.Metadata), category.ID,
	).Scan(&category.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCategoryNotFound
		}
		if pqCode(err) == codeUniqueViolation {
			return ErrSlugExists
		}
		return fmt.Errorf("store: UpdateCategory failed to scan row: %w", err)
	}
	return nil
}

func (t *pgTx) SetCategoryParent(ctx context.Context, id int64, parentID *int64) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE catalog.categories SET parent_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2;`,
		parentID, id,
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("store: SetCategoryParent failed to execute update: %w", err)
	}
	return rowsAffectedOrNotFound(result, "SetCategoryParent", ErrCategoryNotFound)
}

func (t *pgTx) CountChildCategories(ctx context.Context, id int64) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog.categories WHERE parent_id = $1;`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: CountChildCategories failed: %w", err)
	}
	return n, nil
}

func (t *pgTx) CategoryInUse(ctx context.Context, id int64) (bool, error) {
	var used bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.listing_categories WHERE category_id = $1);`, id,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("store: CategoryInUse failed: %w", err)
	}
	return used, nil
}

func (t *pgTx) DeleteCategory(ctx context.Context, id int64) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM catalog.categories WHERE id = $1;`, id)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return ErrCategoryInUse
		}
		return fmt.Errorf("store: DeleteCategory failed to execute delete: %w", err)
	}
	return rowsAffectedOrNotFound(result, "DeleteCategory", ErrCategoryNotFound)
}
