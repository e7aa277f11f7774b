package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/progress-engine/generic"
)

// =============================================================================
// CATEGORY GUARD - Keeps categories from being orphaned or duplicated
// =============================================================================

// CategoryGuard answers "may I delete / name this category" questions.
// The answers are advisory: callers repeat them inside the write transaction
// and the store's unique index and restrict foreign keys close the gap.
type CategoryGuard struct{}

// CanDelete is false while any activity, task or habit references the category.
func (CategoryGuard) CanDelete(ctx context.Context, s Store, categoryID string) (bool, error) {
	refs, err := s.CategoryReferences(ctx, categoryID)
	if err != nil {
		return false, err
	}
	return refs.Total() == 0, nil
}

// NameAvailable is true when no other category of userID is called name.
// The match is exact and case-sensitive; excludeID (may be empty) lets a
// category keep its own name on rename.
func (CategoryGuard) NameAvailable(ctx context.Context, s Store, name, userID, excludeID string) (bool, error) {
	existing, err := s.FindCategoryByName(ctx, userID, name)
	if errors.Is(err, generic.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return excludeID != "" && existing.ID == excludeID, nil
}

// Owned loads the category and checks it belongs to userID. Someone else's
// category is reported as not found.
func (CategoryGuard) Owned(ctx context.Context, s Store, categoryID, userID string) (*Category, error) {
	c, err := s.GetCategory(ctx, categoryID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, generic.NotFound(fmt.Sprintf("category %s not found", categoryID), err)
	}
	if err != nil {
		return nil, generic.StoreFailure("load category", err)
	}
	if c.UserID != userID {
		return nil, generic.NotFound(fmt.Sprintf("category %s not found", categoryID), generic.ErrNotFound)
	}
	return c, nil
}
