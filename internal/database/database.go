package database

import (
	"context"
	"errors"

	"github.com/leca/dt-image-renditions/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Database defines the persistence interface for owning records.
type Database interface {
	CreateAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, accountID, id string) (*model.Asset, error)
	ListAssets(ctx context.Context, accountID string, page, perPage int) ([]*model.Asset, int, error)
	UpdateAsset(ctx context.Context, a *model.Asset) error
	DeleteAsset(ctx context.Context, accountID, id string) error

	// ForEachAsset calls fn for every asset of accountID, or of every account
	// when accountID is empty. Iteration stops at the first error.
	ForEachAsset(ctx context.Context, accountID string, fn func(*model.Asset) error) error

	// RunInTransaction runs fn in a transaction carried by its context.
	// Nested calls join the outer transaction.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	Close() error
}
