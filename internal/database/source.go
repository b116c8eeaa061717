package database

import (
	"context"

	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

var _ warmer.RecordSource = AssetSource{}

// AssetSource enumerates assets for bulk rendition work.
type AssetSource struct {
	db        Database
	accountID string
}

// Assets returns a record source over the assets of accountID, or of every
// account when it is empty.
func Assets(db Database, accountID string) AssetSource {
	return AssetSource{db: db, accountID: accountID}
}

func (s AssetSource) Name() string { return "assets" }

func (s AssetSource) Fields() []model.FieldDescriptor { return model.AssetFields }

func (s AssetSource) ForEach(ctx context.Context, fn func(model.ImageOwner) error) error {
	return s.db.ForEachAsset(ctx, s.accountID, func(a *model.Asset) error {
		return fn(a)
	})
}
