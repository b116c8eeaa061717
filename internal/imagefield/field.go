// Package imagefield manages the image slots of owning records: uploads
// replace the stored bytes, loads resolve rendition URLs, deletes clean up
// everything derived.
package imagefield

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/optimizer"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/storage"
	"github.com/leca/dt-image-renditions/internal/validate"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

// ErrUnknownField is returned for field names the owner does not have.
var ErrUnknownField = errors.New("unknown image field")

// Field applies the image slot lifecycle.
type Field struct {
	engine    *rendition.Engine
	resolver  *renditionset.Resolver
	warmer    *warmer.Warmer
	optimizer *optimizer.Optimizer
	rules     validate.Rules
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Field)

func WithLogger(l *slog.Logger) Option {
	return func(f *Field) { f.logger = l }
}

// WithClock replaces the time source of upload paths.
func WithClock(now func() time.Time) Option {
	return func(f *Field) { f.now = now }
}

func New(resolver *renditionset.Resolver, w *warmer.Warmer, opt *optimizer.Optimizer, rules validate.Rules, opts ...Option) *Field {
	f := &Field{
		engine:    resolver.Engine(),
		resolver:  resolver,
		warmer:    w,
		optimizer: opt,
		rules:     rules,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func descriptor(owner model.ImageOwner, name string) (model.FieldDescriptor, *model.SourceImage, error) {
	for _, d := range owner.ImageFields() {
		if d.Name == name {
			return d, owner.ImageSlot(name), nil
		}
	}
	return model.FieldDescriptor{}, nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Replace validates, optimizes and stores upload as the new bytes of field.
// kind names the owner type in the upload path. The previous slot contents
// are returned untouched; the caller discards them with Discard once the
// owner is persisted, or discards the new slot if persisting fails.
func (f *Field) Replace(ctx context.Context, owner model.ImageOwner, field, kind string, upload validate.Upload) (model.SourceImage, error) {
	_, slot, err := descriptor(owner, field)
	if err != nil {
		return model.SourceImage{}, err
	}
	_, width, height, err := f.rules.Check(upload)
	if err != nil {
		return model.SourceImage{}, err
	}

	data, err := f.optimizer.Optimize(ctx, upload.Filename, upload.Data)
	if err != nil {
		return model.SourceImage{}, err
	}

	store := f.engine.Storage()
	p := naming.UploadPath(kind, upload.Filename, f.now())
	exists, err := store.Exists(ctx, p)
	if err != nil {
		return model.SourceImage{}, fmt.Errorf("checking %s: %w", p, err)
	}
	if exists {
		p = naming.WithSuffix(p, uuid.NewString()[:8])
	}
	if _, err := store.Save(ctx, p, bytes.NewReader(data)); err != nil {
		return model.SourceImage{}, fmt.Errorf("saving %s: %w", p, err)
	}

	previous := *slot
	slot.Path = p
	slot.Width = width
	slot.Height = height
	slot.FocalPoint = model.DefaultFocalPoint
	return previous, nil
}

// Discard deletes the derived files and the bytes of slot. Uncommitted
// slots and files already gone are ignored.
func (f *Field) Discard(ctx context.Context, slot model.SourceImage) error {
	if !slot.Committed() {
		return nil
	}
	var errs []error
	if _, err := f.engine.DeleteDerived(ctx, &slot); err != nil {
		errs = append(errs, err)
	}
	if err := f.engine.Storage().Delete(ctx, slot.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("deleting %s: %w", slot.Path, err))
	}
	return errors.Join(errs...)
}

// DropRenditions deletes the derived files of slot and keeps its bytes.
func (f *Field) DropRenditions(ctx context.Context, slot model.SourceImage) error {
	if !slot.Committed() {
		return nil
	}
	_, err := f.engine.DeleteDerived(ctx, &slot)
	return err
}

// SetFocalPoint moves the focal point of field. Crops depend on it, so the
// slot as it was is returned for DropRenditions once the change is
// persisted. The returned slot is empty when nothing changed.
func (f *Field) SetFocalPoint(ctx context.Context, owner model.ImageOwner, field string, p model.FocalPoint) (model.SourceImage, error) {
	_, slot, err := descriptor(owner, field)
	if err != nil {
		return model.SourceImage{}, err
	}
	if !p.Valid() {
		return model.SourceImage{}, fmt.Errorf("focal point %s out of range", p)
	}
	if slot.FocalPoint == p {
		return model.SourceImage{}, nil
	}
	previous := *slot
	slot.FocalPoint = p
	return previous, nil
}

// OnLoaded resolves the rendition URLs of field.
func (f *Field) OnLoaded(ctx context.Context, owner model.ImageOwner, field string) (renditionset.Sizes, error) {
	d, _, err := descriptor(owner, field)
	if err != nil {
		return nil, err
	}
	return f.resolver.Resolve(ctx, owner, d)
}

// OnDeleted removes every derived file, cache entry and stored source of
// owner. Failures are joined; every slot is attempted.
func (f *Field) OnDeleted(ctx context.Context, owner model.ImageOwner) error {
	var errs []error
	if _, _, err := f.warmer.InvalidateOwner(ctx, owner, true); err != nil {
		errs = append(errs, err)
	}
	for _, d := range owner.ImageFields() {
		slot := owner.ImageSlot(d.Name)
		if !slot.Committed() {
			continue
		}
		if err := f.engine.Storage().Delete(ctx, slot.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", slot.Path, err))
		}
	}
	return errors.Join(errs...)
}

// Warm builds every configured rendition of owner.
func (f *Field) Warm(ctx context.Context, owner model.ImageOwner) error {
	_, err := f.warmer.WarmOwner(ctx, owner, warmer.Options{})
	return err
}
