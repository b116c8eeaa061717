// Package warmer runs bulk rendition work over owning records: eager
// warming, invalidation and re-optimization of stored sources.
package warmer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leca/dt-image-renditions/internal/metrics"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/optimizer"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
)

// DefaultWorkers is the default number of records processed concurrently.
const DefaultWorkers = 4

// canonicalKeys are always evicted on invalidation, whatever the set says.
var canonicalKeys = []model.RenditionKey{
	model.Sized(model.OpThumbnail, 300, 300),
	model.Sized(model.OpCrop, 300, 300),
}

// RecordSource enumerates the records of one owner type.
type RecordSource interface {
	Name() string
	// Fields lists the image slots of the type. Sources without any are
	// skipped.
	Fields() []model.FieldDescriptor
	ForEach(ctx context.Context, fn func(model.ImageOwner) error) error
}

// Options narrow a warm run. An empty SetName warms each field's own set;
// an empty Field warms every field.
type Options struct {
	SetName string `json:"set,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Failure is one record that could not be processed.
type Failure struct {
	Source string `json:"source"`
	Record string `json:"record"`
	Err    error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Source, f.Record, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report summarizes a bulk run.
type Report struct {
	Records  int       `json:"records"`
	Images   int       `json:"images"`
	Deleted  int       `json:"deleted"`
	Failures []Failure `json:"-"`

	mu sync.Mutex
}

func (r *Report) add(images, deleted int) {
	r.mu.Lock()
	r.Records++
	r.Images += images
	r.Deleted += deleted
	r.mu.Unlock()
}

func (r *Report) fail(f Failure) {
	r.mu.Lock()
	r.Records++
	r.Failures = append(r.Failures, f)
	r.mu.Unlock()
}

// Err joins every record failure, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Warmer runs bulk operations with bounded concurrency.
type Warmer struct {
	resolver  *renditionset.Resolver
	engine    *rendition.Engine
	optimizer *optimizer.Optimizer
	workers   int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Warmer)

func WithLogger(l *slog.Logger) Option {
	return func(w *Warmer) { w.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Warmer) { w.metrics = m }
}

// New returns a Warmer. opt may be nil when OptimizeExisting is not used.
func New(resolver *renditionset.Resolver, opt *optimizer.Optimizer, workers int, opts ...Option) *Warmer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	w := &Warmer{
		resolver:  resolver,
		engine:    resolver.Engine(),
		optimizer: opt,
		workers:   workers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ownerFunc processes one record and returns the number of images and
// deleted files it touched.
type ownerFunc func(ctx context.Context, owner model.ImageOwner) (images, deleted int, err error)

// run applies fn to every record of sources. Record failures are collected
// in the report; only enumeration errors are returned.
func (w *Warmer) run(ctx context.Context, op string, sources []RecordSource, fn ownerFunc) (*Report, error) {
	report := &Report{}
	var enumErrs []error

	for _, src := range sources {
		if len(src.Fields()) == 0 {
			w.logger.Debug("skipping source without image fields", "op", op, "source", src.Name())
			continue
		}

		var g errgroup.Group
		g.SetLimit(w.workers)
		err := src.ForEach(ctx, func(owner model.ImageOwner) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			g.Go(func() error {
				images, deleted, err := fn(ctx, owner)
				if err != nil {
					w.logger.Error("bulk record failed", "op", op, "source", src.Name(), "record", owner.RecordID(), "error", err)
					w.metrics.WarmFailed()
					report.fail(Failure{Source: src.Name(), Record: owner.RecordID(), Err: err})
					return nil
				}
				report.add(images, deleted)
				return nil
			})
			return nil
		})
		g.Wait()
		if err != nil {
			enumErrs = append(enumErrs, fmt.Errorf("enumerating %s: %w", src.Name(), err))
		}
	}

	w.logger.Info("bulk run finished", "op", op,
		"records", report.Records, "images", report.Images, "deleted", report.Deleted, "failures", len(report.Failures))
	return report, errors.Join(enumErrs...)
}

// fields returns the descriptors of owner selected by name, or all of them.
func fields(owner model.ImageOwner, name string) []model.FieldDescriptor {
	all := owner.ImageFields()
	if name == "" {
		return all
	}
	for _, f := range all {
		if f.Name == name {
			return []model.FieldDescriptor{f}
		}
	}
	return nil
}

// Warm eagerly builds every configured rendition of every record.
func (w *Warmer) Warm(ctx context.Context, sources []RecordSource, opts Options) (*Report, error) {
	if opts.SetName != "" {
		if _, err := w.resolver.Registry().Lookup(opts.SetName); err != nil {
			return nil, err
		}
	}
	return w.run(ctx, "warm", sources, func(ctx context.Context, owner model.ImageOwner) (int, int, error) {
		n, err := w.WarmOwner(ctx, owner, opts)
		return n, 0, err
	})
}

// WarmOwner builds the renditions of one record and returns the number of
// image slots warmed.
func (w *Warmer) WarmOwner(ctx context.Context, owner model.ImageOwner, opts Options) (int, error) {
	ctx = rendition.WithOnDemand(ctx, true)
	var errs []error
	warmed := 0
	for _, f := range fields(owner, opts.Field) {
		if !owner.ImageSlot(f.Name).Committed() {
			continue
		}
		set, err := w.setFor(owner, f, opts.SetName)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
			continue
		}
		if _, err := w.resolver.ResolveSet(ctx, owner, f, set); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
			continue
		}
		warmed++
	}
	return warmed, errors.Join(errs...)
}

func (w *Warmer) setFor(owner model.ImageOwner, f model.FieldDescriptor, setName string) (model.RenditionSet, error) {
	if setName != "" {
		return w.resolver.Registry().Lookup(setName)
	}
	return w.resolver.SetFor(owner, f)
}

// Invalidate deletes derived files (when deleteFiles is set) and evicts the
// existence markers of every record's renditions.
func (w *Warmer) Invalidate(ctx context.Context, sources []RecordSource, deleteFiles bool) (*Report, error) {
	return w.run(ctx, "invalidate", sources, func(ctx context.Context, owner model.ImageOwner) (int, int, error) {
		return w.InvalidateOwner(ctx, owner, deleteFiles)
	})
}

// InvalidateOwner invalidates every committed slot of owner. It returns the
// number of slots and of deleted files.
func (w *Warmer) InvalidateOwner(ctx context.Context, owner model.ImageOwner, deleteFiles bool) (int, int, error) {
	var errs []error
	images, deleted := 0, 0
	for _, f := range owner.ImageFields() {
		slot := owner.ImageSlot(f.Name)
		if !slot.Committed() {
			continue
		}
		images++

		if deleteFiles {
			n, err := w.engine.DeleteDerived(ctx, slot)
			deleted += n
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
			}
		}

		keys := canonicalKeys
		if set, err := w.resolver.SetFor(owner, f); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
		} else if setKeys, err := renditionset.Keys(set); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
		} else {
			keys = append(setKeys, canonicalKeys...)
		}
		for _, key := range keys {
			if err := w.engine.Forget(ctx, slot, key); err != nil {
				errs = append(errs, fmt.Errorf("field %s: evicting %s: %w", f.Name, key, err))
			}
		}
	}
	return images, deleted, errors.Join(errs...)
}

// OptimizeExisting re-encodes the stored source bytes of every record with
// the local optimizer.
func (w *Warmer) OptimizeExisting(ctx context.Context, sources []RecordSource) (*Report, error) {
	if w.optimizer == nil {
		return nil, errors.New("optimizer not configured")
	}
	return w.run(ctx, "optimize", sources, func(ctx context.Context, owner model.ImageOwner) (int, int, error) {
		n, err := w.OptimizeOwner(ctx, owner)
		return n, 0, err
	})
}

// OptimizeOwner re-encodes the committed slots of owner in place.
func (w *Warmer) OptimizeOwner(ctx context.Context, owner model.ImageOwner) (int, error) {
	var errs []error
	optimized := 0
	for _, f := range owner.ImageFields() {
		slot := owner.ImageSlot(f.Name)
		if !slot.Committed() {
			continue
		}
		if err := w.optimizeSlot(ctx, slot); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.Name, err))
			continue
		}
		optimized++
	}
	return optimized, errors.Join(errs...)
}

func (w *Warmer) optimizeSlot(ctx context.Context, slot *model.SourceImage) error {
	store := w.engine.Storage()
	rc, err := store.Open(ctx, slot.Path)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", slot.Path, err)
	}

	out, err := w.optimizer.OptimizeLocal(slot.Path, data)
	if err != nil {
		return err
	}
	if bytes.Equal(out, data) {
		return nil
	}
	if _, err := store.Save(ctx, slot.Path, bytes.NewReader(out)); err != nil {
		return fmt.Errorf("saving %s: %w", slot.Path, err)
	}
	return nil
}
