// Package rendition resolves derived images: it names them, decides whether
// they must be built, builds them at most once per path and memoizes their
// existence.
package rendition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"

	"golang.org/x/sync/singleflight"

	"github.com/leca/dt-image-renditions/internal/cache"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/metrics"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/storage"
)

// ErrNoSource is returned when a rendition of an empty slot is requested and
// no placeholder is configured.
var ErrNoSource = errors.New("source image has no stored bytes")

// Processor builds the bytes of a rendition from source bytes.
type Processor interface {
	Render(src io.Reader, key model.RenditionKey, focal model.FocalPoint, format string) ([]byte, error)
	// Filters lists the filter names the processor can apply.
	Filters() []string
}

var _ Processor = (*imageproc.Codec)(nil)

// Rendition is the outcome of a resolve. URL is empty when the storage
// backend cannot produce one.
type Rendition struct {
	Path    string `json:"path,omitempty"`
	URL     string `json:"url"`
	Created bool   `json:"created"`
}

// Config holds the engine policies.
type Config struct {
	Namer naming.Namer
	// Placeholder is returned verbatim for slots without bytes. Empty means
	// no placeholder policy.
	Placeholder    string
	CreateOnDemand bool
}

// Engine resolves renditions against a storage backend.
type Engine struct {
	storage     storage.Storage
	existence   *cache.Existence
	proc        Processor
	namer       naming.Namer
	placeholder string
	onDemand    bool
	metrics     *metrics.Metrics
	logger      *slog.Logger

	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(store storage.Storage, existence *cache.Existence, proc Processor, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		storage:     store,
		existence:   existence,
		proc:        proc,
		namer:       cfg.Namer,
		placeholder: cfg.Placeholder,
		onDemand:    cfg.CreateOnDemand,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type onDemandKey struct{}

// WithOnDemand overrides the on-demand creation policy for resolves made
// with the returned context.
func WithOnDemand(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, onDemandKey{}, enabled)
}

func (e *Engine) createOnDemand(ctx context.Context) bool {
	if v, ok := ctx.Value(onDemandKey{}).(bool); ok {
		return v
	}
	return e.onDemand
}

// CreateOnDemand reports the process-wide on-demand policy.
func (e *Engine) CreateOnDemand() bool { return e.onDemand }

// Placeholder returns the configured placeholder URL, or "".
func (e *Engine) Placeholder() string { return e.placeholder }

func (e *Engine) Namer() naming.Namer { return e.namer }

func (e *Engine) Storage() storage.Storage { return e.storage }

// SourceURL returns the URL of the source bytes themselves. Empty slots yield
// the placeholder.
func (e *Engine) SourceURL(src *model.SourceImage) (string, error) {
	if !src.Committed() {
		if e.placeholder != "" {
			return e.placeholder, nil
		}
		return "", ErrNoSource
	}
	u, err := e.storage.URL(src.Path)
	if err != nil {
		return "", fmt.Errorf("source url for %s: %w", src.Path, err)
	}
	return u, nil
}

// Path returns the derived storage path of key for src.
func (e *Engine) Path(src *model.SourceImage, key model.RenditionKey) string {
	return e.namer.Path(src.Path, key, src.FocalPoint)
}

// Resolve returns the rendition key of src, building it first when on-demand
// creation is enabled and it does not exist yet.
func (e *Engine) Resolve(ctx context.Context, src *model.SourceImage, key model.RenditionKey) (Rendition, error) {
	if !src.Committed() {
		if e.placeholder != "" {
			return Rendition{URL: e.placeholder}, nil
		}
		return Rendition{}, ErrNoSource
	}

	derived := e.Path(src, key)
	r := Rendition{Path: derived, URL: e.url(derived)}

	if !e.createOnDemand(ctx) {
		return r, nil
	}

	known := e.existence.Known(ctx, r.URL)
	e.metrics.CacheLookup(known)
	if known {
		return r, nil
	}

	// The build is shared by every caller waiting on derived, so it must not
	// be cancelled with whichever request started it.
	buildCtx := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(derived, func() (any, error) {
		return e.ensure(buildCtx, src, key, derived)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Rendition{}, ctx.Err()
	}
	if res.Err != nil {
		return Rendition{}, res.Err
	}
	if r.Created = res.Val.(bool); r.Created {
		r.URL = e.url(derived)
	}

	if err := e.existence.Remember(ctx, r.URL); err != nil {
		e.logger.Warn("existence cache write failed", "url", r.URL, "error", err)
	}
	return r, nil
}

// ensure builds derived unless storage already has it. It reports whether
// the rendition was built by this call.
func (e *Engine) ensure(ctx context.Context, src *model.SourceImage, key model.RenditionKey, derived string) (bool, error) {
	exists, err := e.storage.Exists(ctx, derived)
	if err != nil {
		e.logger.Warn("existence check failed, rebuilding", "path", derived, "error", err)
		exists = false
	}
	if exists {
		return false, nil
	}
	if err := e.build(ctx, src, key, derived); err != nil {
		e.metrics.BuildFailed(string(key.Op))
		return false, err
	}
	e.metrics.Built(string(key.Op))
	e.logger.Debug("rendition built", "source", src.Path, "key", key.String(), "path", derived)
	return true, nil
}

func (e *Engine) build(ctx context.Context, src *model.SourceImage, key model.RenditionKey, derived string) error {
	rc, err := e.storage.Open(ctx, src.Path)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", src.Path, err)
	}
	defer rc.Close()

	format := imageproc.FormatFromExt(path.Ext(derived))
	data, err := e.proc.Render(rc, key, src.FocalPoint, format)
	if err != nil {
		return fmt.Errorf("building %s of %s: %w", key, src.Path, err)
	}
	if _, err := e.storage.Save(ctx, derived, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", derived, err)
	}
	return nil
}

// Open resolves key and opens the rendition bytes.
func (e *Engine) Open(ctx context.Context, src *model.SourceImage, key model.RenditionKey) (io.ReadCloser, Rendition, error) {
	r, err := e.Resolve(ctx, src, key)
	if err != nil {
		return nil, Rendition{}, err
	}
	if r.Path == "" {
		return nil, r, ErrNoSource
	}
	rc, err := e.storage.Open(ctx, r.Path)
	if err != nil {
		return nil, r, err
	}
	return rc, r, nil
}

// Forget evicts the existence marker of one rendition.
func (e *Engine) Forget(ctx context.Context, src *model.SourceImage, key model.RenditionKey) error {
	if !src.Committed() {
		return nil
	}
	return e.existence.Forget(ctx, e.url(e.Path(src, key)))
}

// DeleteDerived deletes every sized and filtered rendition of src found by
// listing their folders, evicting the existence marker of each. It returns
// the number of files deleted. Missing folders count as empty.
func (e *Engine) DeleteDerived(ctx context.Context, src *model.SourceImage) (int, error) {
	if !src.Committed() {
		return 0, nil
	}
	stem := naming.Stem(src.Path)

	var errs []error
	deleted := 0
	for _, target := range []struct {
		folder string
		tag    *regexp.Regexp
	}{
		{e.namer.SizedFolder(src.Path), naming.SizedTag},
		{e.namer.FilteredFolder(src.Path), naming.FilteredTag(e.proc.Filters())},
	} {
		n, err := e.deleteMatching(ctx, target.folder, stem, target.tag)
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	e.metrics.Invalidated(deleted)
	return deleted, errors.Join(errs...)
}

func (e *Engine) deleteMatching(ctx context.Context, folder, stem string, tag *regexp.Regexp) (int, error) {
	_, files, err := e.storage.ListDir(ctx, folder)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("listing derived folder failed", "folder", folder, "error", err)
		}
		return 0, nil
	}

	var errs []error
	deleted := 0
	for _, name := range files {
		t, ok := naming.Tag(name, stem)
		if !ok || !tag.MatchString(t) {
			continue
		}
		p := path.Join(folder, name)
		if err := e.storage.Delete(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", p, err))
			continue
		}
		deleted++
		if err := e.existence.Forget(ctx, e.url(p)); err != nil {
			e.logger.Warn("existence cache evict failed", "path", p, "error", err)
		}
	}
	return deleted, errors.Join(errs...)
}

// url resolves the public URL of p, or "" when the backend has none.
func (e *Engine) url(p string) string {
	u, err := e.storage.URL(p)
	if err != nil {
		if !errors.Is(err, storage.ErrNoURL) {
			e.logger.Debug("no url for derived path", "path", p, "error", err)
		}
		return ""
	}
	return u
}
