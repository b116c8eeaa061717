// Package optimizer shrinks uploaded images, through the TinyPNG service
// when a key is configured and locally otherwise.
package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/metrics"
)

// ErrService wraps every optimization service failure.
var ErrService = errors.New("optimization service error")

// DefaultServiceExtensions are the extensions sent to the service.
var DefaultServiceExtensions = []string{"jpeg", "jpg", "png"}

// DefaultTimeout bounds one service call.
const DefaultTimeout = 10 * time.Second

// Compressor is a remote compression service.
type Compressor interface {
	Compress(ctx context.Context, key string, data []byte) ([]byte, error)
}

var _ Compressor = (*TinyPNG)(nil)

// Config holds the optimizer settings.
type Config struct {
	Timeout           time.Duration
	ServiceExtensions []string
}

// Optimizer shrinks image bytes before they are stored.
type Optimizer struct {
	codec      *imageproc.Codec
	service    Compressor
	key        KeyFunc
	timeout    time.Duration
	extensions map[string]bool
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Optimizer)

func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// New returns an Optimizer. service and key may be nil, which leaves only
// local optimization.
func New(codec *imageproc.Codec, service Compressor, key KeyFunc, cfg Config, opts ...Option) *Optimizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceExtensions == nil {
		cfg.ServiceExtensions = DefaultServiceExtensions
	}
	exts := make(map[string]bool, len(cfg.ServiceExtensions))
	for _, e := range cfg.ServiceExtensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	o := &Optimizer{
		codec:      codec,
		service:    service,
		key:        key,
		timeout:    cfg.Timeout,
		extensions: exts,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// Optimize returns the optimized bytes of the image named filename. Service
// failures fall back to local optimization and are never returned.
func (o *Optimizer) Optimize(ctx context.Context, filename string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if out, ok := o.viaService(ctx, filename, data); ok {
		return out, nil
	}
	return o.OptimizeLocal(filename, data)
}

func (o *Optimizer) viaService(ctx context.Context, filename string, data []byte) ([]byte, bool) {
	if o.service == nil || o.key == nil || !o.extensions[extension(filename)] {
		return nil, false
	}
	key, err := o.key(ctx)
	if err != nil {
		o.logger.Error("resolving optimization api key", "error", err)
		return nil, false
	}
	if key == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	out, err := o.service.Compress(ctx, key, data)
	if err != nil {
		o.logger.Error("optimization service failed, optimizing locally", "file", filename, "error", err)
		o.metrics.OptimizerFallback()
		return nil, false
	}
	return out, true
}

// OptimizeLocal re-encodes data with the codec: alpha is flattened onto
// white for JPEG, PNG uses best compression, WebP is lossless. GIF and ICO
// are returned unchanged.
func (o *Optimizer) OptimizeLocal(filename string, data []byte) ([]byte, error) {
	format := imageproc.DetectFormat(data)
	if format == "" {
		format = imageproc.FormatFromExt(extension(filename))
	}
	switch format {
	case "gif", "ico", "":
		return data, nil
	}

	img, _, err := o.codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("optimizing %s: %w", filename, err)
	}
	out, err := o.codec.Encode(img, format, imageproc.EncodeOptions{
		Quality:  o.codec.Quality(),
		Lossless: format == "webp",
		Optimize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("optimizing %s: %w", filename, err)
	}
	return out, nil
}
