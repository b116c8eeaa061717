package warmer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/dt-image-renditions/internal/cache"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/optimizer"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/storage"
)

// sliceSource serves a fixed list of assets.
type sliceSource struct {
	name   string
	fields []model.FieldDescriptor
	assets []*model.Asset
	calls  int
}

func (s *sliceSource) Name() string                    { return s.name }
func (s *sliceSource) Fields() []model.FieldDescriptor { return s.fields }

func (s *sliceSource) ForEach(ctx context.Context, fn func(model.ImageOwner) error) error {
	s.calls++
	for _, a := range s.assets {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

var gallery = model.RenditionSet{
	{Name: "full_size", Key: "url"},
	{Name: "thumb", Key: "thumbnail__40x40"},
	{Name: "square", Key: "crop__20x20"},
	{Name: "inverted", Key: "filters__invert"},
}

type testEnv struct {
	warmer *Warmer
	engine *rendition.Engine
	store  *storage.FileSystem
	exist  *cache.Existence
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewFileSystem(t.TempDir(), "http://media.test")
	exist := cache.NewExistence(cache.NewMemory(), 0, nil)
	codec := imageproc.NewCodec(75, nil)
	engine := rendition.New(store, exist, codec, rendition.Config{Namer: naming.New("", "", 75)})
	resolver := renditionset.NewResolver(engine, renditionset.Registry{"gallery": gallery})
	opt := optimizer.New(codec, nil, nil, optimizer.Config{})
	return &testEnv{
		warmer: New(resolver, opt, 3),
		engine: engine,
		store:  store,
		exist:  exist,
	}
}

func (env *testEnv) savePNG(t *testing.T, p string, level png.CompressionLevel) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 80, 60))
	for y := range 60 {
		for x := range 80 {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, (&png.Encoder{CompressionLevel: level}).Encode(&buf, img))
	_, err := env.store.Save(context.Background(), p, &buf)
	require.NoError(t, err)
}

func (env *testEnv) newAsset(t *testing.T, id string) *model.Asset {
	t.Helper()
	p := fmt.Sprintf("asset/2024/01/01/%s.png", id)
	env.savePNG(t, p, png.DefaultCompression)
	return &model.Asset{
		ID:    id,
		Sizes: "gallery",
		Image: model.SourceImage{Path: p, Width: 80, Height: 60, FocalPoint: model.DefaultFocalPoint},
	}
}

func (env *testEnv) exists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := env.store.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func derivedPaths(env *testEnv, a *model.Asset) []string {
	keys, _ := renditionset.Keys(gallery)
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = env.engine.Path(&a.Image, k)
	}
	return paths
}

func TestWarm_BuildsEverySet(t *testing.T) {
	env := newTestEnv(t)
	var assets []*model.Asset
	for i := range 10 {
		assets = append(assets, env.newAsset(t, fmt.Sprintf("a%02d", i)))
	}
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: assets}

	report, err := env.warmer.Warm(context.Background(), []RecordSource{src}, Options{})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 10, report.Records)
	assert.Equal(t, 10, report.Images, "cover slots are empty")

	for _, a := range assets {
		for _, p := range derivedPaths(env, a) {
			assert.True(t, env.exists(t, p), p)
		}
	}
}

func TestWarm_ContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	good := env.newAsset(t, "good")
	_, err := env.store.Save(context.Background(), "asset/bad.png", bytes.NewReader([]byte("corrupt")))
	require.NoError(t, err)
	bad := &model.Asset{ID: "bad", Sizes: "gallery", Image: model.SourceImage{Path: "asset/bad.png"}}
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: []*model.Asset{bad, good}}

	report, err := env.warmer.Warm(context.Background(), []RecordSource{src}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].Record)
	assert.ErrorIs(t, report.Err(), imageproc.ErrDecode)

	for _, p := range derivedPaths(env, good) {
		assert.True(t, env.exists(t, p), p)
	}
}

func TestWarm_SelectedFieldAndSet(t *testing.T) {
	env := newTestEnv(t)
	a := env.newAsset(t, "x")
	a.Cover = a.Image
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: []*model.Asset{a}}

	report, err := env.warmer.Warm(context.Background(), []RecordSource{src}, Options{SetName: "gallery", Field: model.FieldCover})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Images)

	_, err = env.warmer.Warm(context.Background(), []RecordSource{src}, Options{SetName: "nope"})
	assert.ErrorIs(t, err, renditionset.ErrUnknownSet)
}

func TestWarm_SkipsSourcesWithoutImageFields(t *testing.T) {
	env := newTestEnv(t)
	src := &sliceSource{name: "tags"}

	report, err := env.warmer.Warm(context.Background(), []RecordSource{src}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, 0, report.Records)
}

func TestInvalidate_DeletesAndEvicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAsset(t, "photo")
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: []*model.Asset{a}}

	_, err := env.warmer.Warm(ctx, []RecordSource{src}, Options{})
	require.NoError(t, err)

	// A canonical marker set out of band is cleared too.
	canonical := env.engine.Path(&a.Image, model.Sized(model.OpThumbnail, 300, 300))
	canonicalURL := "http://media.test/" + canonical
	require.NoError(t, env.exist.Remember(ctx, canonicalURL))

	paths := derivedPaths(env, a)
	for _, p := range paths {
		require.True(t, env.exist.Known(ctx, "http://media.test/"+p))
	}

	report, err := env.warmer.Invalidate(ctx, []RecordSource{src}, true)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, len(paths), report.Deleted)

	for _, p := range paths {
		assert.False(t, env.exists(t, p), p)
		assert.False(t, env.exist.Known(ctx, "http://media.test/"+p), p)
	}
	assert.False(t, env.exist.Known(ctx, canonicalURL))
	assert.True(t, env.exists(t, a.Image.Path))
}

func TestInvalidate_KeepFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAsset(t, "photo")
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: []*model.Asset{a}}

	_, err := env.warmer.Warm(ctx, []RecordSource{src}, Options{})
	require.NoError(t, err)

	report, err := env.warmer.Invalidate(ctx, []RecordSource{src}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	for _, p := range derivedPaths(env, a) {
		assert.True(t, env.exists(t, p), p)
		assert.False(t, env.exist.Known(ctx, "http://media.test/"+p), p)
	}
}

func TestOptimizeExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := &model.Asset{ID: "raw", Image: model.SourceImage{Path: "asset/raw.png"}}
	env.savePNG(t, a.Image.Path, png.NoCompression)

	before := fileSize(t, env, a.Image.Path)
	src := &sliceSource{name: "assets", fields: model.AssetFields, assets: []*model.Asset{a}}
	report, err := env.warmer.OptimizeExisting(ctx, []RecordSource{src})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Images)
	assert.Less(t, fileSize(t, env, a.Image.Path), before)
}

func fileSize(t *testing.T, env *testEnv, p string) int {
	t.Helper()
	rc, err := env.store.Open(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.Len()
}
