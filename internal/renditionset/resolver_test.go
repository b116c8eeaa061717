package renditionset

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/dt-image-renditions/internal/cache"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/storage"
)

func newTestResolver(t *testing.T, registry Registry, placeholder string) (*Resolver, storage.Storage) {
	t.Helper()
	store := storage.NewFileSystem(t.TempDir(), "http://media.test")
	engine := rendition.New(store,
		cache.NewExistence(cache.NewMemory(), 0, nil),
		imageproc.NewCodec(75, nil),
		rendition.Config{Namer: naming.New("", "", 75), Placeholder: placeholder, CreateOnDemand: true},
	)
	return NewResolver(engine, registry), store
}

func savePNG(t *testing.T, store storage.Storage, p string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 60, 40))))
	_, err := store.Save(context.Background(), p, &buf)
	require.NoError(t, err)
}

func TestSetFor_Priority(t *testing.T) {
	registry := Registry{
		"owner": {{Name: "o", Key: "thumbnail__1x1"}},
		"field": {{Name: "f", Key: "thumbnail__2x2"}},
	}
	r, _ := newTestResolver(t, registry, "")
	inline := model.RenditionSet{{Name: "i", Key: "crop__3x3"}}

	asset := &model.Asset{Sizes: "owner"}
	tests := []struct {
		name  string
		owner *model.Asset
		field model.FieldDescriptor
		want  string
	}{
		{"inline beats everything", asset, model.FieldDescriptor{Name: "image", Sizes: inline, SizesName: "field"}, "i"},
		{"named field beats owner", asset, model.FieldDescriptor{Name: "image", SizesName: "field"}, "f"},
		{"owner", asset, model.FieldDescriptor{Name: "image"}, "o"},
		{"default", &model.Asset{}, model.FieldDescriptor{Name: "image"}, "full_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := r.SetFor(tt.owner, tt.field)
			require.NoError(t, err)
			require.NotEmpty(t, set)
			assert.Equal(t, tt.want, set[0].Name)
		})
	}
}

func TestSetFor_UnknownName(t *testing.T) {
	r, _ := newTestResolver(t, nil, "")

	_, err := r.SetFor(&model.Asset{Sizes: "nope"}, model.FieldDescriptor{Name: "image"})
	assert.ErrorIs(t, err, ErrUnknownSet)

	_, err = r.SetFor(&model.Asset{}, model.FieldDescriptor{Name: "image", SizesName: "nope"})
	assert.ErrorIs(t, err, ErrUnknownSet)
}

func TestResolve_Placeholders(t *testing.T) {
	r, _ := newTestResolver(t, nil, "/static/placeholder.png")
	asset := &model.Asset{}
	field, _ := asset.Field(model.FieldCover)

	sizes, err := r.Resolve(context.Background(), asset, field)
	require.NoError(t, err)
	require.Len(t, sizes, 3)
	for _, sz := range sizes {
		assert.Equal(t, "/static/placeholder.png", sz.URL)
	}
}

func TestResolve_CommittedSlot(t *testing.T) {
	registry := Registry{"article": {
		{Name: "full_size", Key: "url"},
		{Name: "thumb", Key: "thumbnail__30x30"},
		{Name: "inverted", Key: "filters__invert"},
	}}
	r, store := newTestResolver(t, registry, "")
	savePNG(t, store, "article/2024/01/02/photo.png")
	asset := &model.Asset{
		Sizes: "article",
		Image: model.SourceImage{Path: "article/2024/01/02/photo.png", FocalPoint: model.DefaultFocalPoint},
	}
	field, _ := asset.Field(model.FieldImage)

	sizes, err := r.Resolve(context.Background(), asset, field)
	require.NoError(t, err)
	require.Len(t, sizes, 3)

	full, ok := sizes.Get("full_size")
	require.True(t, ok)
	assert.Equal(t, "http://media.test/article/2024/01/02/photo.png", full)

	thumb, _ := sizes.Get("thumb")
	assert.True(t, strings.HasPrefix(thumb, "http://media.test/__sized__/article/2024/01/02/photo-"), thumb)

	inverted, _ := sizes.Get("inverted")
	assert.Equal(t, "http://media.test/article/2024/01/02/__filtered__/photo__invert__.png", inverted)

	ok, err = store.Exists(context.Background(), "article/2024/01/02/__filtered__/photo__invert__.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolve_FieldDisablesOnDemand(t *testing.T) {
	r, store := newTestResolver(t, nil, "")
	savePNG(t, store, "a/photo.png")
	off := false
	asset := &model.Asset{Image: model.SourceImage{Path: "a/photo.png", FocalPoint: model.DefaultFocalPoint}}
	field := model.FieldDescriptor{
		Name:           model.FieldImage,
		Sizes:          model.RenditionSet{{Name: "thumb", Key: "thumbnail__10x10"}},
		CreateOnDemand: &off,
	}

	sizes, err := r.Resolve(context.Background(), asset, field)
	require.NoError(t, err)
	thumb, _ := sizes.Get("thumb")
	assert.NotEmpty(t, thumb)

	_, files, err := store.ListDir(context.Background(), "__sized__/a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, files)
}

func TestResolve_BuildErrorSurfaces(t *testing.T) {
	r, store := newTestResolver(t, nil, "/static/placeholder.png")
	_, err := store.Save(context.Background(), "a/bad.png", bytes.NewReader([]byte("garbage")))
	require.NoError(t, err)
	asset := &model.Asset{Image: model.SourceImage{Path: "a/bad.png"}}
	field := model.FieldDescriptor{Name: model.FieldImage, Sizes: model.RenditionSet{{Name: "t", Key: "thumbnail__5x5"}}}

	_, err = r.Resolve(context.Background(), asset, field)
	assert.ErrorIs(t, err, imageproc.ErrDecode)
}

func TestSizes_MarshalKeepsOrder(t *testing.T) {
	sizes := Sizes{{Name: "zeta", URL: "z"}, {Name: "alpha", URL: "a"}, {Name: "mid\"q", URL: ""}}
	data, err := json.Marshal(sizes)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":"a","mid\"q":""}`, string(data))

	data, err = json.Marshal(Sizes{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}
