package handler_test

import (
	"context"
	"image"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRendition_Redirects(t *testing.T) {
	env := testServer(t)
	a := env.createAsset(t, nil)
	base := env.assetsURL() + "/" + a.ID + "/image/renditions/"

	resp := env.request(t, http.MethodGet, base+"thumbnail__20x20", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.Regexp(t, `^http://media\.test/__sized__/asset/.+/holiday-photo-[0-9a-f]{16}\.png$`, loc)

	ok, err := env.store.Exists(context.Background(), storagePath(loc))
	require.NoError(t, err)
	assert.True(t, ok)

	resp = env.request(t, http.MethodGet, base+"url", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, mediaURL+"/"+a.Image.Path, resp.Header.Get("Location"))

	resp = env.request(t, http.MethodGet, base+"filters__invert", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/__filtered__/holiday-photo__invert__.png")
}

func TestGetRendition_Streams(t *testing.T) {
	env := testServer(t)
	a := env.createAsset(t, nil)

	resp := env.request(t, http.MethodGet, env.assetsURL()+"/"+a.ID+"/image/renditions/thumbnail__20x20?redirect=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, format, err := image.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.LessOrEqual(t, img.Bounds().Dy(), 20)
}

func TestGetRendition_Errors(t *testing.T) {
	env := testServer(t)
	a := env.createAsset(t, nil)
	base := env.assetsURL() + "/" + a.ID

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"malformed key", "/image/renditions/thumbnail__big", http.StatusBadRequest},
		{"unknown operation", "/image/renditions/rotate__10x10", http.StatusBadRequest},
		{"unknown filter", "/image/renditions/filters__sepia", http.StatusUnprocessableEntity},
		{"unknown field", "/avatar/renditions/thumbnail__10x10", http.StatusNotFound},
		{"empty slot", "/cover/renditions/thumbnail__10x10", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodGet, base+tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	resp := env.request(t, http.MethodGet, env.assetsURL()+"/missing/image/renditions/url", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMediaServing(t *testing.T) {
	env := testServer(t)
	a := env.createAsset(t, nil)

	resp, err := http.Get(env.ts.URL + "/media/" + a.Image.Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))
}

func TestHealth(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
