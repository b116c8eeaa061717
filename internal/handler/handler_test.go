package handler_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leca/dt-image-renditions/internal/cache"
	"github.com/leca/dt-image-renditions/internal/config"
	"github.com/leca/dt-image-renditions/internal/database"
	"github.com/leca/dt-image-renditions/internal/handler"
	"github.com/leca/dt-image-renditions/internal/imagefield"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/optimizer"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/router"
	"github.com/leca/dt-image-renditions/internal/storage"
	"github.com/leca/dt-image-renditions/internal/validate"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

const (
	testToken     = "test-token"
	testAccountID = "test-account"
	mediaURL      = "http://media.test"
)

// pngAsWebP stands in for the libwebp encoder.
type pngAsWebP struct{}

func (pngAsWebP) Encode(w io.Writer, img image.Image, _ int, _ bool) error {
	return png.Encode(w, img)
}

type testEnv struct {
	ts    *httptest.Server
	db    database.Database
	store *storage.FileSystem
	// client does not follow redirects.
	client *http.Client
}

// testServer creates a test HTTP server backed by a temporary SQLite file
// and filesystem storage.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	return testServerWith(t, nil)
}

// testServerWith is testServer with the handler's database wrapped by wrap.
// The returned env.db stays the unwrapped store.
func testServerWith(t *testing.T, wrap func(database.Database) database.Database) *testEnv {
	t.Helper()

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var handlerDB database.Database = db
	if wrap != nil {
		handlerDB = wrap(db)
	}

	store := storage.NewFileSystem(t.TempDir(), mediaURL)
	codec := imageproc.NewCodec(75, pngAsWebP{})
	engine := rendition.New(store, cache.NewExistence(cache.NewMemory(), 0, nil), codec, rendition.Config{
		Namer:          naming.New("", "", 75),
		CreateOnDemand: true,
	})
	resolver := renditionset.NewResolver(engine, renditionset.Registry{
		"article": {{Name: "full_size", Key: "url"}, {Name: "thumb", Key: "thumbnail__40x40"}},
	})
	opt := optimizer.New(codec, nil, nil, optimizer.Config{})
	w := warmer.New(resolver, opt, 2)

	fields := imagefield.New(resolver, w, opt, validate.Rules{
		AllowedExtensions: validate.DefaultAllowedExtensions,
		MaxFileSizeMB:     1,
	})
	cfg := &config.Config{AuthToken: testToken, MaxFileSizeMB: 1}
	h := &handler.Handler{
		DB:       handlerDB,
		Fields:   fields,
		Resolver: resolver,
		Warmer:   w,
		Config:   cfg,
	}
	srv := router.New(h, router.Options{AuthToken: testToken, MediaRoot: store.Root()})
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:    ts,
		db:    db,
		store: store,
		client: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
	}
}

func (e *testEnv) assetsURL() string {
	return e.ts.URL + "/accounts/" + testAccountID + "/assets"
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) request(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(t, req)
}

// upload posts files as multipart fields along with form values.
func (e *testEnv) upload(t *testing.T, method, url string, files map[string]fileField, values map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req)
}

type fileField struct {
	name        string
	contentType string
	data        []byte
}

func pngFile(t *testing.T, name string, w, h int) fileField {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return fileField{name: name, contentType: "image/png", data: buf.Bytes()}
}

// envelope is the generic response envelope for assertions.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		Count      int `json:"count"`
		TotalCount int `json:"total_count"`
		TotalPages int `json:"total_pages"`
	} `json:"result_info"`
}

// assetResult represents the fields checked in asset responses.
type assetResult struct {
	ID         string                       `json:"id"`
	Kind       string                       `json:"kind"`
	Title      string                       `json:"title"`
	Sizes      string                       `json:"sizes"`
	Image      model.SourceImage            `json:"image"`
	Cover      model.SourceImage            `json:"cover"`
	Renditions map[string]map[string]string `json:"renditions"`
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func decodeAsset(t *testing.T, resp *http.Response) assetResult {
	t.Helper()
	env := decode(t, resp)
	require.True(t, env.Success, "errors: %v", env.Errors)
	var a assetResult
	require.NoError(t, json.Unmarshal(env.Result, &a))
	return a
}

// createAsset uploads a 120x80 PNG and returns the created asset.
func (e *testEnv) createAsset(t *testing.T, values map[string]string) assetResult {
	t.Helper()
	resp := e.upload(t, http.MethodPost, e.assetsURL(), map[string]fileField{
		"file": pngFile(t, "Holiday Photo.png", 120, 80),
	}, values)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeAsset(t, resp)
}
