package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/dt-image-renditions/internal/imageproc"
)

var compressed = []byte("tiny-compressed-bytes")

// fakeTinyPNG mimics the shrink and output endpoints.
type fakeTinyPNG struct {
	srv     *httptest.Server
	shrinks atomic.Int32
	status  int
	delay   time.Duration
}

func newFakeTinyPNG(t *testing.T) *fakeTinyPNG {
	t.Helper()
	f := &fakeTinyPNG{status: http.StatusCreated}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /shrink", func(w http.ResponseWriter, r *http.Request) {
		f.shrinks.Add(1)
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "message": "Credentials are invalid"})
			return
		}
		if f.status != http.StatusCreated {
			w.WriteHeader(f.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "ServerError", "message": "try again"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Location", f.srv.URL+"/output/abc")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"input":  map[string]any{"size": len(body)},
			"output": map[string]any{"size": len(compressed), "type": "image/jpeg", "url": f.srv.URL + "/output/abc"},
		})
	})
	mux.HandleFunc("GET /output/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write(compressed)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func newTestOptimizer(f *fakeTinyPNG, key KeyFunc, timeout time.Duration) *Optimizer {
	var svc Compressor
	if f != nil {
		svc = NewTinyPNG(f.srv.URL, f.srv.Client())
	}
	return New(imageproc.NewCodec(75, nil), svc, key, Config{Timeout: timeout})
}

func TestOptimize_UsesService(t *testing.T) {
	f := newFakeTinyPNG(t)
	o := newTestOptimizer(f, StaticKey("secret"), time.Second)

	out, err := o.Optimize(context.Background(), "photo.jpg", testJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, compressed, out)
	assert.Equal(t, int32(1), f.shrinks.Load())
}

func TestOptimize_ServiceErrorFallsBack(t *testing.T) {
	f := newFakeTinyPNG(t)
	f.status = http.StatusInternalServerError
	o := newTestOptimizer(f, StaticKey("secret"), time.Second)

	out, err := o.Optimize(context.Background(), "photo.jpg", testJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", imageproc.DetectFormat(out))
	assert.Equal(t, int32(1), f.shrinks.Load())
}

func TestOptimize_BadKeyFallsBack(t *testing.T) {
	f := newFakeTinyPNG(t)
	o := newTestOptimizer(f, StaticKey("wrong"), time.Second)

	out, err := o.Optimize(context.Background(), "photo.jpg", testJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", imageproc.DetectFormat(out))
}

func TestOptimize_TimeoutFallsBack(t *testing.T) {
	f := newFakeTinyPNG(t)
	f.delay = 2 * time.Second
	o := newTestOptimizer(f, StaticKey("secret"), 50*time.Millisecond)

	start := time.Now()
	out, err := o.Optimize(context.Background(), "photo.jpg", testJPEG(t))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "jpeg", imageproc.DetectFormat(out))
}

func TestOptimize_SkipsServiceWithoutKey(t *testing.T) {
	f := newFakeTinyPNG(t)

	for _, key := range []KeyFunc{nil, StaticKey("")} {
		o := newTestOptimizer(f, key, time.Second)
		_, err := o.Optimize(context.Background(), "photo.jpg", testJPEG(t))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(0), f.shrinks.Load())
}

func TestOptimize_SkipsServiceForOtherExtensions(t *testing.T) {
	f := newFakeTinyPNG(t)
	o := newTestOptimizer(f, StaticKey("secret"), time.Second)

	var buf bytes.Buffer
	palette := color.Palette{color.Black, color.White}
	require.NoError(t, gif.Encode(&buf, image.NewPaletted(image.Rect(0, 0, 4, 4), palette), nil))

	out, err := o.Optimize(context.Background(), "anim.gif", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), out, "gif is left untouched")
	assert.Equal(t, int32(0), f.shrinks.Load())
}

func TestOptimizeLocal_PNG(t *testing.T) {
	o := newTestOptimizer(nil, nil, 0)
	var buf bytes.Buffer
	require.NoError(t, (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 64, 64))))

	out, err := o.OptimizeLocal("icon.png", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", imageproc.DetectFormat(out))
	assert.Less(t, len(out), buf.Len())
}

func TestOptimizeLocal_Corrupt(t *testing.T) {
	o := newTestOptimizer(nil, nil, 0)
	_, err := o.OptimizeLocal("photo.jpg", []byte{0xFF, 0xD8, 0xFF, 0x00})
	assert.ErrorIs(t, err, imageproc.ErrDecode)
}

func TestTinyPNG_ErrorsWrapErrService(t *testing.T) {
	f := newFakeTinyPNG(t)
	c := NewTinyPNG(f.srv.URL, f.srv.Client())

	_, err := c.Compress(context.Background(), "wrong", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrService))
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestFileKey(t *testing.T) {
	p := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(p, []byte("  rotated-key\n"), 0o600))

	key, err := FileKey(p)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-key", key)

	_, err = FileKey(filepath.Join(t.TempDir(), "missing"))(context.Background())
	assert.Error(t, err)
}
