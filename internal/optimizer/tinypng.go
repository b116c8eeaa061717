package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// DefaultEndpoint is the TinyPNG API base URL.
const DefaultEndpoint = "https://api.tinify.com"

// maxDownload bounds the size of a compressed result.
const maxDownload = 64 << 20

// KeyFunc resolves the optimization service API key. An empty key disables
// the service.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey always returns key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}

// FileKey reads the key from path on every call so that rotated keys are
// picked up without a restart.
func FileKey(path string) KeyFunc {
	return func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading api key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// TinyPNG is a client for the TinyPNG compression API.
type TinyPNG struct {
	endpoint string
	http     *http.Client
}

// NewTinyPNG returns a client for endpoint. A nil hc uses http.DefaultClient.
func NewTinyPNG(endpoint string, hc *http.Client) *TinyPNG {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TinyPNG{endpoint: strings.TrimRight(endpoint, "/"), http: hc}
}

type shrinkResponse struct {
	Output struct {
		Size int64  `json:"size"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"output"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Compress uploads data and downloads the compressed result.
func (c *TinyPNG) Compress(ctx context.Context, key string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/shrink", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrService, err)
	}
	req.SetBasicAuth("api", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: shrink: %w", ErrService, err)
	}
	defer resp.Body.Close()

	var out shrinkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: shrink: status %d: decoding response: %v", ErrService, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: shrink: status %d: %s: %s", ErrService, resp.StatusCode, out.Error, out.Message)
	}

	location := out.Output.URL
	if location == "" {
		location = resp.Header.Get("Location")
	}
	if location == "" {
		return nil, fmt.Errorf("%w: shrink: response has no output url", ErrService)
	}
	return c.download(ctx, key, location)
}

func (c *TinyPNG) download(ctx context.Context, key, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building download request: %v", ErrService, err)
	}
	req.SetBasicAuth("api", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %w", ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download: status %d", ErrService, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("%w: download: %w", ErrService, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: download: empty body", ErrService)
	}
	return data, nil
}
