// Package renditionset parses rendition key specs, holds the named set
// registry and resolves the rendition URLs of an image slot.
package renditionset

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leca/dt-image-renditions/internal/model"
)

var (
	// ErrMalformedKey is returned for key specs that cannot be parsed.
	ErrMalformedKey = errors.New("malformed rendition key")
	// ErrUnknownSet is returned when a named rendition set is not registered.
	ErrUnknownSet = errors.New("unknown rendition set")
)

var filterName = regexp.MustCompile(`^[a-z0-9_]+$`)

// SourceKey is the key spec that stands for the source image itself.
const SourceKey = "url"

// KeySpec is a parsed key spec. Source is set for "url"; otherwise Key holds
// the rendition to resolve.
type KeySpec struct {
	Source bool
	Key    model.RenditionKey
}

// ParseKeySpec parses "url", "<sizer>__WxH" or "filters__<name>".
func ParseKeySpec(spec string) (KeySpec, error) {
	if spec == SourceKey {
		return KeySpec{Source: true}, nil
	}
	prefix, arg, ok := strings.Cut(spec, "__")
	if !ok || arg == "" {
		return KeySpec{}, fmt.Errorf("%w: %q", ErrMalformedKey, spec)
	}
	if prefix == "filters" {
		if !filterName.MatchString(arg) || strings.Contains(arg, "__") {
			return KeySpec{}, fmt.Errorf("%w: %q: bad filter name", ErrMalformedKey, spec)
		}
		return KeySpec{Key: model.Filtered(arg)}, nil
	}

	op := model.Operation(prefix)
	if !op.IsSized() {
		return KeySpec{}, fmt.Errorf("%w: %q: unknown sizer %q", ErrMalformedKey, spec, prefix)
	}
	w, h, err := parseSize(arg)
	if err != nil {
		return KeySpec{}, fmt.Errorf("%w: %q: %v", ErrMalformedKey, spec, err)
	}
	return KeySpec{Key: model.Sized(op, w, h)}, nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q is not WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("width %q is not an integer", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("height %q is not an integer", hs)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", s)
	}
	return w, h, nil
}

// ParseSet parses every key spec of set and rejects duplicate names.
func ParseSet(set model.RenditionSet) ([]KeySpec, error) {
	specs := make([]KeySpec, 0, len(set))
	seen := make(map[string]bool, len(set))
	for _, s := range set {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: empty name for %q", ErrMalformedKey, s.Key)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrMalformedKey, s.Name)
		}
		seen[s.Name] = true
		ks, err := ParseKeySpec(s.Key)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ks)
	}
	return specs, nil
}

// Registry maps set names to rendition sets.
type Registry map[string]model.RenditionSet

// ParseRegistry decodes a registry from JSON of the form
// {"name": [["full_size", "url"], ["thumb", "thumbnail__100x100"]]} and
// validates every set.
func ParseRegistry(data []byte) (Registry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Registry{}, nil
	}
	var raw map[string][][2]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding rendition sets: %w", err)
	}
	reg := make(Registry, len(raw))
	for name, pairs := range raw {
		set := make(model.RenditionSet, len(pairs))
		for i, p := range pairs {
			set[i] = model.RenditionSpec{Name: p[0], Key: p[1]}
		}
		if _, err := ParseSet(set); err != nil {
			return nil, fmt.Errorf("rendition set %q: %w", name, err)
		}
		reg[name] = set
	}
	return reg, nil
}

// Lookup returns the set registered as name.
func (r Registry) Lookup(name string) (model.RenditionSet, error) {
	set, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSet, name)
	}
	return set, nil
}

// Names returns the registered set names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
