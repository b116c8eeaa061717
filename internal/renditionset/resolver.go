package renditionset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/storage"
)

// Size is one resolved (name, url) pair.
type Size struct {
	Name string
	URL  string
}

// Sizes is an ordered name to URL mapping. It marshals to a JSON object whose
// keys keep the set order.
type Sizes []Size

// Get returns the URL named name.
func (s Sizes) Get(name string) (string, bool) {
	for _, sz := range s {
		if sz.Name == name {
			return sz.URL, true
		}
	}
	return "", false
}

func (s Sizes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sz := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(sz.Name)
		if err != nil {
			return nil, err
		}
		url, err := json.Marshal(sz.URL)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(url)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Resolver picks the rendition set of an image slot and resolves its URLs.
type Resolver struct {
	engine   *rendition.Engine
	registry Registry
	fallback model.RenditionSet
}

// NewResolver returns a Resolver over engine. Sets named by owners or fields
// are looked up in registry.
func NewResolver(engine *rendition.Engine, registry Registry) *Resolver {
	if registry == nil {
		registry = Registry{}
	}
	return &Resolver{engine: engine, registry: registry, fallback: model.DefaultRenditionSet}
}

func (r *Resolver) Registry() Registry { return r.registry }

func (r *Resolver) Engine() *rendition.Engine { return r.engine }

// SetFor returns the rendition set of field on owner: the field's inline
// set, then the field's named set, then the owner's named set, then the
// default.
func (r *Resolver) SetFor(owner model.ImageOwner, field model.FieldDescriptor) (model.RenditionSet, error) {
	switch {
	case len(field.Sizes) > 0:
		return field.Sizes, nil
	case field.SizesName != "":
		return r.registry.Lookup(field.SizesName)
	}
	if name := owner.RenditionSetName(); name != "" {
		return r.registry.Lookup(name)
	}
	return r.fallback, nil
}

// Keys returns the rendition keys of set, skipping the source entry.
func Keys(set model.RenditionSet) ([]model.RenditionKey, error) {
	specs, err := ParseSet(set)
	if err != nil {
		return nil, err
	}
	keys := make([]model.RenditionKey, 0, len(specs))
	for _, ks := range specs {
		if !ks.Source {
			keys = append(keys, ks.Key)
		}
	}
	return keys, nil
}

// Resolve returns the URLs of every rendition in the set of field. Empty
// slots map every name to the placeholder.
func (r *Resolver) Resolve(ctx context.Context, owner model.ImageOwner, field model.FieldDescriptor) (Sizes, error) {
	set, err := r.SetFor(owner, field)
	if err != nil {
		return nil, err
	}
	return r.ResolveSet(ctx, owner, field, set)
}

// ResolveSet resolves an explicit set for field on owner.
func (r *Resolver) ResolveSet(ctx context.Context, owner model.ImageOwner, field model.FieldDescriptor, set model.RenditionSet) (Sizes, error) {
	slot := owner.ImageSlot(field.Name)
	if slot == nil {
		return nil, fmt.Errorf("no image field %q", field.Name)
	}
	specs, err := ParseSet(set)
	if err != nil {
		return nil, err
	}

	sizes := make(Sizes, len(set))
	if !slot.Committed() {
		for i, s := range set {
			sizes[i] = Size{Name: s.Name, URL: r.engine.Placeholder()}
		}
		return sizes, nil
	}

	if field.CreateOnDemand != nil {
		ctx = rendition.WithOnDemand(ctx, *field.CreateOnDemand)
	}
	for i, ks := range specs {
		sizes[i].Name = set[i].Name
		if ks.Source {
			u, err := r.engine.SourceURL(slot)
			if err != nil && !errors.Is(err, storage.ErrNoURL) {
				return nil, err
			}
			sizes[i].URL = u
			continue
		}
		rd, err := r.engine.Resolve(ctx, slot, ks.Key)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", set[i].Name, err)
		}
		sizes[i].URL = rd.URL
	}
	return sizes, nil
}
