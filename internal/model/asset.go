package model

import "time"

// SourceImage is an uploaded image bound to one slot of an owning record.
type SourceImage struct {
	Path       string     `json:"path"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	FocalPoint FocalPoint `json:"focalPoint"`
	AltText    string     `json:"alt"`
}

// Committed reports whether the slot has stored bytes.
func (s *SourceImage) Committed() bool {
	return s != nil && s.Path != ""
}

// FieldDescriptor describes one image slot of an owning record type.
type FieldDescriptor struct {
	Name string

	// Sizes overrides the rendition set inline. SizesName overrides it by
	// registry name. Sizes wins when both are set.
	Sizes     RenditionSet
	SizesName string

	// CreateOnDemand overrides the process-wide on-demand policy when non-nil.
	CreateOnDemand *bool
}

// ImageOwner is implemented by every record type that carries image slots.
type ImageOwner interface {
	RecordID() string
	ImageFields() []FieldDescriptor
	ImageSlot(field string) *SourceImage
	// RenditionSetName is the owner-level rendition set, or "" for none.
	RenditionSetName() string
}

// Field names of Asset.
const (
	FieldImage = "image"
	FieldCover = "cover"
)

// CoverSizes is the inline rendition set of the cover slot.
var CoverSizes = RenditionSet{
	{Name: "full_size", Key: "url"},
	{Name: "banner", Key: "crop__1200x400"},
	{Name: "banner_webp", Key: "crop_webp__1200x400"},
}

// Asset is a media record owned by an account. It has a primary image and an
// optional cover image.
type Asset struct {
	ID        string      `json:"id"`
	AccountID string      `json:"-"`
	Kind      string      `json:"kind"`
	Title     string      `json:"title"`
	Sizes     string      `json:"sizes,omitempty"`
	Image     SourceImage `json:"image"`
	Cover     SourceImage `json:"cover"`
	Created   time.Time   `json:"created"`
	Updated   time.Time   `json:"updated"`
}

var _ ImageOwner = (*Asset)(nil)

func (a *Asset) RecordID() string {
	return a.ID
}

// AssetFields are the image slots of every Asset.
var AssetFields = []FieldDescriptor{
	{Name: FieldImage},
	{Name: FieldCover, Sizes: CoverSizes},
}

func (a *Asset) ImageFields() []FieldDescriptor {
	return AssetFields
}

func (a *Asset) ImageSlot(field string) *SourceImage {
	switch field {
	case FieldImage:
		return &a.Image
	case FieldCover:
		return &a.Cover
	}
	return nil
}

func (a *Asset) RenditionSetName() string {
	return a.Sizes
}

// Field returns the descriptor named field, if the asset has one.
func (a *Asset) Field(name string) (FieldDescriptor, bool) {
	for _, f := range a.ImageFields() {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
