package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/renditionset"
)

// assetView is an asset with the resolved rendition URLs of its slots.
type assetView struct {
	*model.Asset
	Renditions map[string]renditionset.Sizes `json:"renditions"`
}

// view resolves the renditions of every slot. Build errors are returned so a
// broken rendition is never hidden.
func (h *Handler) view(ctx context.Context, a *model.Asset) (assetView, error) {
	v := assetView{Asset: a, Renditions: map[string]renditionset.Sizes{}}
	for _, f := range a.ImageFields() {
		if !a.ImageSlot(f.Name).Committed() && h.Resolver.Engine().Placeholder() == "" {
			continue
		}
		sizes, err := h.Fields.OnLoaded(ctx, a, f.Name)
		if errors.Is(err, renditionset.ErrUnknownSet) {
			return v, fmt.Errorf("rendition set configuration: %v", err)
		}
		if err != nil {
			return v, fmt.Errorf("resolving %s of asset %s: %w", f.Name, a.ID, err)
		}
		v.Renditions[f.Name] = sizes
	}
	return v, nil
}

// writeView resolves a and writes it as the response.
func (h *Handler) writeView(w http.ResponseWriter, r *http.Request, a *model.Asset) {
	v, err := h.view(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(v))
}

// checkSizes rejects rendition set names missing from the registry.
func (h *Handler) checkSizes(name string) error {
	if name == "" {
		return nil
	}
	_, err := h.Resolver.Registry().Lookup(name)
	return err
}

// CreateAsset handles POST / -- multipart upload of the primary image and an
// optional cover.
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := api.GetAccountID(ctx)

	if !h.parseMultipart(w, r) {
		return
	}
	image, ok, err := formUpload(r, "file")
	if err != nil {
		api.BadRequest(w, "reading file: "+err.Error())
		return
	}
	if !ok {
		api.BadRequest(w, "missing required field: file")
		return
	}
	cover, hasCover, err := formUpload(r, "cover")
	if err != nil {
		api.BadRequest(w, "reading cover: "+err.Error())
		return
	}

	kind := r.FormValue("kind")
	if kind == "" {
		kind = "asset"
	}
	sizes := r.FormValue("sizes")
	if err := h.checkSizes(sizes); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	a := &model.Asset{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		Title:     r.FormValue("title"),
		Sizes:     sizes,
		Created:   now,
		Updated:   now,
	}

	if _, err := h.Fields.Replace(ctx, a, model.FieldImage, kind, image); err != nil {
		writeError(w, err)
		return
	}
	if hasCover {
		if _, err := h.Fields.Replace(ctx, a, model.FieldCover, kind, cover); err != nil {
			h.discard(ctx, a)
			writeError(w, err)
			return
		}
	}

	err = h.DB.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := h.DB.CreateAsset(ctx, a); err != nil {
			return err
		}
		h.warmAfterCommit(ctx, a)
		return nil
	})
	if err != nil {
		h.discard(ctx, a)
		writeError(w, err)
		return
	}

	h.writeView(w, r, a)
}

// GetAsset handles GET /{asset_id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.DB.GetAsset(ctx, api.GetAccountID(ctx), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeView(w, r, a)
}

// ListAssets handles GET /.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, perPage := pageParams(r, 50, 1000)

	assets, total, err := h.DB.ListAssets(ctx, api.GetAccountID(ctx), page, perPage)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		v, err := h.view(ctx, a)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}

	info := api.NewResultInfo(page, perPage, len(views), total)
	api.WriteJSON(w, http.StatusOK, api.PaginatedResponse(map[string]any{"assets": views}, info))
}

type slotPatch struct {
	Alt        *string           `json:"alt" validate:"omitempty,max=512"`
	FocalPoint *model.FocalPoint `json:"focalPoint"`
}

type assetPatch struct {
	Title *string    `json:"title" validate:"omitempty,max=255"`
	Sizes *string    `json:"sizes" validate:"omitempty,max=64"`
	Image *slotPatch `json:"image"`
	Cover *slotPatch `json:"cover"`
}

func (p assetPatch) slots() map[string]*slotPatch {
	return map[string]*slotPatch{model.FieldImage: p.Image, model.FieldCover: p.Cover}
}

// UpdateAsset handles PATCH /{asset_id}. Moving a focal point drops the
// renditions built for the old one once the update commits.
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body assetPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := bodyValidator.Struct(body); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	for name, p := range body.slots() {
		if p != nil && p.FocalPoint != nil && !p.FocalPoint.Valid() {
			api.BadRequest(w, name+": focal point coordinates must be within [0,1]")
			return
		}
	}
	if body.Sizes != nil {
		if err := h.checkSizes(*body.Sizes); err != nil {
			writeError(w, err)
			return
		}
	}

	var a *model.Asset
	err := h.DB.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		a, err = h.DB.GetAsset(ctx, api.GetAccountID(ctx), chi.URLParam(r, "asset_id"))
		if err != nil {
			return err
		}
		if body.Title != nil {
			a.Title = *body.Title
		}
		if body.Sizes != nil {
			a.Sizes = *body.Sizes
		}
		for name, p := range body.slots() {
			if p == nil {
				continue
			}
			if p.Alt != nil {
				a.ImageSlot(name).AltText = *p.Alt
			}
			if p.FocalPoint != nil {
				stale, err := h.Fields.SetFocalPoint(ctx, a, name, *p.FocalPoint)
				if err != nil {
					return err
				}
				afterCommit(ctx, func(ctx context.Context) {
					if err := h.Fields.DropRenditions(ctx, stale); err != nil {
						log.Printf("dropping renditions of %s: %v", stale.Path, err)
					}
				})
			}
		}
		a.Updated = time.Now().UTC()
		if err := h.DB.UpdateAsset(ctx, a); err != nil {
			return err
		}
		h.warmAfterCommit(ctx, a)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeView(w, r, a)
}

// ReplaceImage handles PUT /{asset_id}/{field} -- multipart upload that
// replaces the bytes of one slot.
func (h *Handler) ReplaceImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.parseMultipart(w, r) {
		return
	}
	upload, ok, err := formUpload(r, "file")
	if err != nil {
		api.BadRequest(w, "reading file: "+err.Error())
		return
	}
	if !ok {
		api.BadRequest(w, "missing required field: file")
		return
	}

	field := chi.URLParam(r, "field")
	var (
		a     *model.Asset
		saved model.SourceImage
	)
	err = h.DB.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		a, err = h.DB.GetAsset(ctx, api.GetAccountID(ctx), chi.URLParam(r, "asset_id"))
		if err != nil {
			return err
		}
		previous, err := h.Fields.Replace(ctx, a, field, a.Kind, upload)
		if err != nil {
			return err
		}
		saved = *a.ImageSlot(field)
		a.Updated = time.Now().UTC()
		if err := h.DB.UpdateAsset(ctx, a); err != nil {
			return err
		}
		if previous.Path != saved.Path {
			afterCommit(ctx, func(ctx context.Context) { h.discardSlot(ctx, previous) })
		}
		h.warmAfterCommit(ctx, a)
		return nil
	})
	if err != nil {
		// The row still points at the previous bytes; only the new upload goes.
		h.discardSlot(ctx, saved)
		writeError(w, err)
		return
	}

	h.writeView(w, r, a)
}

// DeleteAsset handles DELETE /{asset_id}. Stored files and renditions are
// removed once the row deletion commits.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.DB.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := h.DB.GetAsset(ctx, api.GetAccountID(ctx), chi.URLParam(r, "asset_id"))
		if err != nil {
			return err
		}
		if err := h.DB.DeleteAsset(ctx, a.AccountID, a.ID); err != nil {
			return err
		}
		afterCommit(ctx, func(ctx context.Context) { h.discard(ctx, a) })
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(struct{}{}))
}
