package handler

import (
	"io"
	"log"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/imagefield"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
)

// GetRendition handles GET /{asset_id}/{field}/renditions/{key} -- redirects
// to the public URL of one rendition, building it on demand. With
// ?redirect=false, or when storage has no public URL, the bytes are streamed.
func (h *Handler) GetRendition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	field := chi.URLParam(r, "field")

	spec, err := renditionset.ParseKeySpec(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := h.DB.GetAsset(ctx, api.GetAccountID(ctx), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	d, ok := a.Field(field)
	if !ok {
		writeError(w, imagefield.ErrUnknownField)
		return
	}
	if d.CreateOnDemand != nil {
		ctx = rendition.WithOnDemand(ctx, *d.CreateOnDemand)
	}

	engine := h.Resolver.Engine()
	slot := a.ImageSlot(field)
	redirect := r.URL.Query().Get("redirect") != "false"

	var url, p string
	if spec.Source {
		p = slot.Path
		url, _ = engine.SourceURL(slot)
	} else {
		rend, err := engine.Resolve(ctx, slot, spec.Key)
		if err != nil {
			writeError(w, err)
			return
		}
		p, url = rend.Path, rend.URL
	}

	if redirect && url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if p == "" {
		writeError(w, rendition.ErrNoSource)
		return
	}

	rc, err := engine.Storage().Open(ctx, p)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", imageproc.ContentType(imageproc.FormatFromExt(path.Ext(p))))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("GetRendition: failed to write response: %v", err)
	}
}
