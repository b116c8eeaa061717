package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/database"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

// reportView is the JSON form of a bulk run.
type reportView struct {
	Records  int      `json:"records"`
	Images   int      `json:"images"`
	Deleted  int      `json:"deleted"`
	Failures []string `json:"failures"`
}

func newReportView(r *warmer.Report) reportView {
	v := reportView{Records: r.Records, Images: r.Images, Deleted: r.Deleted, Failures: []string{}}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, f.Error())
	}
	return v
}

// decodeOptional decodes a JSON body into dst, accepting an empty body.
func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func hasField(name string) bool {
	for _, f := range model.AssetFields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (h *Handler) sources(r *http.Request) []warmer.RecordSource {
	return []warmer.RecordSource{database.Assets(h.DB, api.GetAccountID(r.Context()))}
}

// WarmRenditions handles POST /warm -- builds the renditions of every asset
// of the account. The body may narrow the run to one set or field.
func (h *Handler) WarmRenditions(w http.ResponseWriter, r *http.Request) {
	var opts warmer.Options
	if err := decodeOptional(r, &opts); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if opts.Field != "" && !hasField(opts.Field) {
		api.BadRequest(w, "unknown image field "+opts.Field)
		return
	}

	report, err := h.Warmer.Warm(r.Context(), h.sources(r), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(newReportView(report)))
}

// InvalidateRenditions handles POST /invalidate -- evicts the existence
// markers of every rendition and, unless delete_files is false, deletes the
// rendition files.
func (h *Handler) InvalidateRenditions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeleteFiles *bool `json:"delete_files"`
	}
	if err := decodeOptional(r, &body); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	deleteFiles := body.DeleteFiles == nil || *body.DeleteFiles

	report, err := h.Warmer.Invalidate(r.Context(), h.sources(r), deleteFiles)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(newReportView(report)))
}

// OptimizeImages handles POST /optimize -- re-encodes the stored source
// images of the account.
func (h *Handler) OptimizeImages(w http.ResponseWriter, r *http.Request) {
	report, err := h.Warmer.OptimizeExisting(r.Context(), h.sources(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(newReportView(report)))
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, total, err := h.DB.ListAssets(ctx, api.GetAccountID(ctx), 1, 1)
	if err != nil {
		writeError(w, err)
		return
	}

	var result struct {
		Count struct {
			Current int `json:"current"`
		} `json:"count"`
		RenditionSets  []string `json:"rendition_sets"`
		CreateOnDemand bool     `json:"create_on_demand"`
	}
	result.Count.Current = total
	result.RenditionSets = h.Resolver.Registry().Names()
	result.CreateOnDemand = h.Resolver.Engine().CreateOnDemand()
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(result))
}
