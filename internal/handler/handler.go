package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/config"
	"github.com/leca/dt-image-renditions/internal/database"
	"github.com/leca/dt-image-renditions/internal/imagefield"
	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/validate"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	DB       database.Database
	Fields   *imagefield.Field
	Resolver *renditionset.Resolver
	Warmer   *warmer.Warmer
	Config   *config.Config
}

var bodyValidator = validator.New()

// maxBodyBytes bounds upload requests: two images plus form overhead.
func (h *Handler) maxBodyBytes() int64 {
	mb := h.Config.MaxFileSizeMB
	if mb <= 0 {
		mb = validate.DefaultMaxFileSizeMB
	}
	return int64(2*mb+1) << 20
}

// formUpload reads the multipart file field name. ok is false when the
// request has no such field.
func formUpload(r *http.Request, name string) (validate.Upload, bool, error) {
	file, header, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return validate.Upload{}, false, nil
	}
	if err != nil {
		return validate.Upload{}, false, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return validate.Upload{}, false, err
	}
	return validate.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true, nil
}

// parseMultipart limits the body and parses the form, writing the error
// response itself on failure.
func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.TooLarge(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		api.BadRequest(w, "invalid multipart form: "+err.Error())
		return false
	}
	return true
}

// pageParams reads page and per_page from the query string.
func pageParams(r *http.Request, defaultPerPage, maxPerPage int) (int, int) {
	page, perPage := 1, defaultPerPage
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if pp, err := strconv.Atoi(v); err == nil && pp > 0 {
			perPage = min(pp, maxPerPage)
		}
	}
	return page, perPage
}

// afterCommit runs fn once the transaction in ctx commits. fn gets a
// context that outlives the request and carries no transaction.
func afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	detached := database.WithoutTransaction(context.WithoutCancel(ctx))
	database.AfterCommit(ctx, func() { fn(detached) })
}

// warmAfterCommit schedules the renditions of a to be built once the
// surrounding transaction commits. Failures are logged only.
func (h *Handler) warmAfterCommit(ctx context.Context, a *model.Asset) {
	afterCommit(ctx, func(ctx context.Context) {
		if err := h.Fields.Warm(ctx, a); err != nil {
			log.Printf("warming asset %s: %v", a.ID, err)
		}
	})
}

// discard removes whatever was stored for a before it was persisted.
func (h *Handler) discard(ctx context.Context, a *model.Asset) {
	if err := h.Fields.OnDeleted(context.WithoutCancel(ctx), a); err != nil {
		log.Printf("removing files of asset %s: %v", a.ID, err)
	}
}

// discardSlot removes the bytes and renditions of one slot.
func (h *Handler) discardSlot(ctx context.Context, slot model.SourceImage) {
	if err := h.Fields.Discard(context.WithoutCancel(ctx), slot); err != nil {
		log.Printf("removing %s: %v", slot.Path, err)
	}
}
