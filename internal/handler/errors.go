package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/database"
	"github.com/leca/dt-image-renditions/internal/imagefield"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/storage"
	"github.com/leca/dt-image-renditions/internal/validate"
)

// writeError maps domain errors onto API error responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		tooLarge *validate.FileTooLargeError
		badExt   *validate.UnsupportedExtensionError
		badType  *validate.ContentTypeMismatchError
	)
	switch {
	case errors.As(err, &tooLarge):
		api.TooLarge(w, err.Error())
	case errors.As(err, &badExt), errors.As(err, &badType):
		api.UnsupportedMediaType(w, err.Error())
	case errors.Is(err, validate.ErrValidation),
		errors.Is(err, renditionset.ErrMalformedKey),
		errors.Is(err, renditionset.ErrUnknownSet):
		api.BadRequest(w, err.Error())
	case errors.Is(err, imagefield.ErrUnknownField),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, rendition.ErrNoSource):
		api.NotFound(w, err.Error())
	case errors.Is(err, imageproc.ErrDecode),
		errors.Is(err, imageproc.ErrUnsupportedFormat),
		errors.Is(err, imageproc.ErrUnknownFilter):
		api.UnprocessableEntity(w, err.Error())
	default:
		log.Printf("internal error: %v", err)
		api.InternalError(w, "internal server error")
	}
}
