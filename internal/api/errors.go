package api

import "net/http"

// Error codes carried in APIError.Code.
const (
	CodeBadRequest           = 9400
	CodeUnauthorized         = 9401
	CodeNotFound             = 9404
	CodeTooLarge             = 9413
	CodeUnsupportedMediaType = 9415
	CodeUnprocessable        = 9422
	CodeInternal             = 9500
	CodeUnavailable          = 9503
)

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse(CodeBadRequest, msg))
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse(CodeUnauthorized, "Authentication required"))
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse(CodeNotFound, msg))
}

// TooLarge writes a 413 error response.
func TooLarge(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse(CodeTooLarge, msg))
}

// UnsupportedMediaType writes a 415 error response.
func UnsupportedMediaType(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnsupportedMediaType, ErrorResponse(CodeUnsupportedMediaType, msg))
}

// UnprocessableEntity writes a 422 error response.
func UnprocessableEntity(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse(CodeUnprocessable, msg))
}

// InternalError writes a 500 error response.
func InternalError(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse(CodeInternal, msg))
}

// Unavailable writes a 503 error response.
func Unavailable(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse(CodeUnavailable, msg))
}
