package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Result   any          `json:"result"`
	Success  bool         `json:"success"`
	Errors   []APIError   `json:"errors"`
	Messages []APIMessage `json:"messages"`
}

// APIMessage is an informational message attached to a response.
type APIMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is a single error of a failed response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResultInfo carries pagination metadata for list endpoints.
type ResultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages,omitempty"`
}

// PageResponse is a Response with pagination metadata.
type PageResponse struct {
	Response
	ResultInfo ResultInfo `json:"result_info"`
}

// SuccessResponse builds a successful response.
func SuccessResponse(result any) Response {
	return Response{
		Result:   result,
		Success:  true,
		Errors:   []APIError{},
		Messages: []APIMessage{},
	}
}

// ErrorResponse builds a failed response carrying one error.
func ErrorResponse(code int, message string) Response {
	return Response{
		Result:   nil,
		Success:  false,
		Errors:   []APIError{{Code: code, Message: message}},
		Messages: []APIMessage{},
	}
}

// PaginatedResponse builds a successful response that includes result_info.
func PaginatedResponse(result any, info ResultInfo) PageResponse {
	return PageResponse{Response: SuccessResponse(result), ResultInfo: info}
}

// NewResultInfo computes the page count for a list of total records.
func NewResultInfo(page, perPage, count, total int) ResultInfo {
	info := ResultInfo{Page: page, PerPage: perPage, Count: count, TotalCount: total}
	if perPage > 0 {
		info.TotalPages = (total + perPage - 1) / perPage
	}
	return info
}

// WriteJSON serialises resp as JSON and writes it to w with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("WriteJSON: failed to encode response: %v", err)
	}
}
