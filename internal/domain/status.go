package domain

import "net/http"

// StatusCategory represents the coarse classification of an HTTP-like status code.
type StatusCategory int

const (
	StatusCategoryUnknown StatusCategory = iota
	StatusCategorySuccess
	StatusCategoryClientError
	StatusCategoryServerError
)

// CategoryOf returns the category of a per-item status code returned by the
// backend.
func CategoryOf(code int) StatusCategory {
	switch {
	case code >= 200 && code <= 299:
		return StatusCategorySuccess
	case code >= 400 && code <= 499:
		return StatusCategoryClientError
	case code >= 500 && code <= 599:
		return StatusCategoryServerError
	default:
		return StatusCategoryUnknown
	}
}

// StatusCategory returns the category of the response's status.
func (r ItemResponse) StatusCategory() StatusCategory {
	return CategoryOf(r.Status)
}

// IsRetriable returns true when the item may succeed if sent again.
// Only throttling and 5xx server errors are retriable.
func (r ItemResponse) IsRetriable() bool {
	return r.Status == http.StatusTooManyRequests || r.StatusCategory() == StatusCategoryServerError
}

// IsConflict reports a version conflict on the document.
func (r ItemResponse) IsConflict() bool {
	return r.Status == http.StatusConflict
}
