// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    int         `json:"code"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(code int, err string, message string, details interface{}) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Message: message,
		Details: details,
		Code:    code,
	}
}

// DuplicateDetails is the details payload of a 409 response.
type DuplicateDetails struct {
	ExistingID uint64 `json:"existing_id"`
}

// Error type identifiers used in ErrorResponse.Error.
const (
	ErrValidation       = "validation_error"
	ErrNotFound         = "not_found"
	ErrDuplicate        = "duplicate_rule"
	ErrStoreUnavailable = "store_unavailable"
	ErrPolicy           = "policy_error"
)
