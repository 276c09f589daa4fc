package errors

import (
	goerrors "errors"
	"net/http"

	"licsvc/internal/licensing"
)

// statusByCode is the canonical outcome-code to HTTP-status table. Every
// code the core can emit is listed; anything else is a programming error
// and collapses to 500.
var statusByCode = map[licensing.ServiceCode]int{
	licensing.CodeSignatureInvalid: http.StatusUnauthorized,
	licensing.CodeLicenseInvalid:   http.StatusBadRequest,

	licensing.CodeTokenInvalid:          http.StatusUnauthorized,
	licensing.CodeTokenForbiddenAccess:  http.StatusForbidden,
	licensing.CodeTokenTooOldForRefresh: http.StatusUnauthorized,
	licensing.CodeTokenAlreadyExists:    http.StatusConflict,
	licensing.CodeInvalidRequest:        http.StatusBadRequest,
	licensing.CodeInvalidVersionFormat:  http.StatusBadRequest,

	licensing.CodeLicenseExpired:             http.StatusForbidden,
	licensing.CodeLicenseInactive:            http.StatusForbidden,
	licensing.CodeLicenseUsageLimitExceeded:  http.StatusForbidden,
	licensing.CodeLicenseInvalidServiceID:    http.StatusBadRequest,
	licensing.CodeLicenseServiceNotSupported: http.StatusForbidden,
	licensing.CodeLicenseInvalidChecksum:     http.StatusForbidden,
	licensing.CodeLicenseVersionNotSupported: http.StatusForbidden,

	licensing.CodeLicenseNotFound: http.StatusNotFound,
	licensing.CodeInternalError:   http.StatusInternalServerError,
}

// FromLicensing maps a core failure to its APIError. Unrecognized errors
// become a generic internal error without exposing the underlying message.
func FromLicensing(err error) *APIError {
	var se *licensing.ServiceError
	if !goerrors.As(err, &se) {
		return ErrInternalServer
	}
	status, ok := statusByCode[se.Code]
	if !ok {
		return ErrInternalServer
	}
	message := se.Message
	if status == http.StatusInternalServerError {
		// Never leak infrastructure detail to clients.
		message = "An unexpected error occurred. Please try again later"
	}
	return New(status, string(se.Code), message)
}
