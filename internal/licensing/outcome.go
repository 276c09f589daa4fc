package licensing

import (
	"fmt"

	"licsvc/pkg/contracts/domain"
)

// ServiceCode is the client-visible outcome code for an access request.
// Every code maps 1:1 to a transport status without message inspection.
type ServiceCode string

const (
	// Success outcomes.
	CodeCreated   ServiceCode = "ACCESS_CREATED"
	CodeActive    ServiceCode = "ACCESS_ACTIVE"
	CodeRefreshed ServiceCode = "ACCESS_REFRESHED"

	// Crypto / integrity failures. Terminal, never retried internally.
	CodeSignatureInvalid ServiceCode = "SIGNATURE_INVALID"
	CodeLicenseInvalid   ServiceCode = "LICENSE_INVALID"

	// Token protocol failures. Terminal; the client must restart the
	// appropriate flow.
	CodeTokenInvalid           ServiceCode = "TOKEN_INVALID"
	CodeTokenForbiddenAccess   ServiceCode = "TOKEN_FORBIDDEN_ACCESS"
	CodeTokenTooOldForRefresh  ServiceCode = "TOKEN_IS_TOO_OLD_FOR_REFRESH"
	CodeTokenAlreadyExists     ServiceCode = "TOKEN_ALREADY_EXISTS"
	CodeInvalidRequest         ServiceCode = "INVALID_REQUEST"
	CodeInvalidVersionFormat   ServiceCode = "INVALID_SERVICE_VERSION_FORMAT"

	// Policy failures. Terminal, informative.
	CodeLicenseExpired              ServiceCode = "LICENSE_EXPIRED"
	CodeLicenseInactive             ServiceCode = "LICENSE_INACTIVE"
	CodeLicenseUsageLimitExceeded   ServiceCode = "LICENSE_USAGE_LIMIT_EXCEEDED"
	CodeLicenseInvalidServiceID     ServiceCode = "LICENSE_INVALID_SERVICE_ID"
	CodeLicenseServiceNotSupported  ServiceCode = "LICENSE_SERVICE_ID_NOT_SUPPORTED"
	CodeLicenseInvalidChecksum      ServiceCode = "LICENSE_INVALID_CHECKSUM"
	CodeLicenseVersionNotSupported  ServiceCode = "LICENSE_SERVICE_VERSION_NOT_SUPPORTED"

	// Infrastructure.
	CodeLicenseNotFound ServiceCode = "LICENSE_NOT_FOUND"
	CodeInternalError   ServiceCode = "INTERNAL_SERVER_ERROR"
)

// ServiceError is the typed failure carried from the core to the transport
// boundary. The code drives the response status; Message carries the
// offending value where the taxonomy calls for it (for example the maximum
// licensed version).
type ServiceError struct {
	Code    ServiceCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError builds a ServiceError with a formatted message.
func NewServiceError(code ServiceCode, format string, args ...any) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationOutcome is the per-request value object returned by the
// orchestrator entry points. It is never stored.
type ValidationOutcome struct {
	Valid           bool                 `json:"valid"`
	Code            ServiceCode          `json:"code"`
	Message         string               `json:"message,omitempty"`
	Token           string               `json:"token,omitempty"`
	EncryptedUserID string               `json:"-"`
	InstanceID      string               `json:"instance_id,omitempty"`
	Tier            domain.LicenseTier   `json:"tier,omitempty"`
	Status          domain.LicenseStatus `json:"status,omitempty"`
}

// IssueRequest is the input to IssueAccess. LicenseKey carries the
// encrypted license key ciphertext as presented by the client.
type IssueRequest struct {
	LicenseKey     string
	InstanceID     string
	Checksum       string
	ServiceID      string
	ServiceVersion string
	Signature      string
	ForceRefresh   bool
}

// ValidateRequest is the input to ValidateAccess. Token carries the bearer
// token previously issued for this binding.
type ValidateRequest struct {
	ServiceID      string
	ServiceVersion string
	InstanceID     string
	Checksum       string
	Signature      string
	Token          string
}
