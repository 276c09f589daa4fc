// Package http contains the chi HTTP handlers exposing the licensing core
// to clients. Handlers bind and validate request DTOs, delegate to the
// orchestrator, and map outcome codes to response statuses.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"licsvc/internal/errors"
	"licsvc/internal/infrastructure"
	"licsvc/internal/licensing"
	"licsvc/pkg/contracts/domain"
)

// AccessHandler handles the issue and validate endpoints.
type AccessHandler struct {
	service  *licensing.Service
	validate *validator.Validate
	logger   *slog.Logger
	timeout  time.Duration
}

// NewAccessHandler creates the access handler.
func NewAccessHandler(service *licensing.Service, logger *slog.Logger, timeout time.Duration) *AccessHandler {
	return &AccessHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "access")),
		timeout:  timeout,
	}
}

// IssueAccessRequest is the issue endpoint request payload. LicenseKey is
// the encrypted license key ciphertext exactly as delivered to the client.
type IssueAccessRequest struct {
	LicenseKey     string `json:"license_key" validate:"required,min=32"`
	InstanceID     string `json:"instance_id" validate:"required,min=8,max=128"`
	Checksum       string `json:"checksum,omitempty" validate:"omitempty,max=128"`
	ServiceID      string `json:"service_id" validate:"required,min=1,max=64"`
	ServiceVersion string `json:"service_version" validate:"required,max=32"`
	Signature      string `json:"signature" validate:"required"`
	ForceRefresh   bool   `json:"force_refresh,omitempty"`
}

// Bind implements render.Binder.
func (i *IssueAccessRequest) Bind(r *http.Request) error {
	return nil
}

// ValidateAccessRequest is the validate endpoint request payload. The token
// itself travels in the Authorization header.
type ValidateAccessRequest struct {
	ServiceID      string `json:"service_id" validate:"required,min=1,max=64"`
	ServiceVersion string `json:"service_version" validate:"required,max=32"`
	InstanceID     string `json:"instance_id" validate:"required,min=8,max=128"`
	Checksum       string `json:"checksum,omitempty" validate:"omitempty,max=128"`
	Signature      string `json:"signature" validate:"required"`
}

// Bind implements render.Binder.
func (v *ValidateAccessRequest) Bind(r *http.Request) error {
	return nil
}

// AccessResponse is the success envelope for both endpoints.
type AccessResponse struct {
	Status    string               `json:"status"`
	Message   string               `json:"message,omitempty"`
	Token     string               `json:"token,omitempty"`
	Tier      domain.LicenseTier   `json:"tier,omitempty"`
	TraceID   string               `json:"trace_id"`
	Timestamp time.Time            `json:"timestamp"`
}

// statusNames maps success outcome codes to the wire status field.
var statusNames = map[licensing.ServiceCode]string{
	licensing.CodeCreated:   "Created",
	licensing.CodeActive:    "Active",
	licensing.CodeRefreshed: "Refreshed",
}

// Routes returns the chi router for access endpoints.
func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Timeout(h.timeout))
	r.Post("/issue", h.Issue)
	r.Post("/validate", h.Validate)
	return r
}

// Issue handles POST /issue.
func (h *AccessHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IssueAccessRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, errors.InvalidRequestWithError(err))
		return
	}
	if apiErr := h.validateStruct(&req); apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	outcome, err := h.service.IssueAccess(ctx, licensing.IssueRequest{
		LicenseKey:     req.LicenseKey,
		InstanceID:     req.InstanceID,
		Checksum:       req.Checksum,
		ServiceID:      req.ServiceID,
		ServiceVersion: req.ServiceVersion,
		Signature:      req.Signature,
		ForceRefresh:   req.ForceRefresh,
	})
	if err != nil {
		h.renderFailure(w, r, "issue", err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.response(ctx, outcome))
}

// Validate handles POST /validate. The presented token travels as a bearer
// credential.
func (h *AccessHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, ok := bearerToken(r)
	if !ok {
		render.Render(w, r, errors.New(http.StatusUnauthorized,
			string(licensing.CodeTokenInvalid), "Bearer token is required"))
		return
	}

	var req ValidateAccessRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, errors.InvalidRequestWithError(err))
		return
	}
	if apiErr := h.validateStruct(&req); apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	outcome, err := h.service.ValidateAccess(ctx, licensing.ValidateRequest{
		ServiceID:      req.ServiceID,
		ServiceVersion: req.ServiceVersion,
		InstanceID:     req.InstanceID,
		Checksum:       req.Checksum,
		Signature:      req.Signature,
		Token:          token,
	})
	if err != nil {
		h.renderFailure(w, r, "validate", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.response(ctx, outcome))
}

func (h *AccessHandler) response(ctx context.Context, outcome *licensing.ValidationOutcome) *AccessResponse {
	name := statusNames[outcome.Code]
	if name == "" {
		name = string(outcome.Code)
	}
	return &AccessResponse{
		Status:    name,
		Message:   outcome.Message,
		Token:     outcome.Token,
		Tier:      outcome.Tier,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}
}

func (h *AccessHandler) renderFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr := errors.FromLicensing(err)
	apiErr.TraceID = infrastructure.GetTraceID(r.Context())
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "access request failed",
			slog.String("operation", op),
			slog.String("trace_id", apiErr.TraceID),
			slog.String("error", err.Error()),
		)
	}
	render.Render(w, r, apiErr)
}

// validateStruct runs the validator and converts failures into per-field
// details.
func (h *AccessHandler) validateStruct(req any) *errors.APIError {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ErrValidationFailed
	}
	fields := make([]errors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errors.ValidationError{
			Field:   fe.Field(),
			Message: "failed on rule " + fe.Tag(),
		})
	}
	return errors.NewValidationErrors(fields)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
