package licensing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"licsvc/internal/crypto"
	"licsvc/internal/directory"
	"licsvc/pkg/contracts/domain"
)

const accessGrantedMessage = "license is valid"

// Service is the license orchestrator: the two entry points IssueAccess and
// ValidateAccess, composing the key codec, signature verifier, two-tier
// record cache, policy validator, token issuer, session cache, and
// blacklist.
type Service struct {
	codec     *crypto.KeyCodec
	verifier  *crypto.Verifier
	tokens    *TokenIssuer
	requests  *RequestValidator
	sessions  *SessionCache
	blacklist *Blacklist
	records   *RecordCache
	repo      Repository
	policy    *PolicyValidator
	logger    *slog.Logger
	metrics   *Metrics
}

// ServiceDeps collects the orchestrator's collaborators.
type ServiceDeps struct {
	Codec     *crypto.KeyCodec
	Verifier  *crypto.Verifier
	Tokens    *TokenIssuer
	Sessions  *SessionCache
	Blacklist *Blacklist
	Records   *RecordCache
	Repo      Repository
	Policy    *PolicyValidator
	Logger    *slog.Logger
	Metrics   *Metrics
}

// NewService wires the orchestrator.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		codec:     deps.Codec,
		verifier:  deps.Verifier,
		tokens:    deps.Tokens,
		requests:  NewRequestValidator(deps.Verifier, deps.Tokens, deps.Sessions, deps.Blacklist),
		sessions:  deps.Sessions,
		blacklist: deps.Blacklist,
		records:   deps.Records,
		repo:      deps.Repo,
		policy:    deps.Policy,
		logger:    logger.With(slog.String("component", "licensing")),
		metrics:   deps.Metrics,
	}
}

// IssueAccess validates a presented license key against the entitlement
// record and mints a fresh access token for the requesting binding.
func (s *Service) IssueAccess(ctx context.Context, req IssueRequest) (*ValidationOutcome, error) {
	outcome, err := s.issueAccess(ctx, req)
	s.observe(s.metricsIssue(), outcome, err)
	return outcome, err
}

func (s *Service) issueAccess(ctx context.Context, req IssueRequest) (*ValidationOutcome, error) {
	digest := crypto.RequestDigest(req.ServiceID, req.ServiceVersion, req.InstanceID, req.LicenseKey)
	if !s.verifier.Verify(req.Signature, digest) {
		return nil, NewServiceError(CodeSignatureInvalid, "request signature verification failed")
	}

	userID, encUserID, err := crypto.ExtractIdentity(s.codec, req.LicenseKey)
	if err != nil {
		return nil, NewServiceError(CodeLicenseInvalid, "license key is invalid")
	}

	key := BindingKey(req.ServiceID, req.ServiceVersion, req.InstanceID)
	binding, bound := s.sessions.Get(key)

	if !req.ForceRefresh && bound {
		if err := s.checkBindingConflict(binding, req, userID); err != nil {
			return nil, err
		}
	}

	if req.ForceRefresh && bound {
		// The superseded token must stop validating before the new one is
		// minted.
		s.blacklist.Revoke(binding.Token)
		if s.metrics != nil {
			s.metrics.TokensRevoked.Inc()
		}
		s.logger.InfoContext(ctx, "token revoked for forced refresh",
			slog.String("binding_key", key))
	}

	record, err := s.fetchAndEvaluate(ctx, userID, PolicyRequest{
		ServiceID:      req.ServiceID,
		ServiceVersion: req.ServiceVersion,
		InstanceID:     req.InstanceID,
		Checksum:       req.Checksum,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.mintAndStore(key, encUserID, record, req.ServiceID, req.ServiceVersion, req.Checksum)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "access issued",
		slog.String("binding_key", key),
		slog.String("service_id", req.ServiceID),
		slog.String("service_version", req.ServiceVersion),
	)

	return &ValidationOutcome{
		Valid:           true,
		Code:            CodeCreated,
		Message:         accessGrantedMessage,
		Token:           token,
		EncryptedUserID: encUserID,
		InstanceID:      req.InstanceID,
		Tier:            record.Tier,
		Status:          record.Status,
	}, nil
}

// ValidateAccess verifies a previously issued token and, when it has
// expired recoverably, re-runs policy evaluation and mints a replacement.
func (s *Service) ValidateAccess(ctx context.Context, req ValidateRequest) (*ValidationOutcome, error) {
	outcome, err := s.validateAccess(ctx, req)
	s.observe(s.metricsValidate(), outcome, err)
	return outcome, err
}

func (s *Service) validateAccess(ctx context.Context, req ValidateRequest) (*ValidationOutcome, error) {
	assessment, err := s.requests.Validate(req)
	if err != nil {
		return nil, err
	}

	if assessment.State == TokenStateActive {
		// No new token: the client keeps using the one it presented.
		return &ValidationOutcome{
			Valid:      true,
			Code:       CodeActive,
			Message:    accessGrantedMessage,
			InstanceID: req.InstanceID,
		}, nil
	}

	userID, err := s.codec.Decrypt(assessment.EncryptedUserID)
	if err != nil {
		return nil, NewServiceError(CodeLicenseInvalid, "cached session identity is invalid")
	}

	record, err := s.fetchAndEvaluate(ctx, userID, PolicyRequest{
		ServiceID:      req.ServiceID,
		ServiceVersion: req.ServiceVersion,
		InstanceID:     req.InstanceID,
		Checksum:       req.Checksum,
	})
	if err != nil {
		return nil, err
	}

	// The naturally expired predecessor is not blacklisted; it can no
	// longer verify on its own and the session snapshot now points at the
	// replacement.
	token, err := s.mintAndStore(assessment.BindingKey, assessment.EncryptedUserID, record,
		req.ServiceID, req.ServiceVersion, req.Checksum)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "access refreshed",
		slog.String("binding_key", assessment.BindingKey),
		slog.String("service_id", req.ServiceID),
	)

	return &ValidationOutcome{
		Valid:           true,
		Code:            CodeRefreshed,
		Message:         accessGrantedMessage,
		Token:           token,
		EncryptedUserID: assessment.EncryptedUserID,
		InstanceID:      req.InstanceID,
		Tier:            record.Tier,
		Status:          record.Status,
	}, nil
}

// checkBindingConflict enforces the idempotent re-issue guard: an existing
// binding with the same full context yields TokenAlreadyExists, any other
// existing binding yields InvalidRequest.
func (s *Service) checkBindingConflict(binding ClientBinding, req IssueRequest, userID string) error {
	cachedUserID, err := s.codec.Decrypt(binding.EncryptedUserID)
	if err != nil {
		// An undecryptable cached identity can never match; treat as a
		// conflicting context.
		return NewServiceError(CodeInvalidRequest, "an active session with a different context exists for this instance")
	}
	sameContext := binding.ServiceID == req.ServiceID &&
		binding.ServiceVersion == req.ServiceVersion &&
		binding.Checksum == req.Checksum &&
		cachedUserID == userID
	if sameContext {
		return NewServiceError(CodeTokenAlreadyExists, "an active token already exists for this binding")
	}
	return NewServiceError(CodeInvalidRequest, "an active session with a different context exists for this instance")
}

// fetchAndEvaluate loads the entitlement record through the two-tier cache,
// applies the policy rules, and performs the record-usage side effect for a
// first-time instance. A directory outage degrades to the offline tier when
// one exists.
func (s *Service) fetchAndEvaluate(ctx context.Context, userID string, preq PolicyRequest) (*domain.EntitlementRecord, error) {
	record, err := s.records.Get(ctx, userID)
	if err != nil {
		if directory.IsConnectionError(err) {
			// Get only fails on the cold path, so there is no offline value
			// to fall back to here; a brand-new request with no cached
			// history hard-fails.
			s.logger.WarnContext(ctx, "directory unavailable and no cached entitlement",
				slog.String("user_id", userID))
			return nil, &ServiceError{Code: CodeInternalError, Message: "license directory is unavailable", Err: err}
		}
		if errors.Is(err, directory.ErrNotFound) {
			return nil, NewServiceError(CodeLicenseNotFound, "no entitlement exists for this license")
		}
		return nil, &ServiceError{Code: CodeInternalError, Message: "entitlement record could not be read", Err: err}
	}

	decision, err := s.policy.Evaluate(record, preq)
	if err != nil {
		return nil, err
	}

	if decision.RecordUsage {
		mutated, err := s.recordUsage(ctx, userID, preq.InstanceID)
		if err != nil {
			return nil, err
		}
		if mutated != nil {
			s.records.Put(mutated)
			record = mutated
		}
	}
	return record, nil
}

// recordUsage performs the directory-side activation. When the directory is
// unreachable the activation is deferred: the stale record keeps serving and
// the binding will be recorded on a later call once the directory recovers.
func (s *Service) recordUsage(ctx context.Context, userID, instanceID string) (*domain.EntitlementRecord, error) {
	mutated, err := s.repo.RecordUsage(ctx, userID, instanceID)
	switch {
	case err == nil:
		return mutated, nil
	case errors.Is(err, directory.ErrUsageExceeded):
		return nil, NewServiceError(CodeLicenseUsageLimitExceeded, "activation limit reached")
	case errors.Is(err, directory.ErrNotFound):
		return nil, NewServiceError(CodeLicenseNotFound, "no entitlement exists for this license")
	case directory.IsConnectionError(err):
		s.logger.WarnContext(ctx, "usage recording deferred, directory unavailable",
			slog.String("user_id", userID),
			slog.String("instance_id", instanceID),
		)
		return nil, nil
	default:
		return nil, &ServiceError{Code: CodeInternalError, Message: "usage recording failed", Err: err}
	}
}

// mintAndStore issues the token and overwrites the session snapshot for the
// binding.
func (s *Service) mintAndStore(key, encUserID string, record *domain.EntitlementRecord, serviceID, serviceVersion, checksum string) (string, error) {
	token, err := s.tokens.Issue(key, record.Tier, record.Status, accessGrantedMessage)
	if err != nil {
		return "", &ServiceError{Code: CodeInternalError, Message: "token minting failed", Err: err}
	}
	s.sessions.Put(key, ClientBinding{
		Token:           token,
		EncryptedUserID: encUserID,
		ServiceID:       serviceID,
		ServiceVersion:  serviceVersion,
		Checksum:        checksum,
		IssuedAt:        time.Now(),
	})
	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	return token, nil
}

func (s *Service) metricsIssue() func(ServiceCode) {
	if s.metrics == nil {
		return nil
	}
	return func(code ServiceCode) {
		s.metrics.IssueRequests.WithLabelValues(string(code)).Inc()
	}
}

func (s *Service) metricsValidate() func(ServiceCode) {
	if s.metrics == nil {
		return nil
	}
	return func(code ServiceCode) {
		s.metrics.ValidateRequests.WithLabelValues(string(code)).Inc()
	}
}

func (s *Service) observe(record func(ServiceCode), outcome *ValidationOutcome, err error) {
	if record == nil {
		return
	}
	switch {
	case err == nil && outcome != nil:
		record(outcome.Code)
	case err != nil:
		var se *ServiceError
		if errors.As(err, &se) {
			record(se.Code)
		} else {
			record(CodeInternalError)
		}
	}
}
