package licensing

import (
	"errors"

	"licsvc/internal/crypto"
)

// TokenState classifies a presented token that survived the rejection
// checks.
type TokenState int

const (
	// TokenStateActive: claims verified and not expired; the client keeps
	// using its current token.
	TokenStateActive TokenState = iota
	// TokenStateRefreshable: claims expired but the session cache still
	// holds the matching binding; the orchestrator may re-run policy
	// evaluation and mint a replacement.
	TokenStateRefreshable
)

// TokenAssessment is the request validator's verdict for a non-rejected
// token. EncryptedUserID is carried forward from the cached binding only in
// the refreshable state.
type TokenAssessment struct {
	State           TokenState
	BindingKey      string
	EncryptedUserID string
}

// RequestValidator is the per-request state machine for presented tokens.
// It ties signature checking, format checking, blacklist checking, session
// cross-checking, and claim verification together; each rejection path maps
// to exactly one ServiceCode.
type RequestValidator struct {
	verifier  *crypto.Verifier
	tokens    *TokenIssuer
	sessions  *SessionCache
	blacklist *Blacklist
}

// NewRequestValidator wires the validator's collaborators.
func NewRequestValidator(verifier *crypto.Verifier, tokens *TokenIssuer, sessions *SessionCache, blacklist *Blacklist) *RequestValidator {
	return &RequestValidator{
		verifier:  verifier,
		tokens:    tokens,
		sessions:  sessions,
		blacklist: blacklist,
	}
}

// Validate runs the state machine over a validate-access request. It
// returns a TokenAssessment for the two live states, or a *ServiceError for
// every terminal rejection.
func (v *RequestValidator) Validate(req ValidateRequest) (*TokenAssessment, error) {
	// 1. Detached request signature. Failure is terminal, independent of
	//    everything else the request claims.
	digest := crypto.RequestDigest(req.ServiceID, req.ServiceVersion, req.InstanceID, req.Token)
	if !v.verifier.Verify(req.Signature, digest) {
		return nil, NewServiceError(CodeSignatureInvalid, "request signature verification failed")
	}

	// 2. Structural and algorithm checks.
	if err := v.tokens.CheckFormat(req.Token); err != nil {
		return nil, NewServiceError(CodeTokenInvalid, "token format is invalid")
	}

	// 3. A blacklisted token is never resurrected.
	if v.blacklist.Contains(req.Token) {
		return nil, NewServiceError(CodeTokenInvalid, "token has been revoked")
	}

	// 4. Session cross-check: exactly one authoritative token per binding.
	key := BindingKey(req.ServiceID, req.ServiceVersion, req.InstanceID)
	binding, bound := v.sessions.Get(key)
	if bound {
		if binding.Token != req.Token {
			return nil, NewServiceError(CodeTokenInvalid, "token does not match the active session")
		}
		if binding.ServiceID != req.ServiceID ||
			binding.ServiceVersion != req.ServiceVersion ||
			binding.Checksum != req.Checksum {
			return nil, NewServiceError(CodeInvalidRequest, "request context does not match the active session")
		}
	}

	// 5. Claim verification.
	claims, err := v.tokens.Verify(req.Token)
	if errors.Is(err, ErrTokenMalformed) {
		return nil, NewServiceError(CodeTokenInvalid, "token verification failed")
	}

	// Subject mismatch is terminal and is never reinterpreted as expiry.
	if claims.Subject != key {
		return nil, NewServiceError(CodeTokenForbiddenAccess, "token was issued for a different binding")
	}

	if err == nil {
		return &TokenAssessment{State: TokenStateActive, BindingKey: key}, nil
	}

	// Expired. The session cache is the tie-breaker: only the exact token
	// it still holds may be refreshed.
	if bound && binding.Token == req.Token {
		return &TokenAssessment{
			State:           TokenStateRefreshable,
			BindingKey:      key,
			EncryptedUserID: binding.EncryptedUserID,
		}, nil
	}
	return nil, NewServiceError(CodeTokenTooOldForRefresh,
		"token expired and no refreshable session remains; restart from the license key")
}
