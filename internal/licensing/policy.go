package licensing

import (
	"time"

	"github.com/Masterminds/semver/v3"

	"licsvc/pkg/contracts/domain"
)

// ServiceSpec describes one entry of the service catalog: a service this
// deployment knows how to license, and whether clients of it must present a
// binary checksum.
type ServiceSpec struct {
	ID              string
	RequireChecksum bool
}

// PolicyRequest is the request context a policy evaluation runs against.
type PolicyRequest struct {
	ServiceID      string
	ServiceVersion string
	InstanceID     string
	Checksum       string
}

// PolicyDecision is the side-effect instruction attached to a successful
// evaluation. When RecordUsage is set the caller must invoke the
// repository's record-usage operation and write the mutated record back
// into both cache tiers.
type PolicyDecision struct {
	RecordUsage bool
}

// PolicyValidator encodes the entitlement rules. Evaluation is a pure
// function over a record and a request; rules run in a fixed order and the
// first violation wins.
type PolicyValidator struct {
	catalog map[string]ServiceSpec
	now     func() time.Time
}

// NewPolicyValidator builds a validator over the deployment's service
// catalog.
func NewPolicyValidator(services []ServiceSpec) *PolicyValidator {
	catalog := make(map[string]ServiceSpec, len(services))
	for _, s := range services {
		catalog[s.ID] = s
	}
	return &PolicyValidator{catalog: catalog, now: time.Now}
}

// Evaluate applies the rule set. On success it returns whether the caller
// must record usage for the requested instance; on failure it returns the
// first violated rule as a *ServiceError.
func (v *PolicyValidator) Evaluate(record *domain.EntitlementRecord, req PolicyRequest) (*PolicyDecision, error) {
	if record.IsExpired(v.now()) {
		return nil, NewServiceError(CodeLicenseExpired,
			"license expired on %s", record.ExpiresAt.Format(time.RFC3339))
	}

	if record.Status != domain.LicenseStatusActive {
		return nil, NewServiceError(CodeLicenseInactive,
			"license status is %s", record.Status)
	}

	alreadyBound := record.HasInstance(req.InstanceID)
	if record.RemainingActivations <= 0 && !alreadyBound {
		return nil, NewServiceError(CodeLicenseUsageLimitExceeded,
			"activation limit of %d instances reached", record.MaxInstances)
	}

	spec, known := v.catalog[req.ServiceID]
	if !known {
		return nil, NewServiceError(CodeLicenseInvalidServiceID,
			"unknown service id %q", req.ServiceID)
	}
	if !record.AllowsService(req.ServiceID) {
		return nil, NewServiceError(CodeLicenseServiceNotSupported,
			"license does not cover service %q", req.ServiceID)
	}

	checksumVersion, err := v.checkChecksum(record, spec, req)
	if err != nil {
		return nil, err
	}

	if err := v.checkVersion(record, req, checksumVersion); err != nil {
		return nil, err
	}

	return &PolicyDecision{RecordUsage: !alreadyBound}, nil
}

// checkChecksum validates the supplied binary checksum for services that
// require one. It returns the version the matched checksum is bound to, if
// any, so the version rule can detect a client reporting a version
// inconsistent with its binary.
func (v *PolicyValidator) checkChecksum(record *domain.EntitlementRecord, spec ServiceSpec, req PolicyRequest) (string, error) {
	if !spec.RequireChecksum {
		return "", nil
	}
	if req.Checksum == "" {
		return "", NewServiceError(CodeLicenseInvalidChecksum,
			"service %q requires a binary checksum", req.ServiceID)
	}
	for _, known := range record.ChecksumsFor(req.ServiceID) {
		if known.Checksum == req.Checksum {
			return known.Version, nil
		}
	}
	return "", NewServiceError(CodeLicenseInvalidChecksum,
		"checksum not recognized for service %q", req.ServiceID)
}

// checkVersion enforces the semantic-version ceiling and the
// checksum/version coupling.
func (v *PolicyValidator) checkVersion(record *domain.EntitlementRecord, req PolicyRequest, checksumVersion string) error {
	requested, err := semver.StrictNewVersion(req.ServiceVersion)
	if err != nil {
		return NewServiceError(CodeInvalidVersionFormat,
			"service version %q is not a valid major.minor.patch version", req.ServiceVersion)
	}

	if maxRaw, ok := record.MaxVersionFor(req.ServiceID); ok {
		// A record-side ceiling that does not parse imposes no ceiling.
		if max, err := semver.NewVersion(maxRaw); err == nil {
			if requested.GreaterThan(max) {
				return NewServiceError(CodeLicenseVersionNotSupported,
					"version %s exceeds licensed maximum %s", req.ServiceVersion, maxRaw)
			}
		}
	}

	// A checksum bound to a specific version pins the request to exactly
	// that version.
	if checksumVersion != "" && req.ServiceVersion != checksumVersion {
		return NewServiceError(CodeLicenseVersionNotSupported,
			"version %s does not match the version %s associated with the supplied checksum",
			req.ServiceVersion, checksumVersion)
	}

	return nil
}
