// Package domain contains the core domain models for the licensing service.
// These types serve as the Single Source of Truth (SSOT) for all layers of
// the application: the directory repository returns them, the caches hold
// immutable snapshots of them, and the policy validator evaluates them.
package domain

import (
	"time"
)

// LicenseStatus represents the status of a user's entitlement
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusInactive  LicenseStatus = "inactive"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

// LicenseTier represents the commercial tier of an entitlement
type LicenseTier string

const (
	LicenseTierBasic        LicenseTier = "basic"
	LicenseTierProfessional LicenseTier = "professional"
	LicenseTierEnterprise   LicenseTier = "enterprise"
)

// ServiceChecksum binds a known-good client binary checksum to the service
// version it was built from. An empty Version means the checksum is accepted
// for any version of the service.
type ServiceChecksum struct {
	Version  string `json:"version,omitempty"`
	Checksum string `json:"checksum"`
}

// EntitlementRecord is the authoritative description of what a user is
// licensed to do. It is owned by the directory repository; everything this
// service holds is an immutable snapshot. RemainingActivations and
// InstanceIDs are only ever mutated together, server-side, through the
// repository's record-usage operation.
type EntitlementRecord struct {
	UserID               string                       `json:"user_id"`
	Tier                 LicenseTier                  `json:"tier"`
	Status               LicenseStatus                `json:"status"`
	ExpiresAt            time.Time                    `json:"expires_at"`
	MaxInstances         int                          `json:"max_instances"`
	RemainingActivations int                          `json:"remaining_activations"`
	InstanceIDs          []string                     `json:"instance_ids"`
	AllowedServices      []string                     `json:"allowed_services"`
	MaxVersions          map[string]string            `json:"max_versions,omitempty"`
	Checksums            map[string][]ServiceChecksum `json:"checksums,omitempty"`
}

// IsExpired reports whether the entitlement has passed its expiration time.
func (r *EntitlementRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HasInstance reports whether instanceID is already bound to this record.
// InstanceIDs carries set semantics; insertion order is irrelevant.
func (r *EntitlementRecord) HasInstance(instanceID string) bool {
	for _, id := range r.InstanceIDs {
		if id == instanceID {
			return true
		}
	}
	return false
}

// AllowsService reports whether serviceID is in the record's allowed set.
func (r *EntitlementRecord) AllowsService(serviceID string) bool {
	for _, id := range r.AllowedServices {
		if id == serviceID {
			return true
		}
	}
	return false
}

// MaxVersionFor returns the licensed version ceiling for a service.
// An absent entry means the record imposes no ceiling.
func (r *EntitlementRecord) MaxVersionFor(serviceID string) (string, bool) {
	v, ok := r.MaxVersions[serviceID]
	return v, ok
}

// ChecksumsFor returns the known-good binary checksums for a service.
func (r *EntitlementRecord) ChecksumsFor(serviceID string) []ServiceChecksum {
	return r.Checksums[serviceID]
}

// Clone returns a deep copy of the record. Cache tiers hand out clones so
// callers can never mutate a cached snapshot in place.
func (r *EntitlementRecord) Clone() *EntitlementRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.InstanceIDs = append([]string(nil), r.InstanceIDs...)
	cp.AllowedServices = append([]string(nil), r.AllowedServices...)
	if r.MaxVersions != nil {
		cp.MaxVersions = make(map[string]string, len(r.MaxVersions))
		for k, v := range r.MaxVersions {
			cp.MaxVersions[k] = v
		}
	}
	if r.Checksums != nil {
		cp.Checksums = make(map[string][]ServiceChecksum, len(r.Checksums))
		for k, v := range r.Checksums {
			cp.Checksums[k] = append([]ServiceChecksum(nil), v...)
		}
	}
	return &cp
}
