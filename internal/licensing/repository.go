package licensing

import (
	"context"

	"licsvc/pkg/contracts/domain"
)

// Repository is the consumer-side view of the directory, the external
// system of record for entitlement data. The production implementation is
// internal/directory.Client; tests substitute fakes.
type Repository interface {
	// GetEntitlement returns the authoritative record for userID.
	GetEntitlement(ctx context.Context, userID string) (*domain.EntitlementRecord, error)

	// RecordUsage binds instanceID to the record and decrements the
	// remaining activation count, returning the mutated record. The cache
	// never performs this mutation on its own.
	RecordUsage(ctx context.Context, userID, instanceID string) (*domain.EntitlementRecord, error)
}
