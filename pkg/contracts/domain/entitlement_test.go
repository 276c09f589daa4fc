package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *EntitlementRecord {
	return &EntitlementRecord{
		UserID:               "user-42",
		Tier:                 LicenseTierProfessional,
		Status:               LicenseStatusActive,
		ExpiresAt:            time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		MaxInstances:         3,
		RemainingActivations: 2,
		InstanceIDs:          []string{"instance-a"},
		AllowedServices:      []string{"svc-analytics"},
		MaxVersions:          map[string]string{"svc-analytics": "2.4.9"},
		Checksums: map[string][]ServiceChecksum{
			"svc-analytics": {{Version: "2.4.0", Checksum: "sha256:abc"}},
		},
	}
}

func TestEntitlementRecord_IsExpired(t *testing.T) {
	record := sampleRecord()
	assert.False(t, record.IsExpired(record.ExpiresAt.Add(-time.Second)))
	assert.False(t, record.IsExpired(record.ExpiresAt), "not expired at the exact instant")
	assert.True(t, record.IsExpired(record.ExpiresAt.Add(time.Second)))
}

func TestEntitlementRecord_Membership(t *testing.T) {
	record := sampleRecord()

	assert.True(t, record.HasInstance("instance-a"))
	assert.False(t, record.HasInstance("instance-b"))

	assert.True(t, record.AllowsService("svc-analytics"))
	assert.False(t, record.AllowsService("svc-other"))

	max, ok := record.MaxVersionFor("svc-analytics")
	require.True(t, ok)
	assert.Equal(t, "2.4.9", max)
	_, ok = record.MaxVersionFor("svc-other")
	assert.False(t, ok)

	assert.Len(t, record.ChecksumsFor("svc-analytics"), 1)
	assert.Empty(t, record.ChecksumsFor("svc-other"))
}

func TestEntitlementRecord_Clone(t *testing.T) {
	t.Run("nil clones to nil", func(t *testing.T) {
		var record *EntitlementRecord
		assert.Nil(t, record.Clone())
	})

	t.Run("clone is isolated from the original", func(t *testing.T) {
		original := sampleRecord()
		clone := original.Clone()

		clone.InstanceIDs[0] = "tampered"
		clone.AllowedServices = append(clone.AllowedServices, "svc-extra")
		clone.MaxVersions["svc-analytics"] = "9.9.9"
		clone.Checksums["svc-analytics"][0].Checksum = "sha256:evil"

		assert.Equal(t, "instance-a", original.InstanceIDs[0])
		assert.Len(t, original.AllowedServices, 1)
		assert.Equal(t, "2.4.9", original.MaxVersions["svc-analytics"])
		assert.Equal(t, "sha256:abc", original.Checksums["svc-analytics"][0].Checksum)
	})
}
