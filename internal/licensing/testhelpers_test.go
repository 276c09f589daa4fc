package licensing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"licsvc/internal/crypto"
	"licsvc/internal/directory"
	"licsvc/pkg/contracts/domain"
)

const (
	testUserID     = "user-42"
	testServiceID  = "svc-analytics"
	testServiceCk  = "svc-desktop"
	testInstanceID = "instance-0001"
	testVersion    = "2.4.0"
	testChecksum   = "sha256:feedface"
)

// fakeRepo is an in-memory directory repository.
type fakeRepo struct {
	mu         sync.Mutex
	records    map[string]*domain.EntitlementRecord
	getErr     error
	usageErr   error
	getCalls   int
	usageCalls int
}

func newFakeRepo(records ...*domain.EntitlementRecord) *fakeRepo {
	m := make(map[string]*domain.EntitlementRecord, len(records))
	for _, r := range records {
		m[r.UserID] = r
	}
	return &fakeRepo{records: m}
}

func (f *fakeRepo) GetEntitlement(_ context.Context, userID string) (*domain.EntitlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.records[userID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return record.Clone(), nil
}

func (f *fakeRepo) RecordUsage(_ context.Context, userID, instanceID string) (*domain.EntitlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCalls++
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	record, ok := f.records[userID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	if record.HasInstance(instanceID) {
		return record.Clone(), nil
	}
	if record.RemainingActivations <= 0 {
		return nil, directory.ErrUsageExceeded
	}
	record.RemainingActivations--
	record.InstanceIDs = append(record.InstanceIDs, instanceID)
	return record.Clone(), nil
}

func (f *fakeRepo) calls() (gets, usages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.usageCalls
}

// testRecord returns an active entitlement for testUserID covering both
// catalog services.
func testRecord() *domain.EntitlementRecord {
	return &domain.EntitlementRecord{
		UserID:               testUserID,
		Tier:                 domain.LicenseTierProfessional,
		Status:               domain.LicenseStatusActive,
		ExpiresAt:            time.Now().Add(30 * 24 * time.Hour),
		MaxInstances:         3,
		RemainingActivations: 3,
		AllowedServices:      []string{testServiceID, testServiceCk},
		MaxVersions: map[string]string{
			testServiceID: "2.4.9",
		},
		Checksums: map[string][]domain.ServiceChecksum{
			testServiceCk: {
				{Version: "1.5.0", Checksum: testChecksum},
				{Checksum: "sha256:anyversion"},
			},
		},
	}
}

// testCatalog mirrors the deployment catalog the policy validator runs
// against.
func testCatalog() []ServiceSpec {
	return []ServiceSpec{
		{ID: testServiceID},
		{ID: testServiceCk, RequireChecksum: true},
	}
}

// testFixture wires a full orchestrator over the fake repository.
type testFixture struct {
	service   *Service
	repo      *fakeRepo
	codec     *crypto.KeyCodec
	signer    *crypto.Signer
	sessions  *SessionCache
	blacklist *Blacklist
	records   *RecordCache
	tokens    *TokenIssuer
	pool      *RefreshPool
}

func newTestFixture(t *testing.T, repo *fakeRepo) *testFixture {
	t.Helper()

	codec, err := crypto.NewKeyCodec("fixture-secret", []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	clientPub, clientPriv, err := crypto.GenerateSigningKeys()
	require.NoError(t, err)
	_, signingKey, err := crypto.GenerateSigningKeys()
	require.NoError(t, err)

	tokens, err := NewTokenIssuer(signingKey, "licsvc-test", time.Hour, 0)
	require.NoError(t, err)

	pool := NewRefreshPool(2, 8, nil)
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(time.Second) })

	records := NewRecordCache(RecordCacheConfig{
		OnlineTTL:  time.Minute,
		OfflineTTL: 24 * time.Hour,
		MaxEntries: 128,
	}, repo, pool, nil, nil)

	sessions := NewSessionCache(128, time.Hour)
	blacklist := NewBlacklist(128, time.Hour)

	verifier := crypto.NewVerifier(clientPub)
	service := NewService(ServiceDeps{
		Codec:     codec,
		Verifier:  verifier,
		Tokens:    tokens,
		Sessions:  sessions,
		Blacklist: blacklist,
		Records:   records,
		Repo:      repo,
		Policy:    NewPolicyValidator(testCatalog()),
	})

	return &testFixture{
		service:   service,
		repo:      repo,
		codec:     codec,
		signer:    crypto.NewSigner(clientPriv),
		sessions:  sessions,
		blacklist: blacklist,
		records:   records,
		tokens:    tokens,
		pool:      pool,
	}
}

// licenseKey builds a signed-for license key ciphertext for userID.
func (f *testFixture) licenseKey(t *testing.T, userID string) string {
	t.Helper()
	key, err := crypto.BuildLicenseKey(f.codec, userID)
	require.NoError(t, err)
	return key
}

// signedIssue builds an IssueRequest with a valid detached signature.
func (f *testFixture) signedIssue(t *testing.T, licenseKey string, mutate ...func(*IssueRequest)) IssueRequest {
	t.Helper()
	req := IssueRequest{
		LicenseKey:     licenseKey,
		InstanceID:     testInstanceID,
		ServiceID:      testServiceID,
		ServiceVersion: testVersion,
	}
	for _, m := range mutate {
		m(&req)
	}
	digest := crypto.RequestDigest(req.ServiceID, req.ServiceVersion, req.InstanceID, req.LicenseKey)
	req.Signature = f.signer.Sign(digest)
	return req
}

// signedValidate builds a ValidateRequest with a valid detached signature.
func (f *testFixture) signedValidate(t *testing.T, token string, mutate ...func(*ValidateRequest)) ValidateRequest {
	t.Helper()
	req := ValidateRequest{
		ServiceID:      testServiceID,
		ServiceVersion: testVersion,
		InstanceID:     testInstanceID,
		Token:          token,
	}
	for _, m := range mutate {
		m(&req)
	}
	digest := crypto.RequestDigest(req.ServiceID, req.ServiceVersion, req.InstanceID, req.Token)
	req.Signature = f.signer.Sign(digest)
	return req
}

// expireToken replaces the session snapshot's token with one that is
// already expired, simulating the natural passage of time for the binding.
func (f *testFixture) expireToken(t *testing.T, bindingKey string) string {
	t.Helper()
	binding, ok := f.sessions.Get(bindingKey)
	require.True(t, ok, "binding must exist before it can be expired")

	expiredIssuer, err := NewTokenIssuer(f.tokens.priv, "licsvc-test", time.Nanosecond, 0)
	require.NoError(t, err)
	expired, err := expiredIssuer.Issue(bindingKey, domain.LicenseTierProfessional, domain.LicenseStatusActive, accessGrantedMessage)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	binding.Token = expired
	f.sessions.Put(bindingKey, binding)
	return expired
}

// requireServiceError asserts err is a *ServiceError with the given code.
func requireServiceError(t *testing.T, err error, code ServiceCode) *ServiceError {
	t.Helper()
	require.Error(t, err)
	se, ok := err.(*ServiceError)
	require.True(t, ok, "expected *ServiceError, got %T: %v", err, err)
	require.Equal(t, code, se.Code, "unexpected outcome code: %v", err)
	return se
}
