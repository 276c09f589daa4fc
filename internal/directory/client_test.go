package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsvc/pkg/contracts/domain"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		APIKey:       "test-api-key",
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func entitlementJSON() []byte {
	record := domain.EntitlementRecord{
		UserID:               "user-42",
		Tier:                 domain.LicenseTierBasic,
		Status:               domain.LicenseStatusActive,
		ExpiresAt:            time.Now().Add(24 * time.Hour).UTC(),
		MaxInstances:         2,
		RemainingActivations: 2,
		AllowedServices:      []string{"svc-analytics"},
	}
	body, _ := json.Marshal(record)
	return body
}

func TestClient_GetEntitlement(t *testing.T) {
	t.Run("decodes a healthy record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/users/user-42/entitlement", r.URL.Path)
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(entitlementJSON())
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		record, err := client.GetEntitlement(context.Background(), "user-42")
		require.NoError(t, err)
		assert.Equal(t, "user-42", record.UserID)
		assert.Equal(t, domain.LicenseStatusActive, record.Status)
	})

	t.Run("escapes the user id in the path", func(t *testing.T) {
		var gotPath atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath.Store(r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user/41")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, "/v1/users/user%2F41/entitlement", gotPath.Load())
	})

	t.Run("maps error statuses", func(t *testing.T) {
		tests := []struct {
			name    string
			status  int
			body    string
			check   func(t *testing.T, err error)
		}{
			{
				name:   "404 is not found",
				status: http.StatusNotFound,
				check: func(t *testing.T, err error) {
					assert.ErrorIs(t, err, ErrNotFound)
				},
			},
			{
				name:   "409 is usage exceeded",
				status: http.StatusConflict,
				check: func(t *testing.T, err error) {
					assert.ErrorIs(t, err, ErrUsageExceeded)
				},
			},
			{
				name:   "422 with missing-attribute code",
				status: http.StatusUnprocessableEntity,
				body:   `{"code":"ATTRIBUTE_MISSING","message":"expires_at absent"}`,
				check: func(t *testing.T, err error) {
					assert.ErrorIs(t, err, ErrAttributeMissing)
					assert.Contains(t, err.Error(), "expires_at absent")
				},
			},
			{
				name:   "422 otherwise is invalid attribute",
				status: http.StatusUnprocessableEntity,
				body:   `{"code":"ATTRIBUTE_INVALID","message":"expires_at unparseable"}`,
				check: func(t *testing.T, err error) {
					assert.ErrorIs(t, err, ErrAttributeInvalid)
				},
			},
			{
				name:   "teapot is connection-class",
				status: http.StatusTeapot,
				check: func(t *testing.T, err error) {
					assert.True(t, IsConnectionError(err))
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					if tt.body != "" {
						_, _ = w.Write([]byte(tt.body))
					}
				}))
				defer srv.Close()

				client, err := NewClient(testConfig(srv.URL), nil)
				require.NoError(t, err)

				_, err = client.GetEntitlement(context.Background(), "user-42")
				require.Error(t, err)
				tt.check(t, err)
			})
		}
	})

	t.Run("retries transient 5xx then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write(entitlementJSON())
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		record, err := client.GetEntitlement(context.Background(), "user-42")
		require.NoError(t, err)
		assert.Equal(t, "user-42", record.UserID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does not retry business errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user-42")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("exhausted retries surface a connection error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user-42")
		assert.True(t, IsConnectionError(err), "got %v", err)
	})

	t.Run("unreachable directory is a connection error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close() // nothing listens anymore

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user-42")
		assert.True(t, IsConnectionError(err), "got %v", err)
	})

	t.Run("record missing required attributes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"user_id":"user-42"}`))
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user-42")
		assert.ErrorIs(t, err, ErrAttributeMissing)
	})

	t.Run("undecodable body is an invalid attribute", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"user_id": 42`))
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = client.GetEntitlement(context.Background(), "user-42")
		assert.ErrorIs(t, err, ErrAttributeInvalid)
	})
}

func TestClient_RecordUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/users/user-42/usage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req usageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "instance-0001", req.InstanceID)

		_, _ = w.Write(entitlementJSON())
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	record, err := client.RecordUsage(context.Background(), "user-42", "instance-0001")
	require.NoError(t, err)
	assert.Equal(t, "user-42", record.UserID)
}

func TestClient_Ping(t *testing.T) {
	t.Run("healthy directory", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/healthz", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("unhealthy directory", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client, err := NewClient(testConfig(srv.URL), nil)
		require.NoError(t, err)
		assert.True(t, IsConnectionError(client.Ping(context.Background())))
	})
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(testConfig("://not-a-url"), nil)
	assert.Error(t, err)
}

func TestConnectionError(t *testing.T) {
	inner := context.DeadlineExceeded
	err := &ConnectionError{Op: "get entitlement", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "get entitlement")
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsConnectionError(ErrNotFound))
	assert.False(t, IsConnectionError(nil))
}
