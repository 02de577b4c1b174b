package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testECKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func signJWS(t *testing.T, key *ecdsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func appleTransactionClaims(transactionID string, expiresAt time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"transactionId":         transactionID,
		"originalTransactionId": "1000",
		"bundleId":              "com.knowit.app",
		"productId":             "com.knowit.student",
		"purchaseDate":          expiresAt.Add(-30 * 24 * time.Hour).UnixMilli(),
		"expiresDate":           expiresAt.UnixMilli(),
		"type":                  "Auto-Renewable Subscription",
		"environment":           "Sandbox",
	}
}

// fakeAppStore serves /inApps/v1/transactions/{id} with a fixed status per environment
type fakeAppStore struct {
	mu       sync.Mutex
	requests []string
	auth     []string
}

func (f *fakeAppStore) handler(t *testing.T, status int, signed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"signedTransactionInfo": signed})
	}
}

func newTestAppleClient(t *testing.T, pemKey, productionURL, sandboxURL string) *AppleStoreClient {
	t.Helper()

	client, err := NewAppleStoreClient(AppleConfig{
		BundleID:      "com.knowit.app",
		IssuerID:      "issuer-1",
		KeyID:         "KEY123",
		PrivateKey:    pemKey,
		Environment:   "production",
		ProductionURL: productionURL,
		SandboxURL:    sandboxURL,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestAppleLookupFallsBackToSandbox(t *testing.T) {
	key, pemKey := testECKey(t)
	expires := time.Now().Add(24 * time.Hour).Truncate(time.Millisecond).UTC()
	signed := signJWS(t, key, appleTransactionClaims("2000", expires))

	production := &fakeAppStore{}
	prodServer := httptest.NewServer(production.handler(t, http.StatusNotFound, ""))
	defer prodServer.Close()
	sandbox := &fakeAppStore{}
	sandboxServer := httptest.NewServer(sandbox.handler(t, http.StatusOK, signed))
	defer sandboxServer.Close()

	client := newTestAppleClient(t, pemKey, prodServer.URL, sandboxServer.URL)

	purchase, err := client.Lookup(context.Background(), "2000", "com.knowit.student")
	require.NoError(t, err)
	assert.Equal(t, "2000", purchase.TransactionID)
	assert.Equal(t, "1000", purchase.OriginalTransactionID)
	assert.Equal(t, "com.knowit.student", purchase.ProductID)
	assert.Equal(t, "sandbox", purchase.Environment)
	assert.True(t, expires.Equal(purchase.ExpiresAt))
	require.NotNil(t, purchase.PurchasedAt)
	assert.False(t, purchase.Revoked)

	assert.Equal(t, []string{"/inApps/v1/transactions/2000"}, production.requests)
	assert.Equal(t, []string{"/inApps/v1/transactions/2000"}, sandbox.requests)
}

func TestAppleLookupSignsRequests(t *testing.T) {
	key, pemKey := testECKey(t)
	signed := signJWS(t, key, appleTransactionClaims("2000", time.Now().Add(time.Hour)))

	store := &fakeAppStore{}
	server := httptest.NewServer(store.handler(t, http.StatusOK, signed))
	defer server.Close()

	// Keys pasted into env files often carry escaped newlines
	client := newTestAppleClient(t, strings.ReplaceAll(pemKey, "\n", `\n`), server.URL, server.URL)

	_, err := client.Lookup(context.Background(), "2000", "com.knowit.student")
	require.NoError(t, err)
	require.Len(t, store.auth, 1)
	require.True(t, strings.HasPrefix(store.auth[0], "Bearer "))

	token, err := jwt.Parse(strings.TrimPrefix(store.auth[0], "Bearer "), func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience("appstoreconnect-v1"), jwt.WithIssuer("issuer-1"))
	require.NoError(t, err)
	assert.Equal(t, "KEY123", token.Header["kid"])

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "com.knowit.app", claims["bid"])
}

func TestAppleLookupStatusMapping(t *testing.T) {
	_, pemKey := testECKey(t)

	tests := []struct {
		status       int
		want         error
		verification bool
	}{
		{status: http.StatusBadRequest, want: ErrInvalidReceipt, verification: true},
		{status: http.StatusNotFound, want: ErrInvalidReceipt, verification: true},
		{status: http.StatusTooManyRequests, want: ErrStoreUnavailable, verification: true},
		{status: http.StatusInternalServerError, want: ErrStoreUnavailable, verification: true},
		{status: http.StatusServiceUnavailable, want: ErrStoreUnavailable, verification: true},
		{status: http.StatusUnauthorized},
		{status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer((&fakeAppStore{}).handler(t, tt.status, ""))
			defer server.Close()

			client := newTestAppleClient(t, pemKey, server.URL, server.URL)
			_, err := client.Lookup(context.Background(), "2000", "com.knowit.student")
			require.Error(t, err)

			if tt.verification {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			assert.NotErrorIs(t, err, ErrInvalidReceipt)
			assert.NotErrorIs(t, err, ErrStoreUnavailable)
		})
	}
}

func TestAppleLookupUnreachableStore(t *testing.T) {
	_, pemKey := testECKey(t)
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := newTestAppleClient(t, pemKey, url, url)
	_, err := client.Lookup(context.Background(), "2000", "com.knowit.student")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAppleLookupRejectsTransaction(t *testing.T) {
	key, pemKey := testECKey(t)
	expires := time.Now().Add(time.Hour)

	foreign := appleTransactionClaims("2000", expires)
	foreign["bundleId"] = "com.someone.else"

	revoked := appleTransactionClaims("2000", expires)
	revoked["revocationDate"] = time.Now().UnixMilli()

	consumable := appleTransactionClaims("2000", expires)
	delete(consumable, "expiresDate")

	t.Run("foreign bundle", func(t *testing.T) {
		server := httptest.NewServer((&fakeAppStore{}).handler(t, http.StatusOK, signJWS(t, key, foreign)))
		defer server.Close()

		_, err := newTestAppleClient(t, pemKey, server.URL, server.URL).Lookup(context.Background(), "2000", "com.knowit.student")
		assert.ErrorIs(t, err, ErrInvalidReceipt)
	})

	t.Run("not a subscription", func(t *testing.T) {
		server := httptest.NewServer((&fakeAppStore{}).handler(t, http.StatusOK, signJWS(t, key, consumable)))
		defer server.Close()

		_, err := newTestAppleClient(t, pemKey, server.URL, server.URL).Lookup(context.Background(), "2000", "com.knowit.student")
		assert.ErrorIs(t, err, ErrInvalidReceipt)
	})

	t.Run("revoked", func(t *testing.T) {
		server := httptest.NewServer((&fakeAppStore{}).handler(t, http.StatusOK, signJWS(t, key, revoked)))
		defer server.Close()

		purchase, err := newTestAppleClient(t, pemKey, server.URL, server.URL).Lookup(context.Background(), "2000", "com.knowit.student")
		require.NoError(t, err)
		assert.True(t, purchase.Revoked)
	})
}

func TestAppleTransactionID(t *testing.T) {
	key, _ := testECKey(t)
	signed := signJWS(t, key, appleTransactionClaims("2000", time.Now()))

	id, err := appleTransactionID("123456789")
	require.NoError(t, err)
	assert.Equal(t, "123456789", id)

	id, err = appleTransactionID(signed)
	require.NoError(t, err)
	assert.Equal(t, "2000", id)

	for _, bad := range []string{"", "abc", "12a4", "x.y.z", strings.Repeat("1", 65)} {
		_, err := appleTransactionID(bad)
		assert.ErrorIs(t, err, ErrInvalidReceipt, "receipt %q", bad)
	}
}

func TestNewAppleStoreClientValidatesKey(t *testing.T) {
	_, err := NewAppleStoreClient(AppleConfig{IssuerID: "i", KeyID: "k"}, nil)
	assert.Error(t, err)

	_, err = NewAppleStoreClient(AppleConfig{IssuerID: "i", KeyID: "k", PrivateKey: "not a key"}, nil)
	assert.Error(t, err)
}

func TestDecodeAppleTransaction(t *testing.T) {
	key, _ := testECKey(t)
	expires := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	tx, err := DecodeAppleTransaction(signJWS(t, key, appleTransactionClaims("2000", expires)))
	require.NoError(t, err)
	assert.Equal(t, "2000", tx.TransactionID)
	assert.Equal(t, expires.UnixMilli(), tx.ExpiresDate)
	assert.Zero(t, tx.RevocationDate)

	_, err = DecodeAppleTransaction("garbage")
	assert.Error(t, err)
}
