package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appleProductionURL = "https://api.storekit.itunes.apple.com"
	appleSandboxURL    = "https://api.storekit-sandbox.itunes.apple.com"
)

// errAppleTransactionNotFound marks a 404, which in production may mean a sandbox purchase
var errAppleTransactionNotFound = errors.New("transaction not found")

// AppleConfig holds App Store Server API credentials
type AppleConfig struct {
	BundleID    string
	IssuerID    string
	KeyID       string
	PrivateKey  string // PKCS#8 PEM, literal \n sequences allowed
	Environment string // production or sandbox

	// Overrides for tests
	ProductionURL string
	SandboxURL    string
}

// AppleStoreClient looks up transactions with the App Store Server API v1
type AppleStoreClient struct {
	cfg        AppleConfig
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// NewAppleStoreClient creates a client signing its requests with the ES256 key in cfg
func NewAppleStoreClient(cfg AppleConfig, httpClient *http.Client) (*AppleStoreClient, error) {
	if cfg.IssuerID == "" || cfg.KeyID == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("apple issuer id, key id and private key are required")
	}

	pem := strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("failed to parse apple private key: %w", err)
	}

	if cfg.ProductionURL == "" {
		cfg.ProductionURL = appleProductionURL
	}
	if cfg.SandboxURL == "" {
		cfg.SandboxURL = appleSandboxURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &AppleStoreClient{
		cfg:        cfg,
		key:        key,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Lookup resolves receiptData, a transaction id or a signed StoreKit transaction,
// with the App Store. A production miss is retried once against the sandbox.
func (c *AppleStoreClient) Lookup(ctx context.Context, receiptData, productID string) (*StorePurchase, error) {
	transactionID, err := appleTransactionID(receiptData)
	if err != nil {
		return nil, err
	}

	if c.cfg.Environment == "sandbox" {
		return c.fetch(ctx, c.cfg.SandboxURL, transactionID)
	}

	purchase, err := c.fetch(ctx, c.cfg.ProductionURL, transactionID)
	if errors.Is(err, errAppleTransactionNotFound) {
		logging.Infof("Transaction %s not found in production, retrying with sandbox", transactionID)
		return c.fetch(ctx, c.cfg.SandboxURL, transactionID)
	}
	return purchase, err
}

func (c *AppleStoreClient) fetch(ctx context.Context, baseURL, transactionID string) (*StorePurchase, error) {
	token, err := c.authToken()
	if err != nil {
		return nil, err
	}

	endpoint := baseURL + "/inApps/v1/transactions/" + url.PathEscape(transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build apple request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, storeUnavailable(models.PlatformApple, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, storeUnavailable(models.PlatformApple, err, "failed to read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, &VerificationError{Kind: ErrInvalidReceipt, Platform: models.PlatformApple, Message: "unknown transaction", Err: errAppleTransactionNotFound}
	case resp.StatusCode == http.StatusBadRequest:
		return nil, invalidReceipt(models.PlatformApple, "store rejected transaction id")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("apple store api rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, storeUnavailable(models.PlatformApple, nil, "status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected apple store api status %d", resp.StatusCode)
	}

	var payload struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.SignedTransactionInfo == "" {
		return nil, fmt.Errorf("malformed apple transaction response")
	}

	// Received directly from Apple over TLS, so the JWS signature is not re-checked
	tx, err := DecodeAppleTransaction(payload.SignedTransactionInfo)
	if err != nil {
		return nil, fmt.Errorf("malformed apple transaction response: %w", err)
	}

	if c.cfg.BundleID != "" && tx.BundleID != c.cfg.BundleID {
		return nil, invalidReceipt(models.PlatformApple, "transaction belongs to bundle %q", tx.BundleID)
	}
	if tx.ExpiresDate == 0 {
		return nil, invalidReceipt(models.PlatformApple, "transaction is not a subscription")
	}

	purchasedAt := time.UnixMilli(tx.PurchaseDate).UTC()
	return &StorePurchase{
		ProductID:             tx.ProductID,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		Environment:           strings.ToLower(tx.Environment),
		ExpiresAt:             time.UnixMilli(tx.ExpiresDate).UTC(),
		PurchasedAt:           &purchasedAt,
		Revoked:               tx.RevocationDate > 0,
	}, nil
}

// authToken signs the short-lived ES256 token the App Store Server API expects
func (c *AppleStoreClient) authToken() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.cfg.IssuerID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": c.cfg.BundleID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.cfg.KeyID

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign apple api token: %w", err)
	}
	return signed, nil
}

// DecodeAppleTransaction reads the payload of a JWSTransaction without checking its signature
func DecodeAppleTransaction(jws string) (*models.AppleTransaction, error) {
	var tx models.AppleTransaction
	if err := decodeJWSPayload(jws, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// decodeJWSPayload unmarshals the claims of a compact JWS into v
func decodeJWSPayload(jws string, v interface{}) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(jws, claims); err != nil {
		return fmt.Errorf("failed to parse JWS: %w", err)
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// appleTransactionID accepts a numeric transaction id or a signed transaction from StoreKit 2
func appleTransactionID(receiptData string) (string, error) {
	if strings.Count(receiptData, ".") == 2 {
		tx, err := DecodeAppleTransaction(receiptData)
		if err != nil {
			return "", invalidReceipt(models.PlatformApple, "malformed signed transaction")
		}
		receiptData = tx.TransactionID
	}

	if receiptData == "" || len(receiptData) > 64 {
		return "", invalidReceipt(models.PlatformApple, "malformed transaction id")
	}
	for _, r := range receiptData {
		if r < '0' || r > '9' {
			return "", invalidReceipt(models.PlatformApple, "malformed transaction id")
		}
	}
	return receiptData, nil
}
