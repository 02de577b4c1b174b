package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googlePublisherURL    = "https://androidpublisher.googleapis.com"
	androidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"
)

// GooglePlayClient looks up subscription purchases with the Google Play Developer API v3
type GooglePlayClient struct {
	packageName string
	baseURL     string
	httpClient  *http.Client
}

// NewGooglePlayClient authenticates with a service account key
func NewGooglePlayClient(ctx context.Context, packageName, serviceAccountJSON string, timeout time.Duration) (*GooglePlayClient, error) {
	if packageName == "" {
		return nil, fmt.Errorf("google play package name is required")
	}

	creds, err := google.CredentialsFromJSON(ctx, []byte(serviceAccountJSON), androidPublisherScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load google service account: %w", err)
	}

	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	httpClient.Timeout = timeout

	return NewGooglePlayClientWithHTTP(packageName, googlePublisherURL, httpClient), nil
}

// NewGooglePlayClientWithHTTP uses an already authenticated client
func NewGooglePlayClientWithHTTP(packageName, baseURL string, httpClient *http.Client) *GooglePlayClient {
	return &GooglePlayClient{
		packageName: packageName,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
	}
}

// googleSubscriptionPurchase is the purchases.subscriptions resource; times are unix millis as strings
type googleSubscriptionPurchase struct {
	StartTimeMillis  string `json:"startTimeMillis"`
	ExpiryTimeMillis string `json:"expiryTimeMillis"`
	OrderID          string `json:"orderId"`
	PaymentState     *int   `json:"paymentState"`
	PurchaseType     *int   `json:"purchaseType"`
}

// Lookup resolves a purchase token for the subscription productID
func (c *GooglePlayClient) Lookup(ctx context.Context, purchaseToken, productID string) (*StorePurchase, error) {
	endpoint := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		c.baseURL, url.PathEscape(c.packageName), url.PathEscape(productID), url.PathEscape(purchaseToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build google play request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A token endpoint refusing our credentials will not recover on retry
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return nil, fmt.Errorf("google oauth token request rejected: %w", err)
		}
		return nil, storeUnavailable(models.PlatformGoogle, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, storeUnavailable(models.PlatformGoogle, err, "failed to read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, invalidReceipt(models.PlatformGoogle, "store rejected purchase token (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("google play api rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, storeUnavailable(models.PlatformGoogle, nil, "status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected google play api status %d", resp.StatusCode)
	}

	var purchase googleSubscriptionPurchase
	if err := json.Unmarshal(body, &purchase); err != nil {
		return nil, fmt.Errorf("malformed google play response: %w", err)
	}

	expiryMillis, err := strconv.ParseInt(purchase.ExpiryTimeMillis, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed google play expiry %q", purchase.ExpiryTimeMillis)
	}

	// paymentState 0 is a pending payment
	if purchase.PaymentState != nil && *purchase.PaymentState == 0 {
		return nil, invalidReceipt(models.PlatformGoogle, "payment pending")
	}

	result := &StorePurchase{
		ProductID:             productID,
		TransactionID:         purchase.OrderID,
		OriginalTransactionID: baseOrderID(purchase.OrderID),
		PurchaseToken:         purchaseToken,
		Environment:           "production",
		ExpiresAt:             time.UnixMilli(expiryMillis).UTC(),
	}
	if result.TransactionID == "" {
		result.TransactionID = purchaseToken
		result.OriginalTransactionID = purchaseToken
	}
	if purchase.PurchaseType != nil && *purchase.PurchaseType == 0 {
		result.Environment = "sandbox"
	}
	if startMillis, err := strconv.ParseInt(purchase.StartTimeMillis, 10, 64); err == nil {
		started := time.UnixMilli(startMillis).UTC()
		result.PurchasedAt = &started
	}
	return result, nil
}

// baseOrderID strips the renewal suffix: GPA.1234-5678..3 -> GPA.1234-5678
func baseOrderID(orderID string) string {
	if i := strings.Index(orderID, ".."); i >= 0 {
		return orderID[:i]
	}
	return orderID
}
