package models

// AppStoreNotificationWrapper is the outer body of an App Store Server Notification V2.
// Apple sends the notification as a JWS in signedPayload.
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// AppStoreNotification is the decoded signedPayload
type AppStoreNotification struct {
	NotificationType string           `json:"notificationType"` // e.g. "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	SignedDate       int64            `json:"signedDate"` // unix millis
	Data             NotificationData `json:"data"`
}

// NotificationData is the data block of an App Store notification
type NotificationData struct {
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}

// AppleTransaction is the decoded JWSTransaction returned by the App Store Server API
// and embedded in notifications. Dates are unix millis.
type AppleTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	Type                  string `json:"type"`
	Environment           string `json:"environment"`
}

// GooglePushEnvelope is the Pub/Sub push body carrying a Play real-time developer notification
type GooglePushEnvelope struct {
	Message struct {
		Data      string `json:"data"` // base64 encoded DeveloperNotification
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GoogleDeveloperNotification is the decoded Pub/Sub message data
type GoogleDeveloperNotification struct {
	Version                  string                          `json:"version"`
	PackageName              string                          `json:"packageName"`
	EventTimeMillis          string                          `json:"eventTimeMillis"`
	SubscriptionNotification *GoogleSubscriptionNotification `json:"subscriptionNotification,omitempty"`
}

// GoogleSubscriptionNotification reports a subscription state change
type GoogleSubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"` // 1=RECOVERED, 2=RENEWED, 3=CANCELED, ...
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

// Google Play subscription notification types
const (
	GoogleSubscriptionRecovered            = 1
	GoogleSubscriptionRenewed              = 2
	GoogleSubscriptionCanceled             = 3
	GoogleSubscriptionPurchased            = 4
	GoogleSubscriptionOnHold               = 5
	GoogleSubscriptionInGracePeriod        = 6
	GoogleSubscriptionRestarted            = 7
	GoogleSubscriptionPriceChangeConfirmed = 8
	GoogleSubscriptionDeferred             = 9
	GoogleSubscriptionPaused               = 10
	GoogleSubscriptionPauseScheduleChanged = 11
	GoogleSubscriptionRevoked              = 12
	GoogleSubscriptionExpired              = 13
)
