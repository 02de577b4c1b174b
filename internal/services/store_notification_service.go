package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"
)

// ErrMalformedNotification means a notification body could not be decoded
var ErrMalformedNotification = errors.New("malformed store notification")

// Actions taken for a store notification
const (
	ActionActivated   = "activated"
	ActionCancelled   = "cancelled"
	ActionGracePeriod = "grace_period"
	ActionExpired     = "expired"
	ActionIgnored     = "ignored"
	ActionDuplicate   = "duplicate"
	ActionUnknownUser = "unknown_user"
	ActionHeartbeat   = "heartbeat"
)

// NotificationOutcome reports what a notification changed
type NotificationOutcome struct {
	Action string
	UserID string
}

// StoreNotificationService turns store server notifications into subscription state changes.
// Renewals are re-verified with the store before they activate anything.
type StoreNotificationService struct {
	subscriptions     *SubscriptionService
	replay            *ReplayProtection
	appleBundleID     string
	googlePackageName string

	// decodeApple reads App Store JWS payloads; signatures are checked once a verifier is set
	decodeApple func(jws string, v interface{}) error
}

// NewStoreNotificationService creates a new store notification service
func NewStoreNotificationService(subscriptions *SubscriptionService, replay *ReplayProtection, appleBundleID, googlePackageName string) *StoreNotificationService {
	return &StoreNotificationService{
		subscriptions:     subscriptions,
		replay:            replay,
		appleBundleID:     appleBundleID,
		googlePackageName: googlePackageName,
		decodeApple:       decodeJWSPayload,
	}
}

// WithAppleVerifier rejects App Store notifications whose signature does not chain to a trusted root
func (s *StoreNotificationService) WithAppleVerifier(v *AppleJWSVerifier) *StoreNotificationService {
	s.decodeApple = v.Decode
	return s
}

// HandleApple processes an App Store Server Notification V2 body
func (s *StoreNotificationService) HandleApple(ctx context.Context, body []byte) (NotificationOutcome, error) {
	var wrapper models.AppStoreNotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.SignedPayload == "" {
		return NotificationOutcome{}, fmt.Errorf("%w: missing signedPayload", ErrMalformedNotification)
	}

	var notification models.AppStoreNotification
	if err := s.decodeApple(wrapper.SignedPayload, &notification); err != nil {
		return NotificationOutcome{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	logging.Infof("App Store notification - type: %s, subtype: %s, uuid: %s, environment: %s",
		notification.NotificationType, notification.Subtype, notification.NotificationUUID, notification.Data.Environment)

	if notification.NotificationType == "" || notification.NotificationType == "TEST" {
		return s.record(models.PlatformApple, NotificationOutcome{Action: ActionHeartbeat}), nil
	}
	if s.appleBundleID != "" && notification.Data.BundleID != s.appleBundleID {
		logging.Warnf("App Store notification for foreign bundle %q ignored", notification.Data.BundleID)
		return s.record(models.PlatformApple, NotificationOutcome{Action: ActionIgnored}), nil
	}

	if s.replay.IsReplay(notification.NotificationUUID, notification.SignedDate) {
		return s.record(models.PlatformApple, NotificationOutcome{Action: ActionDuplicate}), nil
	}

	outcome, err := s.applyApple(ctx, &notification)
	if err != nil {
		s.replay.Forget(notification.NotificationUUID, notification.SignedDate)
		return NotificationOutcome{}, err
	}
	return s.record(models.PlatformApple, outcome), nil
}

func (s *StoreNotificationService) applyApple(ctx context.Context, n *models.AppStoreNotification) (NotificationOutcome, error) {
	if n.Data.SignedTransactionInfo == "" {
		return NotificationOutcome{Action: ActionIgnored}, nil
	}
	var tx models.AppleTransaction
	if err := s.decodeApple(n.Data.SignedTransactionInfo, &tx); err != nil {
		return NotificationOutcome{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	userID, err := s.subscriptions.UserForOriginalTransaction(ctx, models.PlatformApple, tx.OriginalTransactionID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Warnf("App Store notification for unknown transaction chain %s", tx.OriginalTransactionID)
		return NotificationOutcome{Action: ActionUnknownUser}, nil
	}
	if err != nil {
		return NotificationOutcome{}, err
	}

	if n.NotificationType == "SUBSCRIBED" || n.NotificationType == "DID_RENEW" {
		return s.reactivate(ctx, userID, models.PlatformApple, tx.TransactionID, tx.ProductID)
	}

	// Status signals only apply to the chain the user currently holds
	current, err := s.subscriptions.HoldsChain(ctx, userID, models.PlatformApple, tx.OriginalTransactionID)
	if err != nil {
		return NotificationOutcome{}, err
	}
	if !current {
		logging.Infof("App Store %s for superseded chain %s ignored - user_id: %s", n.NotificationType, tx.OriginalTransactionID, userID)
		return NotificationOutcome{Action: ActionIgnored, UserID: userID}, nil
	}

	switch n.NotificationType {
	case "DID_FAIL_TO_RENEW":
		if n.Subtype == "GRACE_PERIOD" {
			return s.mark(ctx, userID, ActionGracePeriod)
		}
		return s.mark(ctx, userID, ActionExpired)
	case "EXPIRED", "GRACE_PERIOD_EXPIRED":
		return s.mark(ctx, userID, ActionExpired)
	case "REFUND", "REVOKE":
		return s.mark(ctx, userID, ActionCancelled)
	}
	return NotificationOutcome{Action: ActionIgnored, UserID: userID}, nil
}

// HandleGoogle processes a Pub/Sub push carrying a Play real-time developer notification
func (s *StoreNotificationService) HandleGoogle(ctx context.Context, body []byte) (NotificationOutcome, error) {
	var envelope models.GooglePushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message.Data == "" {
		return NotificationOutcome{}, fmt.Errorf("%w: missing message data", ErrMalformedNotification)
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return NotificationOutcome{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	var notification models.GoogleDeveloperNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return NotificationOutcome{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	sn := notification.SubscriptionNotification
	if sn == nil {
		// test and one-time product notifications
		return s.record(models.PlatformGoogle, NotificationOutcome{Action: ActionIgnored}), nil
	}
	if s.googlePackageName != "" && notification.PackageName != s.googlePackageName {
		logging.Warnf("Google Play notification for foreign package %q ignored", notification.PackageName)
		return s.record(models.PlatformGoogle, NotificationOutcome{Action: ActionIgnored}), nil
	}
	if sn.PurchaseToken == "" {
		return NotificationOutcome{}, fmt.Errorf("%w: missing purchase token", ErrMalformedNotification)
	}

	logging.Infof("Google Play notification - type: %d, subscription_id: %s, message_id: %s",
		sn.NotificationType, sn.SubscriptionID, envelope.Message.MessageID)

	if s.replay.IsReplay(envelope.Message.MessageID, 0) {
		return s.record(models.PlatformGoogle, NotificationOutcome{Action: ActionDuplicate}), nil
	}

	outcome, err := s.applyGoogle(ctx, sn)
	if err != nil {
		s.replay.Forget(envelope.Message.MessageID, 0)
		return NotificationOutcome{}, err
	}
	return s.record(models.PlatformGoogle, outcome), nil
}

func (s *StoreNotificationService) applyGoogle(ctx context.Context, sn *models.GoogleSubscriptionNotification) (NotificationOutcome, error) {
	userID, err := s.subscriptions.UserForPurchaseToken(ctx, sn.PurchaseToken)
	if errors.Is(err, database.ErrNotFound) {
		logging.Warnf("Google Play notification for unknown purchase token, subscription_id: %s", sn.SubscriptionID)
		return NotificationOutcome{Action: ActionUnknownUser}, nil
	}
	if err != nil {
		return NotificationOutcome{}, err
	}

	switch sn.NotificationType {
	case models.GoogleSubscriptionRecovered, models.GoogleSubscriptionRenewed,
		models.GoogleSubscriptionPurchased, models.GoogleSubscriptionRestarted:
		return s.reactivate(ctx, userID, models.PlatformGoogle, sn.PurchaseToken, sn.SubscriptionID)
	case models.GoogleSubscriptionRevoked:
		return s.mark(ctx, userID, ActionCancelled)
	case models.GoogleSubscriptionInGracePeriod:
		return s.mark(ctx, userID, ActionGracePeriod)
	case models.GoogleSubscriptionOnHold, models.GoogleSubscriptionPaused, models.GoogleSubscriptionExpired:
		return s.mark(ctx, userID, ActionExpired)
	}
	// CANCELED only turns off auto-renew; the paid period runs to its expiry
	return NotificationOutcome{Action: ActionIgnored, UserID: userID}, nil
}

// reactivate re-verifies the renewed purchase with the store before applying it
func (s *StoreNotificationService) reactivate(ctx context.Context, userID string, platform models.StorePlatform, receiptData, productID string) (NotificationOutcome, error) {
	_, _, err := s.subscriptions.VerifyAndActivate(ctx, userID, platform, receiptData, productID)
	if errors.Is(err, ErrInvalidReceipt) || errors.Is(err, ErrUnknownProduct) {
		logging.Warnf("Renewal for user %s not applied: %v", userID, err)
		return NotificationOutcome{Action: ActionIgnored, UserID: userID}, nil
	}
	if err != nil {
		return NotificationOutcome{}, err
	}
	return NotificationOutcome{Action: ActionActivated, UserID: userID}, nil
}

func (s *StoreNotificationService) mark(ctx context.Context, userID, action string) (NotificationOutcome, error) {
	var err error
	switch action {
	case ActionCancelled:
		_, err = s.subscriptions.MarkCancelled(ctx, userID)
	case ActionGracePeriod:
		_, err = s.subscriptions.MarkGracePeriod(ctx, userID)
	case ActionExpired:
		_, err = s.subscriptions.MarkExpired(ctx, userID)
	default:
		return NotificationOutcome{}, fmt.Errorf("unknown notification action %q", action)
	}
	if err != nil {
		return NotificationOutcome{}, err
	}
	logging.Infof("Subscription marked %s - user_id: %s", action, userID)
	return NotificationOutcome{Action: action, UserID: userID}, nil
}

func (s *StoreNotificationService) record(platform models.StorePlatform, outcome NotificationOutcome) NotificationOutcome {
	metrics.StoreNotificationsTotal.WithLabelValues(string(platform), outcome.Action).Inc()
	return outcome
}
