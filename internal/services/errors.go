package services

import (
	"errors"
	"fmt"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"
)

var (
	// ErrInvalidReceipt is a permanent verification failure: malformed, revoked, expired or consumed.
	ErrInvalidReceipt = errors.New("invalid receipt")
	// ErrStoreUnavailable is a transient failure reaching the store; safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownProduct means the product id maps to no plan tier.
	ErrUnknownProduct = errors.New("unknown product")
)

// VerificationError describes why a receipt could not be verified.
// Kind is one of the sentinel errors above and is matched with errors.Is.
type VerificationError struct {
	Kind     error
	Platform models.StorePlatform
	Message  string
	Err      error
}

func (e *VerificationError) Error() string {
	msg := e.Kind.Error()
	if e.Platform != models.PlatformNone {
		msg = fmt.Sprintf("%s: %s", e.Platform, msg)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *VerificationError) Is(target error) bool {
	return target == e.Kind
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func invalidReceipt(platform models.StorePlatform, format string, args ...interface{}) error {
	return &VerificationError{Kind: ErrInvalidReceipt, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

func storeUnavailable(platform models.StorePlatform, err error, format string, args ...interface{}) error {
	return &VerificationError{Kind: ErrStoreUnavailable, Platform: platform, Message: fmt.Sprintf(format, args...), Err: err}
}

// verificationResult is the metrics label for a verification outcome
func verificationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidReceipt):
		return "invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUnknownProduct):
		return "unknown_product"
	default:
		return "error"
	}
}
