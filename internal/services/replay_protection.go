package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"
)

// ReplayProtection drops store notifications that were already processed by this instance
type ReplayProtection struct {
	processed       map[string]time.Time
	mutex           sync.RWMutex
	cleanupInterval time.Duration
	ttl             time.Duration
	now             func() time.Time
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewReplayProtection creates a guard remembering notifications for ttl
func NewReplayProtection(ttl time.Duration) *ReplayProtection {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	rp := &ReplayProtection{
		processed:       make(map[string]time.Time),
		cleanupInterval: time.Hour,
		ttl:             ttl,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}

	go rp.startCleanupRoutine()

	return rp
}

// IsReplay records the notification and reports whether it was seen before.
// An empty id cannot be checked and is never a replay.
func (rp *ReplayProtection) IsReplay(notificationID string, timestamp int64) bool {
	if notificationID == "" {
		return false
	}

	key := replayKey(notificationID, timestamp)

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if seenAt, exists := rp.processed[key]; exists {
		logging.Infof("Replay detected - notification_id: %s, first seen at: %s", notificationID, seenAt.Format(time.RFC3339))
		return true
	}

	rp.processed[key] = rp.now()
	return false
}

// Forget removes a notification so a store redelivery is processed again
func (rp *ReplayProtection) Forget(notificationID string, timestamp int64) {
	if notificationID == "" {
		return
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	delete(rp.processed, replayKey(notificationID, timestamp))
}

func replayKey(notificationID string, timestamp int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", notificationID, timestamp)))
	return hex.EncodeToString(hash[:])
}

func (rp *ReplayProtection) startCleanupRoutine() {
	ticker := time.NewTicker(rp.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.cleanup()
		case <-rp.stopCleanup:
			return
		}
	}
}

func (rp *ReplayProtection) cleanup() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	now := rp.now()
	before := len(rp.processed)
	for key, seenAt := range rp.processed {
		if now.Sub(seenAt) > rp.ttl {
			delete(rp.processed, key)
		}
	}

	if removed := before - len(rp.processed); removed > 0 {
		logging.Debugf("Replay protection cleanup: removed %d expired notifications, remaining: %d", removed, len(rp.processed))
	}
}

// Len returns the number of remembered notifications
func (rp *ReplayProtection) Len() int {
	rp.mutex.RLock()
	defer rp.mutex.RUnlock()

	return len(rp.processed)
}

// Stop ends the cleanup goroutine
func (rp *ReplayProtection) Stop() {
	rp.stopOnce.Do(func() { close(rp.stopCleanup) })
}
