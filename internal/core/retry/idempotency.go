package retry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AttemptKey derives the idempotency key of a retry attempt. Two schedulers
// deciding the same attempt for the same error within one bucket agree on the key.
func AttemptKey(transactionID string, attempt int, errorCode string, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	slot := at.UTC().Truncate(bucket).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", transactionID, attempt, errorCode, slot)))
	return "retry_" + hex.EncodeToString(sum[:])[:32]
}

// NotificationKey de-duplicates notifications for one transaction event.
func NotificationKey(transactionID, event string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", transactionID, event, attempt)))
	return "notif_" + hex.EncodeToString(sum[:])[:32]
}
