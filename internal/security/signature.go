package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on signed webhook requests.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// ComputeWebhookSignature returns the hex HMAC-SHA256 of
// "{timestamp}." followed by the raw body. Binding the timestamp into
// the MAC lets receivers reject replays.
func ComputeWebhookSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a received signature against the
// shared secret using a constant-time comparison, and rejects
// timestamps outside the replay window on either side of now.
func VerifyWebhookSignature(secret, signature string, timestamp int64, body []byte, replayWindow time.Duration, now time.Time) error {
	age := now.Unix() - timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > replayWindow {
		return fmt.Errorf("timestamp outside replay window of %s", replayWindow)
	}

	expected := ComputeWebhookSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
