package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWebhookSignature_Deterministic(t *testing.T) {
	a := ComputeWebhookSignature("s", 1700000000, []byte("{}"))
	b := ComputeWebhookSignature("s", 1700000000, []byte("{}"))

	require.Equal(t, a, b)
	assert.Len(t, a, 64, "hex-encoded SHA-256 output")
}

func TestComputeWebhookSignature_SensitiveToInputs(t *testing.T) {
	base := ComputeWebhookSignature("s", 1700000000, []byte("{}"))

	assert.NotEqual(t, base, ComputeWebhookSignature("other", 1700000000, []byte("{}")))
	assert.NotEqual(t, base, ComputeWebhookSignature("s", 1700000001, []byte("{}")))
	assert.NotEqual(t, base, ComputeWebhookSignature("s", 1700000000, []byte(`{"a":1}`)))
}

func TestVerifyWebhookSignature_RoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"task_id":"abc","status":"SUCCESS"}`)
	sig := ComputeWebhookSignature("secret", now.Unix(), body)

	err := VerifyWebhookSignature("secret", sig, now.Unix(), body, 5*time.Minute, now)
	assert.NoError(t, err)
}

func TestVerifyWebhookSignature_RejectsTampering(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"task_id":"abc"}`)
	sig := ComputeWebhookSignature("secret", now.Unix(), body)

	err := VerifyWebhookSignature("secret", sig, now.Unix(), []byte(`{"task_id":"xyz"}`), 5*time.Minute, now)
	assert.Error(t, err)

	err = VerifyWebhookSignature("wrong", sig, now.Unix(), body, 5*time.Minute, now)
	assert.Error(t, err)
}

func TestVerifyWebhookSignature_ReplayWindow(t *testing.T) {
	sent := time.Unix(1700000000, 0)
	body := []byte("{}")
	sig := ComputeWebhookSignature("secret", sent.Unix(), body)

	within := sent.Add(4 * time.Minute)
	assert.NoError(t, VerifyWebhookSignature("secret", sig, sent.Unix(), body, 5*time.Minute, within))

	tooLate := sent.Add(6 * time.Minute)
	assert.Error(t, VerifyWebhookSignature("secret", sig, sent.Unix(), body, 5*time.Minute, tooLate))

	// Timestamps from the future are equally suspect.
	future := sent.Add(-6 * time.Minute)
	assert.Error(t, VerifyWebhookSignature("secret", sig, sent.Unix(), body, 5*time.Minute, future))
}
