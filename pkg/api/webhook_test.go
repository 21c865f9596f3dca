package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"title":"disk full"}`)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	t.Run("valid signature and timestamp accepted", func(t *testing.T) {
		assert.True(t, verifyWebhookSignature(secret, body, sign(secret, body), now, now))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		assert.False(t, verifyWebhookSignature(secret, body, sign([]byte("other-secret"), body), now, now))
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		sig := sign(secret, body)
		assert.False(t, verifyWebhookSignature(secret, []byte(`{"title":"all fine"}`), sig, now, now))
	})

	t.Run("malformed hex signature rejected", func(t *testing.T) {
		assert.False(t, verifyWebhookSignature(secret, body, "not-hex!!", now, now))
	})

	t.Run("timestamp older than replay window rejected", func(t *testing.T) {
		stale := now.Add(-replayWindow - time.Second)
		assert.False(t, verifyWebhookSignature(secret, body, sign(secret, body), stale, now))
	})

	t.Run("timestamp in the future beyond replay window rejected", func(t *testing.T) {
		future := now.Add(replayWindow + time.Second)
		assert.False(t, verifyWebhookSignature(secret, body, sign(secret, body), future, now))
	})

	t.Run("timestamp within window accepted", func(t *testing.T) {
		recent := now.Add(-replayWindow / 2)
		assert.True(t, verifyWebhookSignature(secret, body, sign(secret, body), recent, now))
	})
}

func TestNonceCache(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	t.Run("first use accepted, replay rejected", func(t *testing.T) {
		c := newNonceCache()
		assert.True(t, c.checkAndRecord("nonce-1", now))
		assert.False(t, c.checkAndRecord("nonce-1", now.Add(time.Second)))
	})

	t.Run("distinct nonces both accepted", func(t *testing.T) {
		c := newNonceCache()
		assert.True(t, c.checkAndRecord("nonce-a", now))
		assert.True(t, c.checkAndRecord("nonce-b", now))
	})

	t.Run("nonce outside retention window is forgotten", func(t *testing.T) {
		c := newNonceCache()
		assert.True(t, c.checkAndRecord("nonce-1", now))
		later := now.Add(nonceRetention + time.Minute)
		assert.True(t, c.checkAndRecord("nonce-1", later))
	})
}
