package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// replayWindow bounds how old a webhook timestamp may be before it is
// rejected as a replay (§6: "replays older than five minutes are
// rejected").
const replayWindow = 5 * time.Minute

// nonceRetention is how long a seen nonce is remembered. Must be at least
// replayWindow, since a nonce outside the replay window is rejected on
// the timestamp check alone and no longer needs tracking.
const nonceRetention = 10 * time.Minute

// nonceCache is an in-memory rolling window of recently seen webhook
// nonces (§6: "a nonce is recorded for replay prevention within a rolling
// window"). A single orchestrator replica's in-memory cache is sufficient
// because the timestamp check alone already bounds the replay window to
// a few minutes; a multi-replica deployment tolerates the rare case of a
// replay landing on a different pod within that window, trading perfect
// dedup for no added storage dependency.
type nonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newNonceCache() *nonceCache {
	return &nonceCache{seen: make(map[string]time.Time)}
}

// checkAndRecord returns false if nonce was already seen within
// nonceRetention, recording it (and sweeping expired entries) otherwise.
func (n *nonceCache) checkAndRecord(nonce string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for k, t := range n.seen {
		if now.Sub(t) > nonceRetention {
			delete(n.seen, k)
		}
	}

	if seenAt, ok := n.seen[nonce]; ok && now.Sub(seenAt) <= nonceRetention {
		return false
	}
	n.seen[nonce] = now
	return true
}

// verifyWebhookSignature checks an HMAC-SHA256 signature over body against
// secret, and rejects stale timestamps. signature is expected hex-encoded.
func verifyWebhookSignature(secret []byte, body []byte, signatureHex string, timestamp time.Time, now time.Time) bool {
	if now.Sub(timestamp) > replayWindow || timestamp.Sub(now) > replayWindow {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
