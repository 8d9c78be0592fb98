package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxSlackTimestampDrift is the maximum allowed difference between the
// x-slack-request-timestamp header and the local clock. Requests outside
// this window are rejected to prevent replay.
const MaxSlackTimestampDrift = 5 * time.Minute

// VerifyGitHub verifies a GitHub X-Hub-Signature-256 header against the raw
// request body.
//
// The supplied signature must be of the form "sha256=<hex>". Comparison uses
// crypto/subtle to prevent timing attacks, and every failure mode (missing
// secret, missing prefix, malformed hex, mismatch) returns the same generic
// error so nothing about the expected signature leaks.
func VerifyGitHub(secret, signature string, body []byte) error {
	if secret == "" {
		return fmt.Errorf("webhook verification failed")
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("webhook verification failed")
	}

	supplied, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	// ConstantTimeCompare returns 0 for mismatched lengths, so a truncated
	// header cannot panic or short-circuit the comparison.
	if subtle.ConstantTimeCompare(expected, supplied) != 1 {
		return fmt.Errorf("webhook verification failed")
	}
	return nil
}

// VerifySlack verifies a Slack request signature.
//
// Slack signs "v0:" + timestamp + ":" + rawBody with the signing secret and
// sends "v0=<hex>" in x-slack-signature. The timestamp header is checked
// against now before any HMAC work; anything older or newer than
// MaxSlackTimestampDrift is rejected as a possible replay.
func VerifySlack(secret, signature, timestamp string, body []byte, now time.Time) error {
	if secret == "" || signature == "" || timestamp == "" {
		return fmt.Errorf("webhook verification failed")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxSlackTimestampDrift {
		return fmt.Errorf("webhook verification failed")
	}

	if !strings.HasPrefix(signature, "v0=") {
		return fmt.Errorf("webhook verification failed")
	}
	supplied, err := hex.DecodeString(strings.TrimPrefix(signature, "v0="))
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, supplied) != 1 {
		return fmt.Errorf("webhook verification failed")
	}
	return nil
}

// SignGitHub computes the X-Hub-Signature-256 header value for a body.
// Used by tests and by clients exercising the webhook endpoints.
func SignGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignSlack computes the x-slack-signature header value for a timestamp and body.
func SignSlack(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
