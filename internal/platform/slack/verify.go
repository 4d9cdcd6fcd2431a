package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// signatureVersion is the Slack request signing scheme in use.
const signatureVersion = "v0"

// maxSignatureAge bounds the request timestamp to defeat replayed requests.
const maxSignatureAge = 5 * time.Minute

// VerifySignature checks a Slack request signature against the app signing
// secret. The timestamp and signature come from the X-Slack-Request-Timestamp
// and X-Slack-Signature headers.
func VerifySignature(secret, timestamp, signature string, body []byte) error {
	return verifySignatureAt(secret, timestamp, signature, body, time.Now())
}

func verifySignatureAt(secret, timestamp, signature string, body []byte, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("slack signing secret is not configured")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid request timestamp: %q", timestamp)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > maxSignatureAge || age < -maxSignatureAge {
		return fmt.Errorf("request timestamp outside the allowed window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	mac.Write(body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("request signature mismatch")
	}
	return nil
}
