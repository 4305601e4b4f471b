package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Verifier checks a webhook delivery's signature header against the raw
// request body. Implementations must use constant-time comparison.
type Verifier interface {
	Verify(body []byte, signatureHeader string) bool
}

// HMACVerifier implements the processor's signature scheme: a hex
// HMAC-SHA256 over the raw request body.
type HMACVerifier struct {
	Secret string
}

func (v HMACVerifier) Verify(body []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(v.Secret)
	if sig == "" || secret == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// TimestampedVerifier implements the billing provider's scheme: the header
// is "t=<unix>,v1=<hex>" and the signature is HMAC-SHA256 over
// "<unix>.<body>". Deliveries with a timestamp outside the replay window
// are rejected.
type TimestampedVerifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

func (v TimestampedVerifier) Verify(body []byte, signatureHeader string) bool {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return false
	}
	ts, sig, ok := parseTimestampedHeader(signatureHeader)
	if !ok {
		return false
	}

	window := v.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	eventTime := time.Unix(ts, 0)
	if eventTime.Before(now().Add(-window)) || eventTime.After(now().Add(window)) {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	msg := make([]byte, 0, 20+1+len(body))
	msg = strconv.AppendInt(msg, ts, 10)
	msg = append(msg, '.')
	msg = append(msg, body...)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// SignTimestamped computes the billing scheme's header value.
func SignTimestamped(secret string, ts time.Time, body []byte) string {
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	msg := make([]byte, 0, len(tsStr)+1+len(body))
	msg = append(msg, tsStr...)
	msg = append(msg, '.')
	msg = append(msg, body...)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return "t=" + tsStr + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// SignBody computes the processor scheme's hex signature for a body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseTimestampedHeader(header string) (int64, string, bool) {
	var tsStr, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			tsStr = v
		case "v1":
			sig = v
		}
	}
	if tsStr == "" || sig == "" {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, sig, true
}
