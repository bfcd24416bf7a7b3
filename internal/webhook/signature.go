package webhook

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

// verifyErr is returned for any signature-verification failure; ingress
// maps every instance to 401 without ever logging the raw body (spec §4.7
// step 2).
type verifyErr struct {
	reason string
}

func (e *verifyErr) Error() string { return e.reason }

func errVerify(format string, args ...any) error {
	return &verifyErr{reason: fmt.Sprintf(format, args...)}
}

// verifyGitHub checks the `X-Hub-Signature-256` HMAC-SHA256 over the raw
// body, prefix `sha256=`, constant-time hex compare.
func verifyGitHub(body []byte, header, secret string) error {
	if secret == "" {
		return errVerify("github webhook secret not configured")
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return errVerify("missing or malformed X-Hub-Signature-256")
	}
	provided, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return errVerify("X-Hub-Signature-256 is not valid hex")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return errVerify("github signature mismatch")
	}
	return nil
}

// verifySlack checks `X-Slack-Signature`/`X-Slack-Request-Timestamp` over
// "v0:{ts}:{body}", prefix `v0=`, and rejects stale/future timestamps
// outside tolerance.
func verifySlack(body []byte, sigHeader, tsHeader, secret string, tolerance time.Duration) error {
	if secret == "" {
		return errVerify("slack webhook secret not configured")
	}
	if tsHeader == "" {
		return errVerify("missing X-Slack-Request-Timestamp")
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return errVerify("X-Slack-Request-Timestamp is not a valid unix timestamp")
	}
	age := time.Since(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return errVerify("slack request timestamp outside tolerance window")
	}

	const prefix = "v0="
	if !strings.HasPrefix(sigHeader, prefix) {
		return errVerify("missing or malformed X-Slack-Signature")
	}
	provided, err := hex.DecodeString(sigHeader[len(prefix):])
	if err != nil {
		return errVerify("X-Slack-Signature is not valid hex")
	}

	base := "v0:" + tsHeader + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return errVerify("slack signature mismatch")
	}
	return nil
}

// verifyBearerSecret checks `Authorization: Bearer <secret>` with a
// constant-time comparison, the scheme shared by Jira and Zoho Cliq.
func verifyBearerSecret(authHeader, secret string) error {
	if secret == "" {
		return errVerify("webhook secret not configured")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return errVerify("missing Authorization Bearer header")
	}
	token := authHeader[len(prefix):]
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return errVerify("bearer token mismatch")
	}
	return nil
}
