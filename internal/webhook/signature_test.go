package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func githubSig(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	secret := "s3cret"
	if err := verifyGitHub(body, githubSig(secret, body), secret); err != nil {
		t.Fatalf("verifyGitHub() = %v, want nil", err)
	}
}

func TestVerifyGitHubRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	if err := verifyGitHub(body, githubSig("right", body), "wrong"); err == nil {
		t.Fatal("verifyGitHub() = nil, want error for mismatched secret")
	}
}

func TestVerifyGitHubRejectsMissingPrefix(t *testing.T) {
	body := []byte(`{}`)
	if err := verifyGitHub(body, "deadbeef", "s"); err == nil {
		t.Fatal("verifyGitHub() = nil, want error for missing sha256= prefix")
	}
}

func TestVerifyGitHubRejectsEmptySecret(t *testing.T) {
	body := []byte(`{}`)
	if err := verifyGitHub(body, githubSig("x", body), ""); err == nil {
		t.Fatal("verifyGitHub() = nil, want error when secret is unconfigured")
	}
}

func slackSig(secret, ts string, body []byte) string {
	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySlackAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	secret := "slack-secret"
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := verifySlack(body, slackSig(secret, ts, body), ts, secret, 300*time.Second); err != nil {
		t.Fatalf("verifySlack() = %v, want nil", err)
	}
}

func TestVerifySlackRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	secret := "slack-secret"
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	if err := verifySlack(body, slackSig(secret, ts, body), ts, secret, 300*time.Second); err == nil {
		t.Fatal("verifySlack() = nil, want error for timestamp outside tolerance")
	}
}

func TestVerifySlackRejectsWrongSignature(t *testing.T) {
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := verifySlack(body, slackSig("right", ts, body), ts, "wrong", 300*time.Second); err == nil {
		t.Fatal("verifySlack() = nil, want error for mismatched secret")
	}
}

func TestVerifyBearerSecretAcceptsMatch(t *testing.T) {
	if err := verifyBearerSecret("Bearer topsecret", "topsecret"); err != nil {
		t.Fatalf("verifyBearerSecret() = %v, want nil", err)
	}
}

func TestVerifyBearerSecretRejectsMismatch(t *testing.T) {
	if err := verifyBearerSecret("Bearer wrong", "topsecret"); err == nil {
		t.Fatal("verifyBearerSecret() = nil, want error for mismatched token")
	}
}

func TestVerifyBearerSecretRejectsMissingScheme(t *testing.T) {
	if err := verifyBearerSecret("topsecret", "topsecret"); err == nil {
		t.Fatal("verifyBearerSecret() = nil, want error when Bearer prefix is absent")
	}
}
