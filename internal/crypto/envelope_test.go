package crypto

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) *Key {
	t.Helper()
	raw := bytes.Repeat([]byte{0x42}, 32)
	k, err := NewKey(raw)
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	aad := AAD("tenant-1", "github", "ext-1")
	plaintext := []byte("super-secret-access-token")

	ct, err := Encrypt(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	got, err := Decrypt(key, ct, aad)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecryptFailsOnAADMismatch(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt(key, []byte("payload"), AAD("t1", "github", "e1"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = Decrypt(key, ct, AAD("t1", "github", "e2"))
	if err != ErrDecryptionFailed {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptFailsOnModifiedCiphertext(t *testing.T) {
	key := testKey(t)
	aad := AAD("t1", "github", "e1")
	ct, err := Encrypt(key, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := Decrypt(key, tampered, aad); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestEncryptEmptyPlaintextRoundTrips(t *testing.T) {
	key := testKey(t)
	aad := AAD("t1", "github", "e1")

	ct, err := Encrypt(key, []byte{}, aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	got, err := Decrypt(key, ct, aad)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Decrypt() = %q, want empty", got)
	}
}

func TestNonceUniqueness(t *testing.T) {
	key := testKey(t)
	aad := AAD("t1", "github", "e1")
	seen := make(map[string]bool, 1000)

	for i := 0; i < 1000; i++ {
		ct, err := Encrypt(key, []byte("same plaintext"), aad)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		nonce := string(ct[1 : 1+nonceLen])
		if seen[nonce] {
			t.Fatalf("duplicate nonce observed on trial %d", i)
		}
		seen[nonce] = true
	}
}

func TestLegacyPlaintextPassthrough(t *testing.T) {
	key := testKey(t)
	legacy := []byte("plain-old-access-token")

	got, err := Decrypt(key, legacy, AAD("t1", "github", "e1"))
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, legacy) {
		t.Errorf("Decrypt() = %q, want verbatim %q", got, legacy)
	}
	if IsEncryptedPayload(legacy) {
		t.Error("IsEncryptedPayload() = true for legacy blob")
	}
}

func TestIsEncryptedPayload(t *testing.T) {
	key := testKey(t)
	ct, _ := Encrypt(key, []byte("x"), AAD("t", "p", "e"))

	if !IsEncryptedPayload(ct) {
		t.Error("IsEncryptedPayload() = false for a freshly-encrypted blob")
	}
	if IsEncryptedPayload([]byte{}) {
		t.Error("IsEncryptedPayload() = true for empty input")
	}
	if IsEncryptedPayload([]byte{0x02, 1, 2, 3}) {
		t.Error("IsEncryptedPayload() = true for non-0x01-prefixed input")
	}
}

func TestDecryptInvalidFormatTooShort(t *testing.T) {
	key := testKey(t)
	short := []byte{versionByte, 1, 2, 3}

	if _, err := Decrypt(key, short, AAD("t", "p", "e")); err != ErrInvalidFormat {
		t.Errorf("Decrypt() error = %v, want ErrInvalidFormat", err)
	}
}

func TestNewKeyRejectsWrongLength(t *testing.T) {
	if _, err := NewKey(make([]byte, 16)); err != ErrInvalidKeyLength {
		t.Errorf("NewKey(16 bytes) error = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := NewKey(make([]byte, 64)); err != ErrInvalidKeyLength {
		t.Errorf("NewKey(64 bytes) error = %v, want ErrInvalidKeyLength", err)
	}
}

func TestDecryptTokensReportsLegacy(t *testing.T) {
	key := testKey(t)
	legacyAccess := []byte("legacy-access")
	encryptedRefresh, err := Encrypt(key, []byte("fresh-refresh"), AAD("t1", "github", "e1"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	access, refresh, hadLegacy, err := DecryptTokens(key, "t1", "github", "e1", legacyAccess, encryptedRefresh)
	if err != nil {
		t.Fatalf("DecryptTokens() error = %v", err)
	}
	if !hadLegacy {
		t.Error("hadLegacy = false, want true")
	}
	if access == nil || *access != "legacy-access" {
		t.Errorf("access = %v, want legacy-access", access)
	}
	if refresh == nil || *refresh != "fresh-refresh" {
		t.Errorf("refresh = %v, want fresh-refresh", refresh)
	}
}

func TestEncryptDecryptTokensRoundTrip(t *testing.T) {
	key := testKey(t)
	access := "access-token-value"
	refresh := "refresh-token-value"

	accessCT, refreshCT, err := EncryptTokens(key, "tenant", "github", "ext", &access, &refresh)
	if err != nil {
		t.Fatalf("EncryptTokens() error = %v", err)
	}

	gotAccess, gotRefresh, hadLegacy, err := DecryptTokens(key, "tenant", "github", "ext", accessCT, refreshCT)
	if err != nil {
		t.Fatalf("DecryptTokens() error = %v", err)
	}
	if hadLegacy {
		t.Error("hadLegacy = true, want false for freshly encrypted tokens")
	}
	if gotAccess == nil || *gotAccess != access {
		t.Errorf("access = %v, want %v", gotAccess, access)
	}
	if gotRefresh == nil || *gotRefresh != refresh {
		t.Errorf("refresh = %v, want %v", gotRefresh, refresh)
	}
}
