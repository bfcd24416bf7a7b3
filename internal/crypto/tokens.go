package crypto

// EncryptTokens encrypts the access/refresh token pair for a connection
// identity. Either token may be absent (nil result, no error).
func EncryptTokens(key *Key, tenantID, providerSlug, externalID string, accessToken, refreshToken *string) (accessCT, refreshCT []byte, err error) {
	aad := AAD(tenantID, providerSlug, externalID)

	if accessToken != nil {
		accessCT, err = Encrypt(key, []byte(*accessToken), aad)
		if err != nil {
			return nil, nil, err
		}
	}
	if refreshToken != nil {
		refreshCT, err = Encrypt(key, []byte(*refreshToken), aad)
		if err != nil {
			return nil, nil, err
		}
	}
	return accessCT, refreshCT, nil
}

// DecryptTokens decrypts the access/refresh token pair for a connection
// identity. hadLegacy reports whether either stored ciphertext was in fact
// legacy plaintext (not version-prefixed) — callers surface this as a
// telemetry warning without changing behavior (spec §4.2).
func DecryptTokens(key *Key, tenantID, providerSlug, externalID string, accessCT, refreshCT []byte) (accessToken, refreshToken *string, hadLegacy bool, err error) {
	aad := AAD(tenantID, providerSlug, externalID)

	if len(accessCT) > 0 {
		if !IsEncryptedPayload(accessCT) {
			hadLegacy = true
		}
		plain, derr := Decrypt(key, accessCT, aad)
		if derr != nil {
			return nil, nil, false, derr
		}
		s := string(plain)
		accessToken = &s
	}

	if len(refreshCT) > 0 {
		if !IsEncryptedPayload(refreshCT) {
			hadLegacy = true
		}
		plain, derr := Decrypt(key, refreshCT, aad)
		if derr != nil {
			return nil, nil, false, derr
		}
		s := string(plain)
		refreshToken = &s
	}

	return accessToken, refreshToken, hadLegacy, nil
}
