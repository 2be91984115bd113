package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// PasswordDigest computes the stored credential digest: hex SHA-256 over the
// application salt concatenated with the password. Deterministic on purpose —
// the record store compares digests by equality, so the same plaintext must
// always map to the same digest under a given salt.
func PasswordDigest(salt, password string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}
