package auth

import "golang.org/x/crypto/bcrypt"

// HashCredential hashes secret at cost (spec section 6: cost factor 12
// when hashing auth credentials). This engine does not mint or store
// user credentials itself (spec section 1), but it owns the bcrypt
// cost-factor configuration value, so the hash/verify pair lives here
// rather than as dead configuration.
func HashCredential(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = 12
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareCredential reports whether secret matches hash, returning nil
// on a match and bcrypt's error otherwise.
func CompareCredential(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
