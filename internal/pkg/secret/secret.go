// Package secret compares terminal tokens against their stored form.
package secret

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a plaintext secret against its stored representation.
type Verifier interface {
	Verify(plain, stored string) bool
}

// Bcrypt verifies against bcrypt hashes.
type Bcrypt struct{}

func (Bcrypt) Verify(plain, stored string) bool {
	if plain == "" || stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
}

// Plain verifies against secrets stored as-is, in constant time.
type Plain struct{}

func (Plain) Verify(plain, stored string) bool {
	if plain == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(plain), []byte(stored)) == 1
}

// NewVerifier picks bcrypt when hashing is enabled and constant-time equality otherwise.
func NewVerifier(hashed bool) Verifier {
	if hashed {
		return Bcrypt{}
	}
	return Plain{}
}

// Hash produces the bcrypt form of a secret. cost <= 0 means bcrypt.DefaultCost.
func Hash(plain string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
