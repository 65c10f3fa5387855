package provision

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns a plaintext password into a one-way credential hash.
type Hasher interface {
	Hash(password string) (string, error)
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(password string) (string, error)

func (f HasherFunc) Hash(password string) (string, error) {
	return f(password)
}

// BcryptHasher produces "$2a$" hashes, which the first-boot userconf
// service hands to the system's crypt(3).
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher validates cost and returns a hasher.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{Cost: cost}, nil
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}
