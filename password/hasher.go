package password

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxPasswordBytes bounds the plaintext accepted by Argon2 when no
// explicit limit is configured.
const DefaultMaxPasswordBytes = 1024

var (
	// ErrEmptyPassword is returned when Hash receives an empty plaintext.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordTooLong is returned when the plaintext exceeds the hasher limit.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher produces and verifies salted adaptive password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Algorithm names accepted by [New].
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Options selects and tunes a Hasher.
type Options struct {
	Algorithm  string
	BcryptCost int
	Argon2     Config
}

// New builds the Hasher named by opts.Algorithm. An empty algorithm selects bcrypt.
func New(opts Options) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Algorithm)) {
	case "", AlgorithmBcrypt:
		return NewBcrypt(opts.BcryptCost)
	case AlgorithmArgon2id, "argon2":
		return NewArgon2(opts.Argon2)
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", opts.Algorithm)
	}
}

// Verify checks password against encodedHash using the algorithm recorded in
// the hash itself, so hashes written under a previous configuration keep
// verifying after the default algorithm changes.
func Verify(h Hasher, password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		if a, ok := h.(*Argon2); ok {
			return a.Verify(password, encodedHash)
		}
		return verifyArgon2(password, encodedHash, DefaultMaxPasswordBytes)
	case isBcryptHash(encodedHash):
		if b, ok := h.(*Bcrypt); ok {
			return b.Verify(password, encodedHash)
		}
		return verifyBcrypt(password, encodedHash)
	default:
		return false, ErrMalformedHash
	}
}
