package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	temporaryPasswordLength  = 12
	temporaryPasswordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

var (
	ErrEmptyPassword             = errors.New("credentials: password must not be empty")
	ErrMismatchedHashAndPassword = errors.New("credentials: password does not match stored hash")
	ErrMissingStoredHash         = errors.New("credentials: stored hash is empty")
)

// hashCost is a variable so tests can lower it.
var hashCost = bcrypt.DefaultCost

// LegacyDigest returns the unsalted SHA-256 hex digest used by member records
// created before bcrypt hashes were introduced.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashPassword generates a bcrypt hash for the supplied password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IsBcrypt reports whether the stored hash is a bcrypt hash.
func IsBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// Verify compares the cleartext password against a stored hash. Both bcrypt
// hashes and legacy SHA-256 hex digests are accepted.
func Verify(password string, stored string) error {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return ErrMissingStoredHash
	}
	if IsBcrypt(stored) {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrMismatchedHashAndPassword
			}
			return err
		}
		return nil
	}
	computed := LegacyDigest(password)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(stored))) != 1 {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

// GenerateTemporaryPassword mints the random password handed to newly
// registered members in their welcome email.
func GenerateTemporaryPassword() (string, error) {
	limit := big.NewInt(int64(len(temporaryPasswordCharset)))
	var builder strings.Builder
	builder.Grow(temporaryPasswordLength)
	for i := 0; i < temporaryPasswordLength; i++ {
		index, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		builder.WriteByte(temporaryPasswordCharset[index.Int64()])
	}
	return builder.String(), nil
}
