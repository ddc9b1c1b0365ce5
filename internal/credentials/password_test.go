package credentials

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func init() {
	hashCost = bcrypt.MinCost
}

func TestLegacyDigestMatchesKnownValue(t *testing.T) {
	const expected = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"
	if digest := LegacyDigest("password"); digest != expected {
		t.Fatalf("unexpected digest %q", digest)
	}
}

func TestVerify(t *testing.T) {
	bcryptHash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	testCases := []struct {
		name     string
		password string
		stored   string
		wantErr  error
	}{
		{name: "legacy match", password: "correct horse", stored: LegacyDigest("correct horse")},
		{name: "legacy uppercase hex", password: "correct horse", stored: strings.ToUpper(LegacyDigest("correct horse"))},
		{name: "legacy mismatch", password: "wrong", stored: LegacyDigest("correct horse"), wantErr: ErrMismatchedHashAndPassword},
		{name: "bcrypt match", password: "correct horse", stored: bcryptHash},
		{name: "bcrypt mismatch", password: "wrong", stored: bcryptHash, wantErr: ErrMismatchedHashAndPassword},
		{name: "empty stored hash", password: "correct horse", stored: "  ", wantErr: ErrMissingStoredHash},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := Verify(testCase.password, testCase.stored)
			if testCase.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestGenerateTemporaryPassword(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 16; i++ {
		password, err := GenerateTemporaryPassword()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(password) != temporaryPasswordLength {
			t.Fatalf("expected %d characters, got %q", temporaryPasswordLength, password)
		}
		for _, character := range password {
			if !strings.ContainsRune(temporaryPasswordCharset, character) {
				t.Fatalf("unexpected character %q in %q", character, password)
			}
		}
		seen[password] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected distinct passwords")
	}
}
