package user

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters; stored hashes are "hex(key).hex(salt)"
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword derives a scrypt key from pwd with a random salt.
func HashPassword(pwd string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generating salt")
	}
	key, err := scrypt.Key([]byte(pwd), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", errors.Wrap(err, "deriving key")
	}
	return hex.EncodeToString(key) + "." + hex.EncodeToString(salt), nil
}

// ComparePassword checks pwd against a hash produced by HashPassword.
func ComparePassword(hash, pwd string) error {
	parts := strings.SplitN(hash, ".", 2)
	if len(parts) != 2 {
		return ErrPasswordMismatch
	}
	want, err := hex.DecodeString(parts[0])
	if err != nil || len(want) != scryptKeyLen {
		return ErrPasswordMismatch
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return ErrPasswordMismatch
	}

	got, err := scrypt.Key([]byte(pwd), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return errors.Wrap(err, "deriving key")
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
