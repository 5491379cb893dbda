package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode("PASSWORD_EMPTY")

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode("PASSWORD_MISMATCH")

// BcryptHasher implements PasswordHasher with a fixed cost
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher, cost 0 selects the build default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = passwordHashCost()
	}
	return &BcryptHasher{cost: cost}
}

// HashPassword will generate a password hash
func (b *BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (b *BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// HashPassword hashes with the build default cost
func HashPassword(password string) (string, error) {
	return NewBcryptHasher(0).HashPassword(password)
}

// ComparePasswordAndHash compares with the build default hasher
func ComparePasswordAndHash(password, hash string) error {
	return NewBcryptHasher(0).ComparePasswordAndHash(password, hash)
}
