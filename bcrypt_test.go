package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherHashPassword(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.HashPassword(tt.password)

			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrNoEmptyString)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.NoError(t, hasher.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestBcryptHasherComparePasswordAndHash(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	password := "testPassword123!"
	hash, err := hasher.HashPassword(password)
	require.NoError(t, err)

	t.Run("matching password", func(t *testing.T) {
		assert.NoError(t, hasher.ComparePasswordAndHash(password, hash))
	})

	t.Run("wrong password", func(t *testing.T) {
		err := hasher.ComparePasswordAndHash("wrongPassword123!", hash)
		assert.Equal(t, auth.ErrMismatchedHashAndPassword, err)
	})

	t.Run("invalid hash", func(t *testing.T) {
		err := hasher.ComparePasswordAndHash(password, "not-a-hash")
		assert.Error(t, err)
		assert.NotEqual(t, auth.ErrMismatchedHashAndPassword, err)
	})
}

func TestNewBcryptHasherUsesBuildDefaultCost(t *testing.T) {
	hash, err := auth.NewBcryptHasher(0).HashPassword("another-Secret-1")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)
}
