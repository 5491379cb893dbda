package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/goliatone/go-auth-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{
			name:     "not registered",
			err:      auth.NotRegistered(auth.ProviderEmail, "z@x.com"),
			target:   auth.ErrNotRegistered,
			expected: true,
		},
		{
			name:     "wrapped other registration",
			err:      fmt.Errorf("join: %w", auth.OtherRegistration(auth.ProviderGoogle, "a@x.com")),
			target:   auth.ErrOtherRegistration,
			expected: true,
		},
		{
			name:     "different kind",
			err:      auth.WrongPassword("a@x.com"),
			target:   auth.ErrNotRegistered,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			target:   auth.ErrNotAuthenticated,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errors.Is(tt.err, tt.target))
		})
	}
}

func TestAuthErrorMessages(t *testing.T) {
	assert.Equal(t, "Not registered with Apple account.", auth.NotRegistered(auth.ProviderApple, "").Message())
	assert.Equal(t, "Not registered with email address.", auth.NotRegistered(auth.ProviderEmail, "").Message())
	assert.Equal(t, "Already registered with your Google account.", auth.OtherRegistration(auth.ProviderGoogle, "").Message())
	assert.Equal(t, "Already registered with same email address.", auth.OtherRegistration(auth.ProviderEmail, "").Message())
	assert.Equal(t, "Password incorrect.", auth.WrongPassword("a@x.com").Message())
	assert.Equal(t, "Unable to email password reset due to internal error.",
		auth.DeliveryFailed(auth.PurposePasswordReset, "a@x.com", errors.New("smtp")).Message())
	assert.Equal(t, auth.MsgPasswordMismatch, auth.ValidationFailed(auth.FieldPasswordConfirm, auth.MsgPasswordMismatch).Message())
}

func TestAuthErrorKeepsCauseAndReason(t *testing.T) {
	cause := errors.New("jwks fetch failed")
	err := auth.ProviderVerificationFailed(auth.ProviderApple, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider=apple")

	expired := auth.TokenInvalidOrExpired(auth.ReasonTokenExpired)
	assert.Equal(t, auth.ReasonTokenExpired, expired.Reason())
	assert.NotContains(t, expired.Message(), "expired:")
}

func TestAuthErrorRich(t *testing.T) {
	rich := auth.OtherRegistration(auth.ProviderGoogle, "a@x.com").Rich()
	require.NotNil(t, rich)
	assert.Equal(t, goerrors.CategoryConflict, rich.Category)
	assert.Equal(t, goerrors.CodeConflict, rich.Code)
	assert.Equal(t, auth.TextCodeOtherRegistration, rich.TextCode)
	assert.Equal(t, "google", rich.Metadata["provider"])
	assert.Equal(t, "a@x.com", rich.Metadata["email"])

	rich = auth.TokenInvalidOrExpired(auth.ReasonTokenNotFound).Rich()
	assert.Equal(t, goerrors.CodeBadRequest, rich.Code)
	_, leaked := rich.Metadata["reason"]
	assert.False(t, leaked)

	rich = auth.ValidationFailed(auth.FieldPassword, "a", "b").Rich()
	assert.Equal(t, goerrors.CategoryValidation, rich.Category)
	assert.Equal(t, []string{"a", "b"}, rich.Metadata["messages"])
}

func TestFlashRoundTripDropsInternals(t *testing.T) {
	original := auth.DeliveryFailed(auth.PurposeInvite, "a@x.com", errors.New("smtp password=hunter2"))

	encoded, err := auth.EncodeFlash(original)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "=")

	decoded, err := auth.DecodeFlash(encoded)
	require.NoError(t, err)
	assert.Equal(t, auth.KindDeliveryFailed, decoded.Kind)
	assert.Equal(t, auth.PurposeInvite, decoded.Purpose)
	assert.Equal(t, "a@x.com", decoded.Email)
	assert.Nil(t, decoded.Unwrap())
	assert.Equal(t, original.Message(), decoded.Message())

	_, err = auth.DecodeFlash("%%%")
	assert.Error(t, err)
	_, err = auth.EncodeFlash(nil)
	assert.Error(t, err)
}

func TestOutcomeErr(t *testing.T) {
	assert.Nil(t, auth.Outcome{Kind: auth.OutcomeSignedIn}.Err())
	assert.Nil(t, auth.Outcome{Kind: auth.OutcomeCreated}.Err())

	err := auth.Outcome{Kind: auth.OutcomeConflict, OtherProvider: auth.ProviderApple, Email: "a@x.com"}.Err()
	ae, ok := auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.KindOtherRegistration, ae.Kind)
	assert.Equal(t, auth.ProviderApple, ae.Provider)
}
