package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCredentialFromContext(t *testing.T) {
	unjoined := time.Now()

	tests := []struct {
		name     string
		setupCtx func() context.Context
		wantOK   bool
	}{
		{
			name: "should return credential when present in context",
			setupCtx: func() context.Context {
				return WithCredential(context.Background(), &Credential{ID: uuid.New(), Provider: ProviderEmail})
			},
			wantOK: true,
		},
		{
			name: "should return false when no credential in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
			wantOK: false,
		},
		{
			name: "should return false when context has wrong type",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), credentialCtxKey, "not-a-credential")
			},
			wantOK: false,
		},
		{
			name: "should return false when credential is unjoined",
			setupCtx: func() context.Context {
				return WithCredential(context.Background(), &Credential{ID: uuid.New(), UnjoinedAt: &unjoined})
			},
			wantOK: false,
		},
		{
			name: "should return false for a nil credential",
			setupCtx: func() context.Context {
				return WithCredential(context.Background(), nil)
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, ok := CredentialFromContext(tt.setupCtx())
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.NotNil(t, cred)
			} else {
				assert.Nil(t, cred)
			}
		})
	}
}
