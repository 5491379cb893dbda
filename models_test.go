package auth

import (
	"testing"
	"time"
)

func TestCredentialActive(t *testing.T) {
	var nilCred *Credential
	if nilCred.Active() {
		t.Fatalf("expected nil credential to be inactive")
	}

	c := &Credential{Provider: ProviderEmail}
	if !c.Active() {
		t.Fatalf("expected credential without unjoined_at to be active")
	}

	now := time.Now()
	c.UnjoinedAt = &now
	if c.Active() {
		t.Fatalf("expected unjoined credential to be inactive")
	}
}

func TestCredentialExternalID(t *testing.T) {
	cases := []struct {
		name   string
		cred   *Credential
		expect string
	}{
		{name: "nil", cred: nil, expect: ""},
		{name: "email hides hash", cred: &Credential{Provider: ProviderEmail, Secret: "$2a$hash"}, expect: ""},
		{name: "apple subject", cred: &Credential{Provider: ProviderApple, Secret: "001.apple"}, expect: "001.apple"},
		{name: "google subject", cred: &Credential{Provider: ProviderGoogle, Secret: "1098"}, expect: "1098"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cred.ExternalID(); got != tc.expect {
				t.Fatalf("expected external id %q, got %q", tc.expect, got)
			}
		})
	}
}

func TestStateTokenExpired(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := &StateToken{ExpiresAt: expires}

	if tok.Expired(expires.Add(-time.Second)) {
		t.Fatalf("expected token to be valid before expiry")
	}
	if !tok.Expired(expires) {
		t.Fatalf("expected token to be expired at expiry")
	}
	if !tok.Expired(expires.Add(time.Second)) {
		t.Fatalf("expected token to be expired after expiry")
	}
}
