package redirect

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
)

// Cookie names used by the provider flows.
const (
	// CookieState carries the sealed State between begin and callback.
	CookieState = "auth_redirect_state"
	// CookieGoogleCSRF is the double submit cookie Google Identity Services sets.
	CookieGoogleCSRF = "g_csrf_token"
	// FieldGoogleCSRF is the form field Google posts next to the credential.
	FieldGoogleCSRF = "g_csrf_token"
)

// State is the anti-forgery payload sealed into a cookie before the
// browser leaves for the provider.
type State struct {
	Value       string        `json:"s"`
	Nonce       string        `json:"n"`
	Provider    auth.Provider `json:"p"`
	Intent      auth.Intent   `json:"i"`
	RedirectURL string        `json:"r,omitempty"`
	IssuedAt    int64         `json:"iat"`
	ExpiresAt   int64         `json:"exp"`
}

// Carrier seals State with AES-GCM and signs the ciphertext with HMAC-SHA256.
type Carrier struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewCarrier creates a carrier. encryptionKey must be 16, 24 or 32 bytes.
func NewCarrier(encryptionKey, hmacKey []byte, ttl time.Duration) (*Carrier, error) {
	if _, err := aes.NewCipher(encryptionKey); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid redirect state encryption key")
	}
	if len(hmacKey) < 32 {
		return nil, errors.New("redirect state hmac key must be at least 32 bytes", errors.CategoryBadInput)
	}
	if ttl <= 0 {
		ttl = auth.DefaultRedirectStateTTL
	}
	return &Carrier{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

func (c *Carrier) WithClock(now func() time.Time) *Carrier {
	if now != nil {
		c.now = now
	}
	return c
}

// TTL is how long a sealed state stays valid.
func (c *Carrier) TTL() time.Duration {
	return c.ttl
}

// Begin creates a fresh state for provider and intent and returns it with
// its sealed cookie value.
func (c *Carrier) Begin(provider auth.Provider, intent auth.Intent, redirectURL string) (*State, string, error) {
	if provider != auth.ProviderApple && provider != auth.ProviderGoogle {
		return nil, "", ErrInvalidState
	}
	if !intent.Valid() {
		return nil, "", ErrInvalidState
	}

	value, err := auth.GenerateState(auth.DefaultStateBytes)
	if err != nil {
		return nil, "", err
	}
	nonce, err := auth.GenerateState(auth.DefaultStateBytes)
	if err != nil {
		return nil, "", err
	}

	now := c.now()
	st := &State{
		Value:       value,
		Nonce:       nonce,
		Provider:    provider,
		Intent:      intent,
		RedirectURL: redirectURL,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(c.ttl).Unix(),
	}

	sealed, err := c.Seal(st)
	if err != nil {
		return nil, "", err
	}
	return st, sealed, nil
}

// Seal encrypts and signs st.
func (c *Carrier) Seal(st *State) (string, error) {
	if st == nil {
		return "", ErrInvalidState
	}

	plaintext, err := json.Marshal(st)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to marshal redirect state")
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate nonce")
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	result := append(c.sign(ciphertext), ciphertext...)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// Open verifies and decrypts a sealed value. Expired states fail with
// ErrStateExpired.
func (c *Carrier) Open(sealed string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(data) < sha256.Size {
		return nil, ErrInvalidState
	}

	signature := data[:sha256.Size]
	ciphertext := data[sha256.Size:]
	if !hmac.Equal(signature, c.sign(ciphertext)) {
		return nil, ErrInvalidState
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidState
	}

	nonce, encrypted := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, ErrInvalidState
	}

	var st State
	if err := json.Unmarshal(plaintext, &st); err != nil {
		return nil, ErrInvalidState
	}

	if c.now().Unix() >= st.ExpiresAt {
		return nil, ErrStateExpired
	}

	return &st, nil
}

// Verify opens the cookie value and checks that the state the provider
// echoed back and the callback provider match it. The cookie must be the
// one read in the same request.
func (c *Carrier) Verify(cookieValue, echoed string, provider auth.Provider) (*State, error) {
	if cookieValue == "" || echoed == "" {
		return nil, ErrStateMismatch
	}

	st, err := c.Open(cookieValue)
	if err != nil {
		return nil, err
	}

	if !constantTimeEqual(st.Value, echoed) || st.Provider != provider {
		return nil, ErrStateMismatch
	}
	return st, nil
}

// VerifyNonce checks the nonce embedded in a verified ID token.
func VerifyNonce(st *State, tokenNonce string) error {
	if st == nil || st.Nonce == "" || !constantTimeEqual(st.Nonce, tokenNonce) {
		return ErrNonceMismatch
	}
	return nil
}

// CheckDoubleSubmit compares a double submit cookie with the posted value.
func CheckDoubleSubmit(cookieValue, formValue string) error {
	if cookieValue == "" || formValue == "" || !constantTimeEqual(cookieValue, formValue) {
		return ErrCSRFMismatch
	}
	return nil
}

func (c *Carrier) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create GCM")
	}
	return gcm, nil
}

func (c *Carrier) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
