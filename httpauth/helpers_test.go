package httpauth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/httpauth"
	"github.com/goliatone/go-auth-accounts/providers"
	"github.com/goliatone/go-auth-accounts/redirect"
	"github.com/goliatone/go-auth-accounts/repository"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testPassword       = "correct-horse-9"
	testGoogleClientID = "1234.apps.googleusercontent.com"
	testAppleClientID  = "com.example.club"
)

type outbox struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (o *outbox) Send(_ context.Context, n auth.Notification) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return "msg", nil
}

// lastState returns the state segment of the last link sent.
func (o *outbox) lastState(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if link := o.sent[i].Link; link != "" {
			state, err := url.PathUnescape(link[strings.LastIndex(link, "/")+1:])
			require.NoError(t, err)
			return state
		}
	}
	t.Fatal("no link was sent")
	return ""
}

type testApp struct {
	app     *fiber.App
	db      *bun.DB
	outbox  *outbox
	key     *rsa.PrivateKey
	cookies map[string]string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWithConfig(t, func(cfg *auth.Config) {
		cfg.JoinLinkBase = "https://club.example.com/invite"
		cfg.ResetLinkBase = "https://club.example.com/password-reset"
	})
}

func newTestAppWithConfig(t *testing.T, configure func(*auth.Config)) *testApp {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.CreateSchema(context.Background(), db))

	cfg := auth.DefaultConfig()
	cfg.BcryptCost = 4
	cfg.GoogleClientID = testGoogleClientID
	cfg.AppleClientID = testAppleClientID
	if configure != nil {
		configure(&cfg)
	}

	repo := repository.NewRepositoryManager(db)
	box := &outbox{}

	reconciler := auth.NewReconciler(repo, cfg).WithNotificationSender(box)
	lifecycle := auth.NewPasswordLifecycle(repo, cfg).WithNotificationSender(box)

	sessions, err := httpauth.NewSessions(httpauth.SessionConfig{
		SigningKey: []byte(strings.Repeat("s", 32)),
		Issuer:     "club",
	}, repo.Credentials())
	require.NoError(t, err)

	carrier, err := redirect.NewCarrier([]byte(strings.Repeat("e", 32)), []byte(strings.Repeat("h", 32)), time.Minute)
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kf := func(*jwt.Token) (any, error) { return &key.PublicKey, nil }

	google, err := providers.NewGoogleVerifier(cfg, providers.WithKeyfunc(kf))
	require.NoError(t, err)
	apple, err := providers.NewAppleVerifier(cfg, providers.WithKeyfunc(kf))
	require.NoError(t, err)

	controller := httpauth.NewController(reconciler, lifecycle, sessions,
		httpauth.WithCarrier(carrier),
		httpauth.WithVerifier(google, testGoogleClientID),
		httpauth.WithVerifier(apple, testAppleClientID),
	)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app = fiber.New()
		return app
	})
	controller.Register(srv.Router())

	return &testApp{app: app, db: db, outbox: box, key: key, cookies: map[string]string{}}
}

// do sends a request carrying the jar cookies and stores the ones set by
// the response.
func (a *testApp) do(t *testing.T, method, path string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	}
	for name, value := range a.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	for _, c := range resp.Cookies() {
		if c.Value == "" || c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(a.cookies, c.Name)
			continue
		}
		a.cookies[c.Name] = c.Value
	}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (a *testApp) idToken(t *testing.T, provider auth.Provider, subject, email, nonce string) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            subject,
		"email":          email,
		"email_verified": true,
		"nonce":          nonce,
		"iat":            now.Add(-time.Minute).Unix(),
		"exp":            now.Add(10 * time.Minute).Unix(),
	}
	switch provider {
	case auth.ProviderGoogle:
		claims["iss"] = "https://accounts.google.com"
		claims["aud"] = testGoogleClientID
	case auth.ProviderApple:
		claims["iss"] = auth.AppleIssuer
		claims["aud"] = testAppleClientID
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	require.NoError(t, err)
	return raw
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}
