package notify

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
)

//go:embed templates/*.django
var templatesFS embed.FS

var subjects = map[auth.Purpose]string{
	auth.PurposeInvite:          "You are invited to join",
	auth.PurposeJoined:          "Welcome aboard",
	auth.PurposePasswordReset:   "Reset your password",
	auth.PurposePasswordUpdated: "Your password was changed",
	auth.PurposeQuit:            "Your membership has ended",
}

var providerLabels = map[auth.Provider]string{
	auth.ProviderApple:  "Sign in with Apple",
	auth.ProviderEmail:  "email and password",
	auth.ProviderGoogle: "Sign in with Google",
}

// Message is a rendered notification ready for a transport.
type Message struct {
	ID      string
	Purpose auth.Purpose
	To      string
	Subject string
	Body    string
}

// Renderer turns notifications into messages using the embedded django
// templates, one per purpose.
type Renderer struct {
	engine   *django.Engine
	tokenTTL time.Duration
}

func NewRenderer(tokenTTL time.Duration) (*Renderer, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open notification templates")
	}

	engine := django.NewFileSystem(http.FS(sub), ".django")
	if err := engine.Load(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load notification templates")
	}

	if tokenTTL <= 0 {
		tokenTTL = auth.DefaultTokenTTL
	}
	return &Renderer{engine: engine, tokenTTL: tokenTTL}, nil
}

func (r *Renderer) Render(n auth.Notification) (Message, error) {
	subject, ok := subjects[n.Purpose]
	if !ok {
		return Message{}, errors.New("unknown notification purpose", errors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": string(n.Purpose)})
	}

	binding := map[string]any{
		"email":          n.Email,
		"link":           n.Link,
		"provider":       string(n.Provider),
		"provider_label": providerLabels[n.Provider],
		"ttl":            humanDuration(r.tokenTTL),
	}

	var buf bytes.Buffer
	if err := r.engine.Render(&buf, string(n.Purpose), binding); err != nil {
		return Message{}, errors.Wrap(err, errors.CategoryInternal, "failed to render notification").
			WithMetadata(map[string]any{"purpose": string(n.Purpose)})
	}

	return Message{
		Purpose: n.Purpose,
		To:      n.Email,
		Subject: subject,
		Body:    strings.TrimSpace(buf.String()),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0 && d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
