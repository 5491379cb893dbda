package auth

import (
	"context"
	"net/url"
	"strings"
)

// Purpose identifies why a notification is sent
type Purpose string

const (
	PurposeInvite          Purpose = "invite"
	PurposeJoined          Purpose = "joined"
	PurposePasswordReset   Purpose = "password_reset"
	PurposePasswordUpdated Purpose = "password_updated"
	PurposeQuit            Purpose = "quit"
)

// Critical purposes carry a link the user is waiting for, a failed
// delivery must reach the caller.
func (p Purpose) Critical() bool {
	return p == PurposeInvite || p == PurposePasswordReset
}

// Label is the human readable purpose name.
func (p Purpose) Label() string {
	switch p {
	case PurposeInvite:
		return "invite"
	case PurposeJoined:
		return "welcome"
	case PurposePasswordReset:
		return "password reset"
	case PurposePasswordUpdated:
		return "password updated"
	case PurposeQuit:
		return "goodbye"
	}
	return string(p)
}

// Notification is a single outbound message
type Notification struct {
	Purpose  Purpose
	Email    string
	Link     string
	Provider Provider
}

func InviteNotification(link, email string) Notification {
	return Notification{Purpose: PurposeInvite, Link: link, Email: email, Provider: ProviderEmail}
}

func JoinedNotification(email string, provider Provider) Notification {
	return Notification{Purpose: PurposeJoined, Email: email, Provider: provider}
}

func PasswordResetNotification(link, email string) Notification {
	return Notification{Purpose: PurposePasswordReset, Link: link, Email: email, Provider: ProviderEmail}
}

func PasswordUpdatedNotification(email string) Notification {
	return Notification{Purpose: PurposePasswordUpdated, Email: email, Provider: ProviderEmail}
}

func QuitNotification(email string, provider Provider) Notification {
	return Notification{Purpose: PurposeQuit, Email: email, Provider: provider}
}

// NotificationSender delivers notifications and returns a delivery id.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) (string, error)
}

// NotificationSenderFunc adapts a function to NotificationSender.
type NotificationSenderFunc func(ctx context.Context, n Notification) (string, error)

func (f NotificationSenderFunc) Send(ctx context.Context, n Notification) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, n)
}

type noopSender struct{}

func (noopSender) Send(context.Context, Notification) (string, error) {
	return "", nil
}

func normalizeSender(s NotificationSender) NotificationSender {
	if s == nil {
		return noopSender{}
	}
	return s
}

// notifyInformational sends n and only logs failures.
func notifyInformational(ctx context.Context, sender NotificationSender, logger Logger, n Notification) {
	if _, err := normalizeSender(sender).Send(ctx, n); err != nil {
		logger.Warn("notification %s to %s failed: %v", n.Purpose, n.Email, err)
	}
}

// BuildLink appends the path escaped state to base.
func BuildLink(base, state string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(state)
}
