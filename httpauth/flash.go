package httpauth

import (
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-router"
)

const CookieFlash = "auth_flash"

// SetFlash stores err in a short lived cookie so the next page can render
// it after a redirect.
func SetFlash(ctx router.Context, err *auth.AuthError, secure bool) error {
	value, encErr := auth.EncodeFlash(err)
	if encErr != nil {
		return encErr
	}
	ctx.Cookie(&router.Cookie{
		Name:     CookieFlash,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(5 * time.Minute),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
	})
	return nil
}

// TakeFlash reads and clears the flash cookie. It returns nil when there
// is no flash or the value cannot be decoded.
func TakeFlash(ctx router.Context) *auth.AuthError {
	value := ctx.Cookies(CookieFlash)
	if value == "" {
		return nil
	}
	clearCookie(ctx, CookieFlash, "Lax", false)

	err, decErr := auth.DecodeFlash(value)
	if decErr != nil {
		return nil
	}
	return err
}

// clearCookie expires name on the client.
func clearCookie(ctx router.Context, name, sameSite string, secure bool) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * 24),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
