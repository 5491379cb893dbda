package httpauth

import (
	"errors"
	"net/http"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/providers"
	"github.com/goliatone/go-auth-accounts/redirect"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Controller exposes the reconciler and password lifecycle over go-router.
type Controller struct {
	reconciler *auth.Reconciler
	lifecycle  *auth.PasswordLifecycle
	sessions   *Sessions
	carrier    *redirect.Carrier
	verifiers  map[auth.Provider]providers.Verifier
	clientIDs  map[auth.Provider]string
	logger     auth.Logger
	secure     bool
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithCarrier enables the provider redirect routes.
func WithCarrier(carrier *redirect.Carrier) ControllerOption {
	return func(h *Controller) {
		h.carrier = carrier
	}
}

// WithVerifier registers an ID token verifier and the client id handed to
// the browser when the flow begins.
func WithVerifier(v providers.Verifier, clientID string) ControllerOption {
	return func(h *Controller) {
		if v == nil {
			return
		}
		h.verifiers[v.Provider()] = v
		h.clientIDs[v.Provider()] = clientID
	}
}

func WithControllerLogger(logger auth.Logger) ControllerOption {
	return func(h *Controller) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSecureCookies marks flash cookies as Secure.
func WithSecureCookies(secure bool) ControllerOption {
	return func(h *Controller) {
		h.secure = secure
	}
}

func NewController(reconciler *auth.Reconciler, lifecycle *auth.PasswordLifecycle, sessions *Sessions, opts ...ControllerOption) *Controller {
	h := &Controller{
		reconciler: reconciler,
		lifecycle:  lifecycle,
		sessions:   sessions,
		verifiers:  map[auth.Provider]providers.Verifier{},
		clientIDs:  map[auth.Provider]string{},
		logger:     auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the routes on r. Invite links point at /invite/:state,
// /join/:state only accepts tokens issued with a pending secret.
func (h *Controller) Register(r RouteRegistrar) {
	requireSession := h.RequireSession()

	r.Post("/join", h.Join).SetName("auth.join")
	r.Post("/join/:state", h.ConfirmJoin).SetName("auth.join.confirm")
	r.Post("/sign-in", h.SignIn).SetName("auth.sign_in")
	r.Post("/sign-out", h.SignOut).SetName("auth.sign_out")
	r.Post("/invite", h.Invite).SetName("auth.invite")
	r.Post("/invite/:state", h.SetPassword).SetName("auth.invite.redeem")
	r.Post("/password-reset", h.PasswordReset).SetName("auth.password_reset")
	r.Post("/password-reset/:state", h.SetPassword).SetName("auth.password_reset.redeem")
	r.Post("/password", requireSession(h.ChangePassword)).SetName("auth.password")
	r.Post("/unjoin", requireSession(h.Unjoin)).SetName("auth.unjoin")
	r.Get("/session", h.Session).SetName("auth.session")
	r.Get("/auth/:provider/begin", h.Begin).SetName("auth.provider.begin")
	r.Post("/auth/:provider/callback", h.Callback).SetName("auth.provider.callback")
}

func (h *Controller) Join(ctx router.Context) error {
	return h.emailReconcile(ctx, auth.IntentJoin)
}

func (h *Controller) SignIn(ctx router.Context) error {
	return h.emailReconcile(ctx, auth.IntentSignIn)
}

func (h *Controller) emailReconcile(ctx router.Context, intent auth.Intent) error {
	payload := new(CredentialsPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.fail(ctx, auth.ValidationFailed("request", "Malformed request body."))
	}
	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	outcome, err := h.reconciler.Reconcile(ctx.Context(), h.sessions.For(ctx), auth.IdentityAssertion{
		Provider: auth.ProviderEmail,
		Email:    payload.Email,
		Password: payload.Password,
	}, intent)
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.respondOutcome(ctx, outcome, "")
}

func (h *Controller) Invite(ctx router.Context) error {
	return h.requestLink(ctx, true)
}

func (h *Controller) PasswordReset(ctx router.Context) error {
	return h.requestLink(ctx, false)
}

func (h *Controller) requestLink(ctx router.Context, isNewUser bool) error {
	payload := new(EmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.fail(ctx, auth.ValidationFailed("request", "Malformed request body."))
	}
	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	token, err := h.lifecycle.RequestJoinOrReset(ctx.Context(), payload.Email, isNewUser)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"email":      token.Email,
		"expires_at": token.ExpiresAt,
	})
}

func (h *Controller) SetPassword(ctx router.Context) error {
	payload := new(PasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.fail(ctx, auth.ValidationFailed("request", "Malformed request body."))
	}
	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	user, created, err := h.lifecycle.RedeemAndSetPassword(
		ctx.Context(),
		h.sessions.For(ctx),
		ctx.Param("state"),
		payload.Password,
		payload.ConfirmPassword,
	)
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.respondRedeemed(ctx, user, created)
}

// ConfirmJoin redeems an invite that already carries the password hash.
func (h *Controller) ConfirmJoin(ctx router.Context) error {
	user, created, err := h.lifecycle.RedeemPendingSecret(ctx.Context(), h.sessions.For(ctx), ctx.Param("state"))
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.respondRedeemed(ctx, user, created)
}

func (h *Controller) respondRedeemed(ctx router.Context, user *auth.User, created bool) error {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return ctx.JSON(status, map[string]any{
		"user_id": user.ID.String(),
		"email":   user.Email,
		"created": created,
	})
}

func (h *Controller) ChangePassword(ctx router.Context) error {
	payload := new(PasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.fail(ctx, auth.ValidationFailed("request", "Malformed request body."))
	}
	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	cred, err := h.lifecycle.ChangeAuthenticatedPassword(
		ctx.Context(),
		h.sessions.For(ctx),
		payload.Password,
		payload.ConfirmPassword,
	)
	if err != nil {
		return h.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, credentialView(cred))
}

func (h *Controller) SignOut(ctx router.Context) error {
	if err := h.sessions.For(ctx).Logout(ctx.Context(), true); err != nil {
		return h.fail(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (h *Controller) Unjoin(ctx router.Context) error {
	if err := h.lifecycle.Unjoin(ctx.Context(), h.sessions.For(ctx)); err != nil {
		return h.fail(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Session reports the signed in credential and any pending flash error.
func (h *Controller) Session(ctx router.Context) error {
	body := map[string]any{}
	if flash := TakeFlash(ctx); flash != nil {
		body["flash"] = errorView(flash.Rich().Metadata, flash)
	}

	cred, err := h.sessions.For(ctx).CurrentCredential(ctx.Context())
	if err != nil {
		h.logger.Debug("session cookie rejected: %v", err)
	}
	if cred == nil {
		body["authenticated"] = false
		return ctx.JSON(http.StatusUnauthorized, body)
	}

	body["authenticated"] = true
	body["credential"] = credentialView(cred)
	return ctx.JSON(http.StatusOK, body)
}

// Begin seals a fresh redirect state into a cookie and returns the values
// the browser passes to the provider.
func (h *Controller) Begin(ctx router.Context) error {
	provider, verifier, err := h.providerFor(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	query := ctx.Queries()
	intent := auth.Intent(query["intent"])
	if intent == "" {
		intent = auth.IntentSignIn
	}
	if !intent.Valid() {
		return h.fail(ctx, auth.ValidationFailed("intent", "Unknown intent."))
	}

	st, sealed, err := h.carrier.Begin(verifier.Provider(), intent, query["redirect"])
	if err != nil {
		return h.fail(ctx, err)
	}

	// the provider posts back cross site, Lax cookies would not be sent
	ctx.Cookie(&router.Cookie{
		Name:     redirect.CookieState,
		Value:    sealed,
		Path:     "/",
		Expires:  time.Now().Add(h.carrier.TTL()),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "None",
	})

	return ctx.JSON(http.StatusOK, map[string]any{
		"provider":  string(provider),
		"client_id": h.clientIDs[provider],
		"state":     st.Value,
		"nonce":     st.Nonce,
		"intent":    string(st.Intent),
	})
}

// Callback receives the provider form post, checks the anti forgery
// values and reconciles the verified identity.
func (h *Controller) Callback(ctx router.Context) error {
	provider, verifier, err := h.providerFor(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	payload := new(CallbackPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.fail(ctx, auth.ValidationFailed("request", "Malformed request body."))
	}
	if err := payload.Validate(provider); err != nil {
		return h.fail(ctx, validationError(err))
	}

	cookie := ctx.Cookies(redirect.CookieState)
	clearCookie(ctx, redirect.CookieState, "None", true)

	var st *redirect.State
	switch provider {
	case auth.ProviderGoogle:
		if err := redirect.CheckDoubleSubmit(ctx.Cookies(redirect.CookieGoogleCSRF), payload.CSRFToken); err != nil {
			return h.fail(ctx, err)
		}
		if st, err = h.carrier.Open(cookie); err != nil {
			return h.fail(ctx, err)
		}
		if st.Provider != provider {
			return h.fail(ctx, redirect.ErrStateMismatch)
		}
	default:
		if st, err = h.carrier.Verify(cookie, payload.State, provider); err != nil {
			return h.fail(ctx, err)
		}
	}

	identity, err := verifier.Verify(ctx.Context(), payload.Token(), st.Nonce)
	if err != nil {
		return h.fail(ctx, err)
	}

	outcome, err := h.reconciler.Reconcile(ctx.Context(), h.sessions.For(ctx), identity.Assertion(), st.Intent)
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.respondOutcome(ctx, outcome, st.RedirectURL)
}

func (h *Controller) providerFor(ctx router.Context) (auth.Provider, providers.Verifier, error) {
	provider, err := auth.ParseProvider(ctx.Param("provider"))
	if err != nil || provider == auth.ProviderEmail {
		return "", nil, auth.ValidationFailed("provider", "Unknown identity provider.")
	}
	verifier, ok := h.verifiers[provider]
	if !ok || h.carrier == nil {
		return "", nil, auth.ValidationFailed("provider", "Identity provider is not enabled.")
	}
	return provider, verifier, nil
}

func (h *Controller) respondOutcome(ctx router.Context, outcome auth.Outcome, redirectURL string) error {
	if err := outcome.Err(); err != nil {
		return h.fail(ctx, err)
	}

	status := http.StatusOK
	if outcome.Kind == auth.OutcomeCreated {
		status = http.StatusCreated
	}

	body := map[string]any{
		"outcome":    string(outcome.Kind),
		"provider":   string(outcome.Provider),
		"email":      outcome.Email,
		"rejoined":   outcome.Rejoined,
		"credential": credentialView(outcome.Credential),
	}
	if len(outcome.OtherProviders) > 0 {
		others := make([]string, 0, len(outcome.OtherProviders))
		for _, p := range outcome.OtherProviders {
			others = append(others, string(p))
		}
		body["other_providers"] = others
	}
	if redirectURL != "" {
		body["redirect"] = redirectURL
	}
	return ctx.JSON(status, body)
}

// fail writes err as a JSON error. Engine errors are also stored as a
// flash so a redirecting client can render them on the next page.
func (h *Controller) fail(ctx router.Context, err error) error {
	if ae, ok := auth.AsAuthError(err); ok {
		rich := ae.Rich()
		if flashErr := SetFlash(ctx, ae, h.secure); flashErr != nil {
			h.logger.Warn("failed to set flash cookie: %v", flashErr)
		}
		h.logger.Info("auth request rejected: %s", ae.Error())
		return ctx.JSON(statusOf(rich), map[string]any{"error": errorView(rich.Metadata, ae)})
	}

	var rich *goerrors.Error
	if errors.As(err, &rich) {
		status := statusOf(rich)
		if status >= http.StatusInternalServerError {
			h.logger.Error("auth request failed: %v", err)
			return ctx.JSON(status, map[string]any{"error": map[string]any{"message": "Internal error."}})
		}
		return ctx.JSON(status, map[string]any{"error": map[string]any{
			"text_code": rich.TextCode,
			"message":   rich.Message,
		}})
	}

	h.logger.Error("auth request failed: %v", err)
	return ctx.JSON(http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "Internal error."}})
}

func statusOf(rich *goerrors.Error) int {
	if rich.Code >= 400 && rich.Code < 600 {
		return rich.Code
	}
	switch rich.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func errorView(meta map[string]any, ae *auth.AuthError) map[string]any {
	view := map[string]any{
		"kind":    string(ae.Kind),
		"message": ae.Message(),
	}
	for _, key := range []string{"provider", "field", "messages", "purpose"} {
		if v, ok := meta[key]; ok {
			view[key] = v
		}
	}
	return view
}

func credentialView(cred *auth.Credential) map[string]any {
	if cred == nil {
		return nil
	}
	return map[string]any{
		"id":       cred.ID.String(),
		"user_id":  cred.UserID.String(),
		"email":    cred.Email,
		"provider": string(cred.Provider),
	}
}
