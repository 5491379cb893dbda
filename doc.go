// Package auth reconciles identities from three credential sources
// (email and password, Sign in with Apple, Sign in with Google) into
// user accounts.
//
// Reconciliation:
//   - Reconciler takes a verified IdentityAssertion and the Intent the client
//     declared before any redirect, and returns an Outcome. An exact
//     credential match always signs in. Without a match a join creates a user
//     and credential in one transaction, unless the email is already
//     registered with another provider, in which case nothing is created.
//
// Password lifecycle:
//   - PasswordLifecycle issues single use state tokens for invites and
//     resets, mails the link through a NotificationSender, and redeems the
//     token to set a password. Redeeming deletes every token issued for the
//     same email.
//   - Authenticated members can change their password or unjoin. An unjoined
//     credential is reactivated when the member joins again.
//
// Errors:
//   - Every rejection is an *AuthError with a Kind. Rich maps it onto
//     go-errors for transport layers and Flash returns the subset that can
//     be stored in a cookie for the next page.
//
// Activity sinks:
//   - ActivitySink receives sign in, join, token and password events. Sinks
//     run best-effort (errors are logged).
package auth
