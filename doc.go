// Package accounts implements the account lifecycle for a customer and
// administrator portal: registration, email ownership proof, password
// recovery, session tokens and external identity linking.
//
// Account lifecycle:
//   - Accounts move between unverified, verified and deactivated states.
//     AccountStateMachine owns the transition graph; Manager drives it from
//     the boundary operations (Register, VerifyEmail, Login, Deactivate,
//     LinkExternalIdentity, ...).
//   - Email and document number are unique among active accounts only, so a
//     deactivated account can be resurrected by a new registration carrying
//     the same document number (see AccountStateMachine.Reactivate).
//
// Signed proofs:
//   - LinkSigner produces email verification proofs bound to the account id
//     and a fingerprint of the current email. Changing the email voids every
//     outstanding link.
//   - Password reset tickets hold a bcrypt hash of a random secret, one live
//     ticket per email.
//
// Sessions:
//   - SessionIssuer signs HS256 JWTs. Revocation is a Denylist entry keyed by
//     token id that lives as long as the token would have.
//
// Activity sinks:
//   - ActivitySink receives audit events for every transition. Sinks run
//     best-effort, errors are logged.
package accounts
