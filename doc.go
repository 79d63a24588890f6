// Package account implements user account lifecycle: registration with
// email verification, login, password reset and admin user management.
//
// Account lifecycle:
//   - Users are persisted via Bun and move between not_verified and active.
//     A pending one-time code on an active user means a password reset is
//     outstanding. AccountStateMachine owns every transition and performs the
//     matching persistence.
//   - AccountService is the entry point. Every operation returns a Result whose
//     Success flag carries the outcome and whose Error, when set, classifies
//     the failure through KindOf.
//
// Credentials and tokens:
//   - Passwords are salted and hashed with argon2id by default; bcrypt is
//     available through NewPasswordHasher.
//   - TokenService signs HS256 JWTs. Session tokens prove a login, action
//     tokens travel in verification and reset links next to the one-time code.
//
// Mail and activity:
//   - AccountMailer renders pongo2 templates into links built from MailConfig.
//     AsyncMailer delivers them on a worker pool so callers never wait on SMTP.
//   - ActivitySink receives lifecycle, login and mail failure events. Sinks run
//     best effort and their errors are only logged.
package account
