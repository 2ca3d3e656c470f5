// Package session issues, verifies and rotates the stateless access/refresh
// token pair, manages the two httpOnly auth cookies and owns the sliding-window
// limiter that guards sign-in attempts.
//
// Access and refresh tokens are HS256 JWTs signed with distinct secrets.
// There is no server-side revocation list: a token is valid until it expires.
//
// The attempt limiter is process-local by default (MemoryAttemptStore). A
// multi-instance deployment can plug in PostgresAttemptStore so every instance
// counts against the same window.
package session
