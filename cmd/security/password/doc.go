// Package password hashes and verifies user passwords with Argon2id.
//
// Encoded hashes use the PHC string layout
// ($argon2id$v=19$m=<KiB>,t=<iterations>,p=<parallelism>$<salt>$<key>) and are
// treated as untrusted input when verifying.
package password
