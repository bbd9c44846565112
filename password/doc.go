// Package password implements salted adaptive password hashing and
// constant-time verification.
//
// # Algorithms
//
// Two [Hasher] implementations are provided:
//
//	bcrypt:   $2a$<cost>$<salt+hash>                      (default, cost 12)
//	argon2id: $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Every call to Hash draws a fresh random salt, so hashing the same password
// twice yields different strings that both verify. NeedsUpgrade reports
// hashes produced with weaker parameters than the current configuration.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy
// (confirmation, minimum length) is enforced by the Engine's registration flow.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords or hashes.
package password
