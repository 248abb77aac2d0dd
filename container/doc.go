// Package container implements the vaultstream Engine over an absfs
// filesystem: one AEAD-sealed blob per chunk, a badger-backed registry of
// file records and pending import sessions, and password-based key
// derivation with Argon2id.
//
// Layout on the backing filesystem:
//
//	/files/<file-id>/<index>.chk     committed chunks of stored files
//	/imports/<import-id>/<index>.chk staged chunks of in-progress imports
//
// Each .chk blob carries a small binary header (magic, version, plaintext
// length, nonce) followed by ciphertext and the AEAD tag. Finishing an
// import renames its staged chunks into /files; aborting overwrites them
// with random bytes before unlinking.
package container
