package vaultstream

import "crypto/rand"

// Wipe erases a buffer in place: one pass of random bytes, then zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	rand.Read(b)
	for i := range b {
		b[i] = 0
	}
}
