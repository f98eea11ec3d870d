package utils

import "crypto/rand"

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomToken returns a lowercase alphanumeric token of the given length from
// a cryptographically strong source. Used for the taskId/turnId segments of
// storage keys.
func RandomToken(length int) string {
	buf := make([]byte, length)
	// crypto/rand.Read never returns a short read without an error; on an
	// unreadable entropy source there is nothing sane to fall back to.
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
