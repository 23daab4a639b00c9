// Package ids generates short random identifiers for storage keys and
// download filenames.
package ids

import "math/rand"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// KeyLength is the default identifier length used for storage keys.
const KeyLength = 21

// NewKey returns n characters drawn uniformly from the alphanumeric
// alphabet. Collision risk is accepted as negligible at expected volumes;
// this is not a security boundary, so math/rand is deliberate.
func NewKey(n int) string {
	if n <= 0 {
		n = KeyLength
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
