package xid

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "req-3f2c...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Digits returns n random decimal digits. Used for generated barcodes.
func Digits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
