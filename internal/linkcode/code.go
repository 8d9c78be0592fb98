package linkcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I) so codes
// survive being read aloud or retyped from a screenshot.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a link code.
const CodeLength = 6

// generateCode returns a random link code from the unambiguous alphabet.
func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate link code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
