package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// ValueBytes is the entropy of a token value before hex encoding.
const ValueBytes = 32

// GenerateValue returns a fresh token value from r, hex encoded.
func GenerateValue(r io.Reader) (string, error) {
	b := make([]byte, ValueBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func generateValue() (string, error) {
	return GenerateValue(rand.Reader)
}
