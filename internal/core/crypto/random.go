package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// PasswordAlphabet is used for generated service passwords. It leaves out
// quotes, backslashes, '$' and '#' so values survive dotenv files and compose
// interpolation unescaped.
const PasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!%*+-.:=@^_~"

// RandomHex returns n random bytes from crypto/rand, hex encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomPassword returns a password of the given length drawn uniformly from
// alphabet.
func RandomPassword(length int, alphabet string) (string, error) {
	if length <= 0 || alphabet == "" {
		return "", fmt.Errorf("invalid password spec: length %d, alphabet size %d", length, len(alphabet))
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
