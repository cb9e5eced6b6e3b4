package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSecureToken returns n random bytes encoded as URL-safe base64
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateReferralCode creates a random A-Z0-9 code
func GenerateReferralCode(length int) (string, error) {
	return randomCode(length)
}

// GenerateTransactionReference creates a unique gateway reference such as
// ORD_20260105142233_7KQ2M9XA
func GenerateTransactionReference(prefix string) (string, error) {
	random, err := randomCode(8)
	if err != nil {
		return "", err
	}
	timestamp := time.Now().UTC().Format("20060102150405")
	return strings.ToUpper(fmt.Sprintf("%s_%s_%s", prefix, timestamp, random)), nil
}

func randomCode(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(codeCharset)))

	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = codeCharset[n.Int64()]
	}

	return string(result), nil
}
