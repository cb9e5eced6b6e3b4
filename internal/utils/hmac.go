package utils

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignHMACSHA512Hex returns the lowercase hex HMAC-SHA512 of body, the
// scheme Paystack uses for x-paystack-signature
func SignHMACSHA512Hex(body []byte, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMACSHA512Hex checks a hex HMAC-SHA512 signature in constant time
func VerifyHMACSHA512Hex(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignHMACSHA512Hex(body, secret)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) == 1
}
