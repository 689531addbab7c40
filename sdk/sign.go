package sdk

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SignMethod selects how the request signature is computed.
type SignMethod string

const (
	// SignHMAC keys an HMAC-MD5 with the app secret. This is the default.
	SignHMAC SignMethod = "hmac"
	// SignMD5 hashes secret + data + secret with plain MD5.
	SignMD5 SignMethod = "md5"
)

// Valid reports whether m is a supported sign method
func (m SignMethod) Valid() bool {
	return m == SignHMAC || m == SignMD5
}

// signField is the name of the field carrying the signature. It never takes
// part in its own computation.
const signField = "sign"

// SignString returns the string that is signed: every key immediately
// followed by its value, in ascending key order, with no separators. The
// sign field itself is skipped.
func SignString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == signField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(fields[k])
	}
	return b.String()
}

// Sign computes the uppercase hex signature of fields with the app secret.
// File fields must not be included.
func Sign(method SignMethod, secret string, fields map[string]string) (string, error) {
	data := SignString(fields)

	var sum []byte
	switch method {
	case SignHMAC, "":
		mac := hmac.New(md5.New, []byte(secret))
		mac.Write([]byte(data))
		sum = mac.Sum(nil)
	case SignMD5:
		h := md5.Sum([]byte(secret + data + secret))
		sum = h[:]
	default:
		return "", fmt.Errorf("%w: unsupported sign method %q", ErrInvalidConfig, method)
	}
	return strings.ToUpper(hex.EncodeToString(sum)), nil
}

// Verify reports whether fields carry a valid signature for secret. The
// sign method is read from the sign_method field.
func Verify(secret string, fields map[string]string) bool {
	got, ok := fields[signField]
	if !ok {
		return false
	}
	want, err := Sign(SignMethod(fields["sign_method"]), secret, fields)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(strings.ToUpper(got)), []byte(want))
}
