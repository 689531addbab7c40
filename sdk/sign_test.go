package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeGetFields(signMethod string) map[string]string {
	return map[string]string{
		"app_key":     "12345678",
		"format":      "json",
		"method":      "taobao.time.get",
		"sign_method": signMethod,
		"timestamp":   "2024-01-02 03:04:05",
		"v":           "2.0",
	}
}

func TestSignString(t *testing.T) {
	fields := timeGetFields("hmac")
	fields["sign"] = "IGNORED"

	assert.Equal(t,
		"app_key12345678formatjsonmethodtaobao.time.getsign_methodhmactimestamp2024-01-02 03:04:05v2.0",
		SignString(fields))
}

func TestSign(t *testing.T) {
	tests := []struct {
		name   string
		method SignMethod
		want   string
	}{
		{"hmac", SignHMAC, "8A7C829905F686E866B30C15586C1991"},
		{"md5", SignMD5, "C861DE419411051365092201810331C3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Sign(tt.method, "secret", timeGetFields(string(tt.method)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}

	t.Run("empty method means hmac", func(t *testing.T) {
		sig, err := Sign("", "secret", timeGetFields("hmac"))
		require.NoError(t, err)
		assert.Equal(t, "8A7C829905F686E866B30C15586C1991", sig)
	})

	t.Run("empty field set", func(t *testing.T) {
		sig, err := Sign(SignHMAC, "secret", map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, "5C8DB03F04CEC0F43BCB060023914190", sig)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := Sign("sha1", "secret", timeGetFields("sha1"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestSign_OrderIndependent(t *testing.T) {
	keys := []string{"b", "a", "method", "z", "app_key", "c.d"}

	first := make(map[string]string)
	for _, k := range keys {
		first[k] = "v-" + k
	}
	second := make(map[string]string)
	for i := len(keys) - 1; i >= 0; i-- {
		second[keys[i]] = "v-" + keys[i]
	}

	for i := 0; i < 20; i++ {
		a, err := Sign(SignHMAC, "secret", first)
		require.NoError(t, err)
		b, err := Sign(SignHMAC, "secret", second)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestSign_SecretMatters(t *testing.T) {
	a, err := Sign(SignHMAC, "secret", timeGetFields("hmac"))
	require.NoError(t, err)
	b, err := Sign(SignHMAC, "other", timeGetFields("hmac"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify(t *testing.T) {
	fields := timeGetFields("md5")
	fields["sign"] = "C861DE419411051365092201810331C3"
	assert.True(t, Verify("secret", fields))

	fields["sign"] = "c861de419411051365092201810331c3"
	assert.True(t, Verify("secret", fields), "lowercase signatures are accepted")

	fields["timestamp"] = "2024-01-02 03:04:06"
	assert.False(t, Verify("secret", fields))

	delete(fields, "sign")
	assert.False(t, Verify("secret", fields))
}

func TestSignMethod_Valid(t *testing.T) {
	assert.True(t, SignHMAC.Valid())
	assert.True(t, SignMD5.Valid())
	assert.False(t, SignMethod("sha256").Valid())
	assert.False(t, SignMethod("").Valid())
}
