package sdk

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGunzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"ok":true}`))
	require.NoError(t, zw.Close())

	out, err := gunzip(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(out))

	out, err = gunzip(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = gunzip([]byte("not gzip"))
	assert.Error(t, err)
}

func TestHTTPTransport_Headers(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(TransportConfig{Headers: map[string]string{"X-Tenant": "shop-1"}})
	defer transport.Close()

	req := &SignedRequest{URL: server.URL, HTTPMethod: http.MethodPost, Fields: map[string]string{"method": "taobao.time.get"}}
	body, err := transport.Do(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))

	assert.Equal(t, "gzip", got.Get("Accept-Encoding"))
	assert.Equal(t, "shop-1", got.Get("X-Tenant"))
	assert.Equal(t, userAgent, got.Get("User-Agent"))
	assert.Contains(t, got.Get("Content-Type"), "application/x-www-form-urlencoded")
}

func TestHTTPTransport_StatusNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error_response":{"code":7}}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(TransportConfig{RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})
	req := &SignedRequest{URL: server.URL, HTTPMethod: http.MethodPost, Fields: map[string]string{}}

	body, err := transport.Do(context.Background(), req, time.Second)
	require.NoError(t, err, "503 is not a connection-level retry status")
	assert.Equal(t, 1, calls)
	assert.Contains(t, string(body), "error_response")
}

func TestHTTPTransport_RedirectLimit(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	transport := NewHTTPTransport(TransportConfig{MaxRedirects: 2, MaxRetries: -1})
	req := &SignedRequest{URL: server.URL, HTTPMethod: http.MethodGet, Fields: map[string]string{}}

	_, err := transport.Do(context.Background(), req, time.Second)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
