package fasttransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/taobao-top/sdk"
	"github.com/birbparty/taobao-top/sdk/sdktest"
)

func newClient(t *testing.T, g *sdktest.Gateway) *sdk.Client {
	t.Helper()
	transport := New(Config{Headers: map[string]string{"X-Tenant": "shop-1"}})
	client, err := sdk.NewClient(sdk.DefaultConfig().
		WithCredentials("12345678", "secret").
		WithDomain(g.Domain()).
		WithTransport(transport).
		WithBackoff(sdk.NoBackoff{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = transport.Close()
	})
	return client
}

func TestTransport_Call(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()

	client := newClient(t, g)
	resp, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01 00:00:00", resp.Result("taobao.time.get")["time"])

	req := g.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/router/rest", req.Path)
	assert.Equal(t, "taobao.time.get", req.Fields["method"])
	assert.NotEmpty(t, req.Fields["sign"])
	assert.Equal(t, "gzip", req.Headers.Get("Accept-Encoding"))
	assert.Equal(t, "shop-1", req.Headers.Get("X-Tenant"))
	assert.Equal(t, "taobao-top-go-sdk/"+sdk.Version, req.Headers.Get("User-Agent"))
}

func TestTransport_Gzip(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: `{"time_get_response":{"time":"2024-05-06 07:08:09"}}`, Gzip: true})

	resp, err := newClient(t, g).Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08:09", resp.Result("taobao.time.get")["time"])
}

func TestTransport_Upload(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.EnqueueBody(`{"picture_upload_response":{"picture":{"picture_id":1}}}`)

	_, err := newClient(t, g).Call(context.Background(), "picture_upload", sdk.Params{
		"picture_category_id": 0,
		"img":                 sdk.NewFile("a.jpg", strings.NewReader("jpeg-bytes")),
	})
	require.NoError(t, err)

	req := g.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, []byte("jpeg-bytes"), req.Files["img"])
	assert.Equal(t, "a.jpg", req.FileNames["img"])
	assert.Equal(t, "0", req.Fields["picture_category_id"])
}

func TestTransport_APIErrorRetried(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.EnqueueBody(sdktest.ErrorBody(15, "Remote service error", "isp.top-remote-unknown-error", "try later"))

	client := newClient(t, g)
	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.GetRequestCount())
}

func TestTransport_Timeout(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Body: "{}", Delay: 500 * time.Millisecond})

	transport := New(Config{})
	req := &sdk.SignedRequest{URL: g.URL + "/router/rest", HTTPMethod: http.MethodPost, Fields: map[string]string{"method": "x"}}

	_, err := transport.Do(context.Background(), req, 50*time.Millisecond)
	var terr *sdk.TransportError
	require.ErrorAs(t, err, &terr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = transport.Do(ctx, req, time.Second)
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransport_Redirects(t *testing.T) {
	hops := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		hops++
		http.Redirect(w, r, server.URL+"/final", http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	req := &sdk.SignedRequest{URL: server.URL + "/router/rest", HTTPMethod: http.MethodGet, Fields: map[string]string{"method": "x"}}

	body, err := New(Config{}).Do(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, hops)

	loop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer loop.Close()

	req.URL = loop.URL + "/router/rest"
	_, err = New(Config{MaxRedirects: 2}).Do(context.Background(), req, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
