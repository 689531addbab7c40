package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/taobao-top/sdk/sdktest"
)

func newGatewayClient(t *testing.T, g *sdktest.Gateway, configure ...func(*Config)) *Client {
	t.Helper()

	config := DefaultConfig().
		WithCredentials("12345678", "secret").
		WithDomain(g.URL).
		WithBackoff(NoBackoff{})
	config.TransportConfig.MaxRetries = 1
	config.TransportConfig.RetryWaitMin = time.Millisecond
	config.TransportConfig.RetryWaitMax = time.Millisecond
	for _, fn := range configure {
		fn(config)
	}

	client, err := NewClient(config)
	require.NoError(t, err, "Failed to create client")
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_CallTimeGet(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)

	resp, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01 00:00:00", resp.Result("taobao.time.get")["time"])

	req := g.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/router/rest", req.Path)
	assert.Equal(t, "taobao.time.get", req.Fields["method"])
	assert.Equal(t, "12345678", req.Fields["app_key"])
	assert.Equal(t, "hmac", req.Fields["sign_method"])
	assert.Equal(t, "json", req.Fields["format"])
	assert.Equal(t, "2.0", req.Fields["v"])
	assert.NotContains(t, req.Fields, "session")
	assert.True(t, Verify("secret", req.Fields), "gateway receives a valid signature")

	_, err = time.ParseInLocation(TimestampLayout, req.Fields["timestamp"], time.Local)
	assert.NoError(t, err)

	assert.Equal(t, "gzip", req.Headers.Get("Accept-Encoding"))
	assert.Equal(t, "taobao-top-go-sdk/"+Version, req.Headers.Get("User-Agent"))
}

func TestClient_DynamicNames(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)

	for name, method := range map[string]string{
		"item_get":         "taobao.item.get",
		"tmall__item_get":  "tmall.item.get",
		"taobao__item_get": "taobao.item.get",
	} {
		_, err := client.Call(context.Background(), name, Params{"num_iid": 1})
		require.NoError(t, err)
		assert.Equal(t, method, g.LastRequest().Fields["method"], name)
	}

	_, err := client.Invoke(context.Background(), "alibaba.aliqin.fc.sms.num.send", Params{"item__num_iid": 1})
	require.NoError(t, err)
	assert.Equal(t, "alibaba.aliqin.fc.sms.num.send", g.LastRequest().Fields["method"])
	assert.Equal(t, "1", g.LastRequest().Fields["item.num_iid"])
}

func TestClient_AccessToken(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)
	ctx := context.Background()

	assert.True(t, client.IsExpired(), "no token means expired")

	client.SetAccessToken("session-1", time.Now().Add(time.Hour))
	assert.False(t, client.IsExpired())
	_, err := client.Call(ctx, "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "session-1", g.LastRequest().Fields["session"])

	_, err = client.Call(ctx, "time_get", Params{"session": "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", g.LastRequest().Fields["session"], "an explicit session wins")

	client.SetAccessToken("session-2", time.Now().Add(-time.Second))
	assert.True(t, client.IsExpired())
	_, err = client.Call(ctx, "time_get", nil)
	require.NoError(t, err)
	assert.NotContains(t, g.LastRequest().Fields, "session", "expired tokens are not sent")

	client.SetAccessToken("session-3", time.Time{})
	token, expiresAt := client.AccessToken()
	assert.Equal(t, "session-3", token)
	assert.Equal(t, DefaultTokenExpiry, expiresAt)
	assert.False(t, client.IsExpired())

	client.ClearAccessToken()
	assert.True(t, client.IsExpired())
	_, err = client.Call(ctx, "time_get", nil)
	require.NoError(t, err)
	assert.NotContains(t, g.LastRequest().Fields, "session")

	client.SetAccessToken("", time.Now().Add(time.Hour))
	assert.True(t, client.IsExpired(), "an empty token is unauthenticated")
}

func TestClient_RetryCount(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Body: sdktest.ErrorBody(15, "Remote service error", "isp.remote-connection-error", "timeout")})

	client := newGatewayClient(t, g, func(c *Config) { c.RetryCount = 3 })

	_, err := client.Call(context.Background(), "item_get", Params{"num_iid": 1})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "isp.remote-connection-error", apiErr.SubCode)
	assert.Equal(t, "req-isp.remote-connection-error", apiErr.RequestID)
	assert.Equal(t, 3, g.GetRequestCount())

	requests := g.GetRequests()
	for _, r := range requests[1:] {
		assert.Equal(t, requests[0].Fields["sign"], r.Fields["sign"], "signature is fixed across retries")
		assert.Equal(t, requests[0].Fields["timestamp"], r.Fields["timestamp"])
	}
}

func TestClient_CustomRetrySubCodes(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: sdktest.ErrorBody(15, "Remote service error", "isv.item-is-locked", "")})

	client := newGatewayClient(t, g, func(c *Config) { c.WithRetrySubCodes("isv.item-is-locked") })

	_, err := client.Call(context.Background(), "item_get", Params{"num_iid": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, g.GetRequestCount())
	assert.True(t, client.RetryPolicy().Retryable("isp.top-remote-unknown-error"), "defaults are kept")
}

func TestClient_PermanentError(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Body: sdktest.ErrorBody(27, "Invalid session", "invalid-sessionkey", "session expired")})

	client := newGatewayClient(t, g)

	_, err := client.Call(context.Background(), "item_get", Params{"num_iid": 1})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 27, apiErr.Code)
	assert.Equal(t, 1, g.GetRequestCount())
	assert.Contains(t, apiErr.Request, `"num_iid":"1"`)
}

func TestClient_NotJSON(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Body: "<html>oops</html>"})

	client := newGatewayClient(t, g, func(c *Config) { c.RetryCount = 2 })

	_, err := client.Call(context.Background(), "time_get", nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, SubCodeJSONDecode, apiErr.SubCode)
	assert.Contains(t, apiErr.SubMsg, "<html>oops</html>")
}

func TestClient_ControlCharactersInBody(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.EnqueueBody("{\"item_get_response\":{\"item\":{\"desc\":\"a\nb\"}}}")

	client := newGatewayClient(t, g)

	resp, err := client.Call(context.Background(), "item_get", Params{"num_iid": 1})
	require.NoError(t, err)
	item := resp.Result("taobao.item.get")["item"].(map[string]interface{})
	assert.Equal(t, "a\nb", item["desc"])
}

func TestClient_Upload(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: sdktest.ErrorBody(15, "Remote service error", "isp.top-remote-unknown-error", "")})
	g.EnqueueBody(`{"item_img_upload_response":{"item_img":{"id":1}}}`)

	client := newGatewayClient(t, g)
	image := NewFile("item.png", strings.NewReader("png-bytes"))

	_, err := client.Call(context.Background(), "item_img_upload", Params{"num_iid": 1, "image": image})
	require.NoError(t, err)

	requests := g.GetRequests()
	require.Len(t, requests, 2)
	for _, r := range requests {
		assert.Equal(t, "png-bytes", string(r.Files["image"]), "file is rewound on retry")
		assert.Equal(t, "item.png", r.FileNames["image"])
		assert.NotContains(t, r.Fields, "image")
		assert.True(t, Verify("secret", r.Fields), "files are not signed")
	}
}

func TestClient_GetMethod(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g, func(c *Config) { c.WithHTTPMethod(http.MethodGet) })

	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	req := g.LastRequest()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.True(t, Verify("secret", req.Fields))

	_, err = client.Call(context.Background(), "item_img_upload", Params{"image": NewFile("a.png", strings.NewReader("x"))})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 1, g.GetRequestCount())
}

func TestClient_MD5Signing(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g, func(c *Config) { c.WithSignMethod(SignMD5) })

	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	req := g.LastRequest()
	assert.Equal(t, "md5", req.Fields["sign_method"])
	assert.True(t, Verify("secret", req.Fields))
}

func TestClient_GzipBody(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: `{"time_get_response":{"time":"2024-05-06 07:08:09"}}`, Gzip: true})

	client := newGatewayClient(t, g)

	resp, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08:09", resp.Result("taobao.time.get")["time"])
}

func TestClient_ConnectionLevelRetry(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Status: http.StatusBadGateway, Body: "bad gateway"})

	client := newGatewayClient(t, g)

	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.GetRequestCount(), "502 is retried beneath the executor")
}

func TestClient_ConnectionRetriesExhausted(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Status: http.StatusInternalServerError, Body: "boom"})

	client := newGatewayClient(t, g)

	_, err := client.Call(context.Background(), "time_get", nil)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 2, g.GetRequestCount())
}

func TestClient_TransportError(t *testing.T) {
	g := sdktest.NewGateway()
	domain := g.URL
	g.Close()

	client := newGatewayClient(t, g, func(c *Config) {
		c.Domain = domain
		c.TransportConfig.MaxRetries = 0
	})

	_, err := client.Call(context.Background(), "time_get", nil)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.False(t, IsAPIError(err))
	assert.Contains(t, tErr.Op, "/router/rest")
}

func TestClient_Timeout(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.SetFallback(sdktest.Reply{Body: successBody, Delay: 2 * time.Second})

	client := newGatewayClient(t, g, func(c *Config) {
		c.WithTimeouts(50*time.Millisecond, time.Second)
		c.TransportConfig.MaxRetries = 0
	})

	start := time.Now()
	_, err := client.Call(context.Background(), "time_get", nil)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_InvalidRequest(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	transport := &scriptedTransport{}
	client := newGatewayClient(t, g, func(c *Config) { c.WithTransport(transport) })

	_, err := client.Execute(context.Background(), Params{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = client.Call(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = client.Invoke(context.Background(), "", Params{"a": 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 0, transport.calls)
}

func TestClient_SetTransport(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)

	var seen []string
	client.SetTransport(TransportFunc(func(ctx context.Context, req *SignedRequest, timeout time.Duration) ([]byte, error) {
		seen = append(seen, req.Method())
		return []byte(`{"item_get_response":{}}`), nil
	}))

	_, err := client.Call(context.Background(), "item_get", Params{"num_iid": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"taobao.item.get"}, seen)
	assert.Equal(t, 0, g.GetRequestCount())
}

func TestClient_Close(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "Close is idempotent")

	_, err := client.Call(context.Background(), "time_get", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_ServerTime(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.EnqueueBody(`{"time_get_response":{"time":"2024-03-04 05:06:07"}}`, `{"time_get_response":{"time":"yesterday"}}`)
	client := newGatewayClient(t, g)

	got, err := client.ServerTime(context.Background(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC), got)

	_, err = client.ServerTime(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_Observer(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: sdktest.ErrorBody(15, "Remote service error", "isp.top-remote-unknown-error", "")})

	metrics := NewMetricsCollector()
	client := newGatewayClient(t, g, func(c *Config) { c.WithObserver(metrics) })

	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	_, err = client.Invoke(context.Background(), "taobao.time.get", Params{"bad": true})
	require.NoError(t, err)

	snapshot := metrics.GetMetrics()
	assert.Equal(t, int64(2), snapshot["calls"].(map[string]int64)["taobao.time.get"])
	assert.Equal(t, int64(3), snapshot["attempts"].(map[string]int64)["taobao.time.get"])
	assert.Len(t, snapshot["latencies"].(map[string][]time.Duration)["taobao.time.get"], 2)
	assert.Empty(t, snapshot["errors"].(map[string]int64))
}

// callIDObserver records the call ids seen by each hook.
type callIDObserver struct {
	NoopObserver
	mu       sync.Mutex
	attempts []string
	ends     []string
}

func (o *callIDObserver) OnAttempt(event AttemptEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, event.CallID)
}

func (o *callIDObserver) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends = append(o.ends, callID)
}

func TestClient_ObserverCallID(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	g.Enqueue(sdktest.Reply{Body: sdktest.ErrorBody(15, "Remote service error", "isp.top-remote-unknown-error", "")})

	obs := &callIDObserver{}
	client := newGatewayClient(t, g, func(c *Config) { c.WithObserver(obs) })

	_, err := client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)
	_, err = client.Call(context.Background(), "time_get", nil)
	require.NoError(t, err)

	require.Len(t, obs.attempts, 3)
	require.Len(t, obs.ends, 2)
	assert.NotEmpty(t, obs.ends[0])
	assert.Equal(t, []string{obs.ends[0], obs.ends[0]}, obs.attempts[:2], "both attempts of the first call")
	assert.Equal(t, obs.ends[1], obs.attempts[2])
	assert.NotEqual(t, obs.ends[0], obs.ends[1])
}

func TestClient_RateLimiter(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	transport := &scriptedTransport{}
	client := newGatewayClient(t, g, func(c *Config) {
		c.WithTransport(transport).WithRateLimit(1000, 1)
	})

	for i := 0; i < 5; i++ {
		_, err := client.Call(context.Background(), "time_get", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, transport.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Call(ctx, "time_get", nil)
	assert.Error(t, err)
}

func TestClient_Concurrent(t *testing.T) {
	g := sdktest.NewGateway()
	defer g.Close()
	client := newGatewayClient(t, g)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				client.SetAccessToken(fmt.Sprintf("s-%d", n), time.Now().Add(time.Hour))
			}
			_, err := client.Call(context.Background(), "item_get", Params{"num_iid": n})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 20, g.GetRequestCount())
	for _, r := range g.GetRequests() {
		assert.True(t, Verify("secret", r.Fields))
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(DefaultConfig().WithCredentials("k", "s").WithDomain("http://"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
