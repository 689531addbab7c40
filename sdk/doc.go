// Package sdk provides a Go client for the Taobao Open Platform (TOP) RPC
// gateway. Every remote method is invoked generically by name; the client
// signs the request, sends it, decodes the JSON payload and retries
// transient failures.
//
// # Features
//
// The SDK provides:
//   - HMAC-MD5 and MD5 request signing
//   - Form, query-string and multipart (file upload) requests
//   - Retries keyed on the platform's error sub-codes, with backoff on rate limits
//   - Tolerant decoding of payloads with raw control characters
//   - A single typed error carrying the full diagnostic context
//   - Context support for cancellation and deadlines
//
// # Basic Usage
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//
//	    "github.com/birbparty/taobao-top/sdk"
//	)
//
//	func main() {
//	    client, err := sdk.NewClient(sdk.DefaultConfig().WithCredentials("12345678", "app-secret"))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer client.Close()
//
//	    resp, err := client.Call(context.Background(), "time_get", nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Println(resp.Result("taobao.time.get")["time"])
//	}
//
// # Call Names
//
// Call translates a call name into a remote method. Names default to the
// taobao namespace; a "__" selects another one, and the remaining
// underscores become dots:
//
//	client.Call(ctx, "item_get", params)        // taobao.item.get
//	client.Call(ctx, "tmall__item_get", params) // tmall.item.get
//
// Parameter names use the same "__" convention for dotted names, and
// Invoke takes the qualified method directly:
//
//	client.Invoke(ctx, "taobao.item.get", sdk.Params{"num_iid": 520000})
//
// # Parameter Values
//
// Parameters are converted to their wire form by kind: strings pass through,
// floats get two decimals, booleans become "true"/"false", times use
// "2006-01-02 15:04:05" in local time, and nil is dropped. Files are sent as
// multipart parts and are not signed:
//
//	image, err := sdk.OpenFile("item.jpg")
//	if err != nil {
//	    return err
//	}
//	defer image.Close()
//	_, err = client.Call(ctx, "item_img_upload", sdk.Params{"num_iid": 520000, "image": image})
//
// # Error Handling
//
// Every failure reported by the platform is an *APIError:
//
//	_, err := client.Call(ctx, "item_get", params)
//	if apiErr, ok := sdk.AsAPIError(err); ok {
//	    log.Printf("code=%d sub_code=%s", apiErr.Code, apiErr.SubCode)
//	}
//
// Transport failures are returned as *TransportError after the transport's
// own retries, and calls without parameters fail with ErrInvalidRequest.
//
// # Retries
//
// Sub-codes from DefaultRetrySubCodes, plus any configured with
// WithRetrySubCodes, are retried immediately up to RetryCount attempts.
// Rate-limit sub-codes are retried after a backoff:
//
//	config := sdk.DefaultConfig().
//	    WithRetryCount(3).
//	    WithBackoff(&sdk.ConstantBackoffStrategy{Interval: time.Second})
//
// # Observability
//
// Each attempt is logged through logrus with the message TOP_API_CALL. Pass
// a logger to see them:
//
//	config.WithLogger(logrus.StandardLogger())
//
// Calls are also reported to an Observer and traced with OpenTelemetry when
// a global tracer provider is installed.
//
// # Thread Safety
//
// The client is safe for concurrent use. Token changes made with
// SetAccessToken apply to calls started afterwards.
package sdk

// Version is the SDK version reported in the User-Agent header
const Version = "1.0.0"
