package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Common errors returned by the SDK. These can be used with errors.Is()
// to check for specific error conditions.
//
// Example:
//
//	_, err := client.Call(ctx, "item_get", params)
//	if errors.Is(err, sdk.ErrInvalidRequest) {
//	    // Nothing was sent
//	}
var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRequest is returned when a call cannot be built, for example
	// because no parameters were supplied
	ErrInvalidRequest = errors.New("invalid request")

	// ErrClientClosed is returned for calls made after Close
	ErrClientClosed = errors.New("client is closed")
)

// Sub-codes with special meaning to the executor.
const (
	// SubCodeJSONDecode is reported when a response body is not valid JSON
	SubCodeJSONDecode = "ism.json-decode-error"
	// SubCodeAccessLimited is the per-API access count limit
	SubCodeAccessLimited = "accesscontrol.limited-by-api-access-count"
	// SubCodeCallLimited is the provider-side call frequency limit
	SubCodeCallLimited = "isp.call-limited"
)

// APIError is returned for every failure reported by the remote platform,
// including responses that could not be decoded.
//
// Example:
//
//	var apiErr *sdk.APIError
//	if errors.As(err, &apiErr) {
//	    log.Printf("code=%d sub_code=%s request_id=%s", apiErr.Code, apiErr.SubCode, apiErr.RequestID)
//	    log.Printf("request: %s", apiErr.Request)
//	}
type APIError struct {
	// Code is the coarse error code
	Code int `json:"code"`
	// Msg is the coarse error message
	Msg string `json:"msg"`
	// SubCode is the fine-grained error identifier
	SubCode string `json:"sub_code,omitempty"`
	// SubMsg is the fine-grained error message
	SubMsg string `json:"sub_msg,omitempty"`
	// RequestID is the remote request identifier for tracing
	RequestID string `json:"request_id,omitempty"`
	// Request is the rendered outbound request
	Request string `json:"-"`
	// Attempts is the number of attempts made before giving up
	Attempts int `json:"-"`
	// Extra holds any error payload keys not listed above
	Extra map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s", e.Code, e.Msg, e.SubCode, e.SubMsg, e.RequestID)
}

// Verbose renders the error followed by the outbound request
func (e *APIError) Verbose() string {
	return e.Error() + "|" + e.Request
}

// IsRetryable reports whether the sub-code is one of the default transient
// sub-codes. Client instances may retry a larger set.
func (e *APIError) IsRetryable() bool {
	_, ok := defaultRetrySubCodes[e.SubCode]
	return ok
}

// IsRateLimited reports whether the error is a rate-limit condition
func (e *APIError) IsRateLimited() bool {
	return isRateLimitSubCode(e.SubCode)
}

// newAPIError builds an APIError from a decoded error_response section.
func newAPIError(section map[string]interface{}, req *SignedRequest, attempts int) *APIError {
	e := &APIError{Attempts: attempts}
	if req != nil {
		e.Request = req.Render()
	}
	for k, v := range section {
		switch k {
		case "code":
			e.Code = toInt(v)
		case "msg":
			e.Msg = toString(v)
		case "sub_code":
			e.SubCode = toString(v)
		case "sub_msg":
			e.SubMsg = toString(v)
		case "request_id":
			e.RequestID = toString(v)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]interface{})
			}
			e.Extra[k] = v
		}
	}
	return e
}

// TransportError is returned when a request could not be exchanged with the
// gateway at all, after the transport's own retries.
//
// Example:
//
//	var tErr *sdk.TransportError
//	if errors.As(err, &tErr) {
//	    log.Printf("transport failure during %s: %v", tErr.Op, tErr.Err)
//	}
type TransportError struct {
	// Op is the operation that failed (e.g., "POST http://gw/router/rest")
	Op string
	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsAPIError returns the APIError in err's chain, if any
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAPIError reports whether err carries an APIError
func IsAPIError(err error) bool {
	_, ok := AsAPIError(err)
	return ok
}

// IsRetryable reports whether err is an APIError with a default transient
// sub-code.
func IsRetryable(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsRetryable()
}

// IsRateLimited reports whether err is an APIError for a rate-limit condition
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsRateLimited()
}

func isRateLimitSubCode(subCode string) bool {
	return subCode == SubCodeAccessLimited || subCode == SubCodeCallLimited
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(x)
	case int:
		return x
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return i
		}
	}
	return 0
}
