package sdk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// errorResponseKey is the payload key of a failed call.
const errorResponseKey = "error_response"

// Response is a decoded success payload. Numbers are kept as json.Number so
// large identifiers survive decoding.
//
// Example:
//
//	resp, err := client.Call(ctx, "time_get", nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Result("taobao.time.get")["time"])
type Response map[string]interface{}

// ResponseKey returns the top-level key under which method's result is
// returned: taobao.time.get -> time_get_response.
func ResponseKey(method string) string {
	name := strings.TrimPrefix(method, "taobao.")
	return strings.ReplaceAll(name, ".", "_") + "_response"
}

// Result returns the result section for method, or nil if it is missing.
func (r Response) Result(method string) map[string]interface{} {
	section, _ := r[ResponseKey(method)].(map[string]interface{})
	return section
}

// Decode re-encodes the result section for method into out.
func (r Response) Decode(method string, out interface{}) error {
	section, ok := r[ResponseKey(method)]
	if !ok {
		return fmt.Errorf("response has no %s section", ResponseKey(method))
	}
	data, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to re-encode %s: %w", ResponseKey(method), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", ResponseKey(method), err)
	}
	return nil
}

// errorSection returns the error payload, if the response carries one.
func (r Response) errorSection() (map[string]interface{}, bool) {
	raw, ok := r[errorResponseKey]
	if !ok {
		return nil, false
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		// A non-object error section still marks the call as failed.
		section = map[string]interface{}{"msg": fmt.Sprint(raw)}
	}
	return section, true
}

// decodeResponse parses body strictly, then with raw control characters in
// string literals escaped. If both fail it returns a synthetic error payload
// so the result flows through normal classification.
func decodeResponse(body []byte) Response {
	resp, err := decodeJSON(body)
	if err == nil {
		return resp
	}
	if resp, err2 := decodeJSON(sanitize(body)); err2 == nil {
		return resp
	}
	return jsonDecodeError(err, body)
}

func decodeJSON(body []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after the JSON object")
	}
	if resp == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return resp, nil
}

// sanitize escapes literal tab, newline and carriage return characters that
// appear inside JSON string literals. Structural whitespace is left alone.
func sanitize(body []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(body) + 16)
	inString, escaped := false, false
	for _, c := range body {
		if !inString {
			if c == '"' {
				inString = true
			}
			out.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			out.WriteByte(c)
		case c == '\\':
			escaped = true
			out.WriteByte(c)
		case c == '"':
			inString = false
			out.WriteByte(c)
		case c == '\t':
			out.WriteString(`\t`)
		case c == '\n':
			out.WriteString(`\n`)
		case c == '\r':
			out.WriteString(`\r`)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

// jsonDecodeError builds the local payload reported for undecodable bodies.
func jsonDecodeError(err error, body []byte) Response {
	return Response{
		errorResponseKey: map[string]interface{}{
			"code":     json.Number("15"),
			"msg":      "json decode error",
			"sub_code": SubCodeJSONDecode,
			"sub_msg":  fmt.Sprintf("json-error: %s || %s", err, body),
		},
	}
}
