package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Envelope field names added to every call.
const (
	FieldAppKey     = "app_key"
	FieldSignMethod = "sign_method"
	FieldFormat     = "format"
	FieldVersion    = "v"
	FieldTimestamp  = "timestamp"
	FieldMethod     = "method"
	FieldSession    = "session"
	FieldSign       = signField
)

// Fixed envelope values.
const (
	FormatJSON      = "json"
	ProtocolVersion = "2.0"
)

// SignedRequest is a call ready to be sent. It is built once per logical
// call and reused unchanged by every retry.
type SignedRequest struct {
	// URL is the gateway endpoint
	URL string
	// HTTPMethod is GET or POST
	HTTPMethod string
	// Fields holds every string field including the signature
	Fields map[string]string
	// Files holds stream fields; they are not part of the signature
	Files map[string]*File
	// Signature duplicates Fields["sign"]
	Signature string
}

// Method returns the remote method name of the request
func (r *SignedRequest) Method() string {
	return r.Fields[FieldMethod]
}

// HasFiles reports whether the request carries file fields
func (r *SignedRequest) HasFiles() bool {
	return len(r.Files) > 0
}

// Rewind seeks every file field back to its start.
func (r *SignedRequest) Rewind() error {
	for name, f := range r.Files {
		if err := f.Rewind(); err != nil {
			return fmt.Errorf("failed to rewind file field %s: %w", name, err)
		}
	}
	return nil
}

// Values returns the string fields as url.Values
func (r *SignedRequest) Values() url.Values {
	v := make(url.Values, len(r.Fields))
	for k, s := range r.Fields {
		v.Set(k, s)
	}
	return v
}

// QueryURL returns the URL with every field encoded in the query string.
func (r *SignedRequest) QueryURL() string {
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + r.Values().Encode()
}

// EncodeBody renders the request body and its content type: a url-encoded
// form, or multipart/form-data when any file field is present. File readers
// are consumed, so callers must Rewind before encoding again.
func (r *SignedRequest) EncodeBody() ([]byte, string, error) {
	if !r.HasFiles() {
		return []byte(r.Values().Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range sortedKeys(r.Fields) {
		if err := w.WriteField(k, r.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	names := make([]string, 0, len(r.Files))
	for k := range r.Files {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		f := r.Files[k]
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(k), escapeQuotes(f.Name)))
		h.Set("Content-Type", contentTypeOf(f.Name))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", k, err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", fmt.Errorf("failed to copy file field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Render returns the request fields as JSON for diagnostics. Files are
// rendered by name only.
func (r *SignedRequest) Render() string {
	out := make(map[string]string, len(r.Fields)+len(r.Files))
	for k, v := range r.Fields {
		out[k] = v
	}
	for k, f := range r.Files {
		out[k] = f.String()
	}
	data, err := renderJSON(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return data
}

// renderJSON encodes v without HTML escaping so that <, > and & stay
// readable in logs and errors.
func renderJSON(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// requestBuilder turns call parameters into signed requests.
type requestBuilder struct {
	appKey     string
	secret     string
	signMethod SignMethod
	now        func() time.Time
}

// build merges params with the envelope, canonicalises and signs them.
// Envelope fields override caller values of the same name.
func (b *requestBuilder) build(endpoint, httpMethod string, params Params) (*SignedRequest, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters", ErrInvalidRequest)
	}

	signMethod := b.signMethod
	if signMethod == "" {
		signMethod = SignHMAC
	}

	merged := params.clone()
	merged[FieldAppKey] = b.appKey
	merged[FieldSignMethod] = string(signMethod)
	merged[FieldFormat] = FormatJSON
	merged[FieldVersion] = ProtocolVersion
	merged[FieldTimestamp] = Time(b.now())

	fields, files := canonicalize(merged)
	if len(files) > 0 && httpMethod == http.MethodGet {
		return nil, fmt.Errorf("%w: file fields cannot be sent with GET", ErrInvalidRequest)
	}

	sig, err := Sign(signMethod, b.secret, fields)
	if err != nil {
		return nil, err
	}
	fields[FieldSign] = sig

	return &SignedRequest{
		URL:        endpoint,
		HTTPMethod: httpMethod,
		Fields:     fields,
		Files:      files,
		Signature:  sig,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func contentTypeOf(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
