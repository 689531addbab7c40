// Package sdktest provides a scripted TOP gateway for tests.
package sdktest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Reply is one scripted gateway answer.
type Reply struct {
	// Status is the HTTP status. Zero means 200.
	Status int
	// Body is written verbatim
	Body string
	// Gzip compresses the body and sets Content-Encoding
	Gzip bool
	// Delay is slept before answering
	Delay time.Duration
}

// RecordedRequest stores information about a received request
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	// Fields holds query, form or multipart text fields
	Fields map[string]string
	// Files holds multipart file contents by field name
	Files map[string][]byte
	// FileNames holds multipart file names by field name
	FileNames map[string]string
	Time      time.Time
}

// Gateway is an httptest server that records every request and answers from
// a queue of replies. When the queue is empty it answers with the fallback.
type Gateway struct {
	*httptest.Server
	mu           sync.RWMutex
	queue        []Reply
	fallback     Reply
	requestCount atomic.Int32
	requests     []RecordedRequest
}

// NewGateway starts a gateway whose fallback reply is an empty success
// payload.
func NewGateway() *Gateway {
	g := &Gateway{
		fallback: Reply{Body: `{"time_get_response":{"time":"2024-01-01 00:00:00"}}`},
	}
	g.Server = httptest.NewServer(http.HandlerFunc(g.handleRequest))
	return g
}

// Enqueue appends scripted replies
func (g *Gateway) Enqueue(replies ...Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, replies...)
}

// EnqueueBody appends plain 200 replies with the given bodies
func (g *Gateway) EnqueueBody(bodies ...string) {
	for _, b := range bodies {
		g.Enqueue(Reply{Body: b})
	}
}

// SetFallback sets the reply used once the queue is empty
func (g *Gateway) SetFallback(r Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = r
}

func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   r.Header.Clone(),
		Fields:    make(map[string]string),
		Files:     make(map[string][]byte),
		FileNames: make(map[string]string),
		Time:      time.Now(),
	}
	parseFields(r, &rec)

	g.mu.Lock()
	g.requests = append(g.requests, rec)
	reply := g.fallback
	if len(g.queue) > 0 {
		reply = g.queue[0]
		g.queue = g.queue[1:]
	}
	g.mu.Unlock()

	g.requestCount.Add(1)

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	body := []byte(reply.Body)
	if reply.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write(body)
		_ = zw.Close()
		body = buf.Bytes()
		w.Header().Set("Content-Encoding", "gzip")
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func parseFields(r *http.Request, rec *RecordedRequest) {
	for k, v := range r.URL.Query() {
		rec.Fields[k] = v[0]
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return
		}
		for k, v := range r.MultipartForm.Value {
			rec.Fields[k] = v[0]
		}
		for k, headers := range r.MultipartForm.File {
			f, err := headers[0].Open()
			if err != nil {
				continue
			}
			data, _ := io.ReadAll(f)
			f.Close()
			rec.Files[k] = data
			rec.FileNames[k] = headers[0].Filename
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return
		}
		for k, v := range r.PostForm {
			rec.Fields[k] = v[0]
		}
	}
}

// GetRequestCount returns the total number of requests received
func (g *Gateway) GetRequestCount() int {
	return int(g.requestCount.Load())
}

// GetRequests returns all recorded requests
func (g *Gateway) GetRequests() []RecordedRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]RecordedRequest, len(g.requests))
	copy(result, g.requests)
	return result
}

// LastRequest returns the most recent request, or nil
func (g *Gateway) LastRequest() *RecordedRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.requests) == 0 {
		return nil
	}
	rec := g.requests[len(g.requests)-1]
	return &rec
}

// Reset clears recorded requests and queued replies
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requestCount.Store(0)
	g.requests = g.requests[:0]
	g.queue = nil
}

// Domain returns the server address without the scheme, as a client
// Domain would be configured.
func (g *Gateway) Domain() string {
	return strings.TrimPrefix(g.URL, "http://")
}

// ErrorBody renders an error_response payload
func ErrorBody(code int, msg, subCode, subMsg string) string {
	payload := map[string]interface{}{
		"error_response": map[string]interface{}{
			"code":       code,
			"msg":        msg,
			"sub_code":   subCode,
			"sub_msg":    subMsg,
			"request_id": "req-" + subCode,
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}
