// Package testutil provides shared test servers and fakes for the study
// server packages.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockQNet is a configurable stand-in for the Q-Net OpenAPI upstream.
type MockQNet struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	LastPath     string
	LastQuery    url.Values
}

// NewMockQNet creates a new mock upstream server.
func NewMockQNet() *MockQNet {
	mock := &MockQNet{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastPath = r.URL.Path
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockQNet) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockQNet) Close() {
	m.server.Close()
}

// Reset clears all tracking state.
func (m *MockQNet) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastPath = ""
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockQNet) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockQNet) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockQNet) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query of the most recent request.
func (m *MockQNet) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// defaultHandler answers any path with an empty normal-service envelope.
func (m *MockQNet) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(SuccessBody("")))
}

// SuccessBody builds a normal-service envelope wrapping items XML.
func SuccessBody(items string) string {
	return fmt.Sprintf(`<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header><body><items>%s</items></body></response>`, items)
}

// PagedBody builds a normal-service envelope with paging markers.
func PagedBody(items string, pageNo, numOfRows, totalCount int) string {
	return fmt.Sprintf(`<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header><body><items>%s</items><numOfRows>%d</numOfRows><pageNo>%d</pageNo><totalCount>%d</totalCount></body></response>`, items, numOfRows, pageNo, totalCount)
}

// ErrorBody builds an envelope carrying a portal error code. Portal
// errors ride on HTTP 200; the code inside the body is what counts.
func ErrorBody(code, msg string) string {
	return fmt.Sprintf(`<response><header><resultCode>%s</resultCode><resultMsg>%s</resultMsg></header><body></body></response>`, code, msg)
}

// NewSuccessResponse creates a 200 response with a normal-service body.
func NewSuccessResponse(items string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       SuccessBody(items),
		Headers: map[string]string{
			"Content-Type": "application/xml; charset=utf-8",
		},
	}
}

// NewErrorResponse creates a 200 response carrying a portal error code.
func NewErrorResponse(code, msg string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       ErrorBody(code, msg),
		Headers: map[string]string{
			"Content-Type": "application/xml; charset=utf-8",
		},
	}
}

// NewQuotaExceededResponse creates the daily-limit error response.
func NewQuotaExceededResponse() MockResponse {
	return NewErrorResponse("22", "LIMITED NUMBER OF SERVICE REQUESTS EXCEEDS ERROR.")
}

// NewGeneralErrorResponse creates the retryable catch-all error response.
func NewGeneralErrorResponse() MockResponse {
	return NewErrorResponse("99", "UNKNOWN ERROR.")
}

// NewServerErrorResponse creates a plain HTTP 500 without an envelope.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal Server Error",
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}
