package proxy

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verticalgw/vertigate/internal/catalog"
	"github.com/verticalgw/vertigate/internal/credentials"
	"github.com/verticalgw/vertigate/internal/metrics"
	"github.com/verticalgw/vertigate/internal/openaiadapter"
)

// stubAdapter serves canned results so the HTTP layer can be tested in
// isolation from the upstream protocol.
type stubAdapter struct {
	response  *openaiadapter.CreateChatCompletionResponse
	chunks    []*openaiadapter.CreateChatCompletionChunk
	err       error
	streamErr error
}

func (s *stubAdapter) ProcessRequest(
	_ context.Context,
	_ openaiadapter.CreateChatCompletionRequest,
	_ http.RoundTripper,
) (*openaiadapter.CreateChatCompletionResponse, error) {
	return s.response, s.err
}

func (s *stubAdapter) ProcessStreamingRequest(
	_ context.Context,
	_ openaiadapter.CreateChatCompletionRequest,
	_ http.RoundTripper,
) (iter.Seq2[*openaiadapter.CreateChatCompletionChunk, error], error) {
	if s.err != nil {
		return nil, s.err
	}
	return func(yield func(*openaiadapter.CreateChatCompletionChunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.streamErr != nil {
			yield(nil, s.streamErr)
		}
	}, nil
}

type staticReadiness struct{ ready bool }

func (s staticReadiness) IsReady() bool { return s.ready }

func testKeys(t *testing.T, keys ...string) *credentials.ClientKeys {
	t.Helper()
	ck := credentials.NewClientKeys()
	if len(keys) == 0 {
		return ck
	}
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`["`+strings.Join(keys, `","`)+`"]`), 0o644))
	require.NoError(t, ck.Load(path))
	return ck
}

func testProxyCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"models":[{"modelId":"alpha","url":"https://upstream.example/api/chats/alpha"}]}`), 0o644))
	c := catalog.New()
	require.NoError(t, c.Load(path))
	return c
}

func newTestProxy(t *testing.T, adapter openaiadapter.CreateChatCompletionAdapter, keys *credentials.ClientKeys) *Proxy {
	t.Helper()
	reg := prometheus.NewRegistry()
	p, err := New(Options{
		Adapter:    adapter,
		Catalog:    testProxyCatalog(t),
		ClientKeys: keys,
		Readiness:  staticReadiness{ready: true},
		Metrics:    metrics.New(reg, func() float64 { return 0 }),
		Registry:   reg,
	})
	require.NoError(t, err)
	return p
}

func chatRequest(body string, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req
}

const validChatBody = `{"model":"alpha","messages":[{"role":"user","content":"Hi"}]}`

func TestClientAuth(t *testing.T) {
	tests := []struct {
		name       string
		keys       []string
		authHeader string
		wantStatus int
		wantType   string
	}{
		{"no keys configured", nil, "Bearer sk-1",
			http.StatusServiceUnavailable, "service_unavailable"},
		{"missing token", []string{"sk-1"}, "",
			http.StatusUnauthorized, "authentication_error"},
		{"malformed header", []string{"sk-1"}, "Basic abc",
			http.StatusUnauthorized, "authentication_error"},
		{"wrong key", []string{"sk-1"}, "Bearer sk-2",
			http.StatusForbidden, "permission_denied"},
		{"valid key", []string{"sk-1"}, "Bearer sk-1",
			http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &stubAdapter{response: &openaiadapter.CreateChatCompletionResponse{
				Object: "chat.completion",
			}}
			p := newTestProxy(t, adapter, testKeys(t, tt.keys...))

			req := chatRequest(validChatBody, "")
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantType != "" {
				assert.Contains(t, rec.Body.String(), tt.wantType)
			}
		})
	}
}

func TestModelsListing(t *testing.T) {
	p := newTestProxy(t, &stubAdapter{}, testKeys(t, "sk-1"))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-1")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"object":"list"`)
	assert.Contains(t, body, `"alpha"`)
	assert.Contains(t, body, `"alpha-thinking"`)
}

func TestHealthEndpointsBypassAuth(t *testing.T) {
	p := newTestProxy(t, &stubAdapter{}, testKeys(t))

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadinessReflectsChecker(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(Options{
		Adapter:    &stubAdapter{},
		Catalog:    testProxyCatalog(t),
		ClientKeys: testKeys(t),
		Readiness:  staticReadiness{ready: false},
		Metrics:    metrics.New(reg, func() float64 { return 0 }),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNonStreamingChatCompletion(t *testing.T) {
	adapter := &stubAdapter{response: &openaiadapter.CreateChatCompletionResponse{
		ID:     "chatcmpl-abc",
		Object: "chat.completion",
		Model:  "alpha",
		Choices: []openaiadapter.ChatCompletionChoice{{
			Message:      openaiadapter.ChatMessage{Role: "assistant", Content: "Hello"},
			FinishReason: "stop",
		}},
	}}
	p := newTestProxy(t, adapter, testKeys(t, "sk-1"))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, chatRequest(validChatBody, "sk-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), `"content":"Hello"`)
}

func TestStreamingChatCompletion(t *testing.T) {
	content := "Hello"
	finish := "stop"
	adapter := &stubAdapter{chunks: []*openaiadapter.CreateChatCompletionChunk{
		{
			ID: "chatcmpl-abc", Object: "chat.completion.chunk", Model: "alpha",
			Choices: []openaiadapter.ChatCompletionChunkChoice{{
				Delta: openaiadapter.StreamDelta{Role: "assistant", Content: &content},
			}},
		},
		{
			ID: "chatcmpl-abc", Object: "chat.completion.chunk", Model: "alpha",
			Choices: []openaiadapter.ChatCompletionChunkChoice{{
				FinishReason: &finish,
			}},
		},
	}}
	p := newTestProxy(t, adapter, testKeys(t, "sk-1"))
	server := httptest.NewServer(p)
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions",
		strings.NewReader(`{"model":"alpha","stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestStreamingErrorEvent(t *testing.T) {
	adapter := &stubAdapter{
		streamErr: openaiadapter.NewErrorResponse(openaiadapter.ErrTypeAPI, "upstream broke"),
	}
	p := newTestProxy(t, adapter, testKeys(t, "sk-1"))
	server := httptest.NewServer(p)
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions",
		strings.NewReader(`{"model":"alpha","stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, `"upstream broke"`)
	assert.NotContains(t, body, "[DONE]")
}

func TestAdapterErrorStatusMapping(t *testing.T) {
	tests := []struct {
		errType    string
		wantStatus int
	}{
		{openaiadapter.ErrTypeInvalidRequest, http.StatusBadRequest},
		{openaiadapter.ErrTypeAuthentication, http.StatusUnauthorized},
		{openaiadapter.ErrTypePermissionDenied, http.StatusForbidden},
		{openaiadapter.ErrTypeNotFound, http.StatusNotFound},
		{openaiadapter.ErrTypeServiceUnavailable, http.StatusServiceUnavailable},
		{openaiadapter.ErrTypeServer, http.StatusInternalServerError},
		{openaiadapter.ErrTypeAPI, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			adapter := &stubAdapter{err: openaiadapter.NewErrorResponse(tt.errType, "nope")}
			p := newTestProxy(t, adapter, testKeys(t, "sk-1"))

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, chatRequest(validChatBody, "sk-1"))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing model", `{"messages":[{"role":"user","content":"Hi"}]}`},
		{"empty messages", `{"model":"alpha","messages":[]}`},
		{"bad role", `{"model":"alpha","messages":[{"role":"robot","content":"Hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProxy(t, &stubAdapter{}, testKeys(t, "sk-1"))

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, chatRequest(tt.body, "sk-1"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(Options{
		Adapter:         &stubAdapter{},
		Catalog:         testProxyCatalog(t),
		ClientKeys:      testKeys(t, "sk-1"),
		Readiness:       staticReadiness{ready: true},
		Metrics:         metrics.New(reg, func() float64 { return 0 }),
		MaxRequestBytes: 64,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, chatRequest(
		`{"model":"alpha","messages":[{"role":"user","content":"`+strings.Repeat("x", 200)+`"}]}`,
		"sk-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")
}

func TestMetricsEndpoint(t *testing.T) {
	p := newTestProxy(t, &stubAdapter{response: &openaiadapter.CreateChatCompletionResponse{}},
		testKeys(t, "sk-1"))

	// Drive one authenticated request so the counter vec has a sample.
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, chatRequest(validChatBody, "sk-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "vertigate_http_requests_total")
	assert.Contains(t, body, `handler="chat_completions"`)
	assert.Contains(t, body, "vertigate_conversation_cache_entries")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := applyMiddlewares(panicking, Recovery)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
