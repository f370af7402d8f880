package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chat-relay/internal/llm"
	"github.com/wolfman30/chat-relay/internal/observability/metrics"
	"github.com/wolfman30/chat-relay/internal/provider"
	"github.com/wolfman30/chat-relay/internal/relay"
	"github.com/wolfman30/chat-relay/pkg/logging"
)

// newTestRouter wires the real relay stack against a fake OpenAI-compatible upstream.
func newTestRouter(t *testing.T, upstream http.HandlerFunc) http.Handler {
	t.Helper()

	llmServer := httptest.NewServer(upstream)
	t.Cleanup(llmServer.Close)

	entries := []provider.Entry{
		{Model: "qwen-plus", Kind: provider.KindOpenAI, CredentialRef: "DASHSCOPE_API_KEY", BaseURL: llmServer.URL},
		{Model: "hunyuan-turbo", Kind: provider.KindOpenAI, CredentialRef: "HUNYUAN_API_KEY", BaseURL: llmServer.URL},
	}
	secrets := map[string]string{"DASHSCOPE_API_KEY": "sk-dashscope"}
	registry, err := provider.NewRegistry(entries, "qwen-plus", func(ref string) string { return secrets[ref] })
	require.NoError(t, err)

	logger := logging.New("error")
	reg := prometheus.NewRegistry()
	svc := relay.NewService(registry, llm.NewInvoker(llm.WithLogger(logger)), metrics.NewRelayMetrics(reg), logger, relay.Options{})

	return New(&Config{
		Logger:             logger,
		RelayHandler:       relay.NewHandler(svc, registry, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"*"},
	})
}

func streamingUpstream(t *testing.T, fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-dashscope", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, streamingUpstream(t))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouterChatStreams(t *testing.T) {
	router := newTestRouter(t, streamingUpstream(t, "Hello", " there"))

	body := `{"message":"hi","custom_prompt":"be nice","history":[],"aiName":"Mimi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "data: {\"content\":\"Hello\"}\n\ndata: {\"content\":\" there\"}\n\n", rr.Body.String())
}

func TestRouterChatMissingCredential(t *testing.T) {
	called := false
	router := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	body := `{"message":"hi","custom_prompt":"","history":[],"aiName":"Mimi","model":"hunyuan-turbo"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "HUNYUAN_API_KEY")
	assert.False(t, called, "no upstream call without a credential")
}

func TestRouterModels(t *testing.T) {
	router := newTestRouter(t, streamingUpstream(t))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Default string               `json:"default"`
		Models  []provider.ModelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "qwen-plus", resp.Default)
	require.Len(t, resp.Models, 2)
	assert.Equal(t, "hunyuan-turbo", resp.Models[0].Model)
	assert.False(t, resp.Models[0].Configured)
	assert.True(t, resp.Models[1].Configured)
}

func TestRouterMetrics(t *testing.T) {
	router := newTestRouter(t, streamingUpstream(t, "x"))

	chat := `{"message":"hi","custom_prompt":"","history":[],"aiName":"Mimi"}`
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chat)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	raw, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `chatrelay_relay_requests_total{model="qwen-plus",outcome="ok"} 1`)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, streamingUpstream(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://chat.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
