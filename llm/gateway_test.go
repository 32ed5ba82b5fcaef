package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trade-finder/helpers"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// responsesServer fakes the /responses endpoint; handler decides per call
func responsesServer(t *testing.T, calls *int32, handler func(n int32, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		assert.Equal(t, "/responses", r.URL.Path)
		handler(n, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func messageBody(id string, segments ...string) map[string]interface{} {
	content := make([]map[string]interface{}, 0, len(segments))
	for _, s := range segments {
		content = append(content, map[string]interface{}{"type": "output_text", "text": s})
	}
	return map[string]interface{}{
		"id":     id,
		"status": "completed",
		"model":  "test-model",
		"output": []map[string]interface{}{
			{"type": "reasoning"},
			{"type": "message", "role": "assistant", "content": content},
		},
		"usage": map[string]interface{}{"input_tokens": 10, "output_tokens": 5, "total_tokens": 15},
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestGateway_ValidationBeforeNetwork(t *testing.T) {
	var calls int32
	srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, messageBody("resp_1", "hi"))
	})
	gw := NewGateway(NewClient(srv.URL, "key", "test-model", time.Second), GatewayOptions{Retry: fastRetry()})

	tooHot := 3.5
	tests := []struct {
		name string
		req  Request
	}{
		{"empty input", Request{Input: ""}},
		{"blank input", Request{Input: "   \n\t"}},
		{"temperature out of range", Request{Input: "ok", Temperature: &tooHot}},
		{"negative max tokens", Request{Input: "ok", MaxOutputTokens: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := gw.Complete(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.False(t, IsRetryable(err))
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGateway_RetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		retryable bool
	}{
		{"server error is retried", http.StatusServiceUnavailable, 3, true},
		{"rate limit is retried", http.StatusTooManyRequests, 3, true},
		{"bad request is terminal", http.StatusBadRequest, 1, false},
		{"unauthorized is terminal", http.StatusUnauthorized, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{"error": map[string]string{"message": "nope"}})
			})
			gw := NewGateway(NewClient(srv.URL, "key", "m", time.Second), GatewayOptions{Retry: fastRetry()})

			_, err := gw.Complete(context.Background(), Request{Input: "hello"})
			require.Error(t, err)

			var gwErr *GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, KindTransport, gwErr.Kind)
			assert.Equal(t, tt.status, gwErr.StatusCode)
			assert.Equal(t, tt.retryable, gwErr.Retryable)
			assert.Equal(t, "nope", gwErr.Message)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestGateway_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := responsesServer(t, &calls, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]string{})
			return
		}
		writeJSON(w, http.StatusOK, messageBody("resp_ok", "fine"))
	})
	gw := NewGateway(NewClient(srv.URL, "key", "m", time.Second), GatewayOptions{Retry: fastRetry()})

	ctx := helpers.WithCorrelationID(context.Background(), "corr-1")
	resp, err := gw.Complete(ctx, Request{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, "fine", resp.Text)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
}

func TestGateway_InBandErrorIsFailedStatus(t *testing.T) {
	var calls int32
	srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     "resp_err",
			"status": "failed",
			"error":  map[string]string{"code": "server_error", "message": "model overloaded"},
		})
	})
	gw := NewGateway(NewClient(srv.URL, "key", "m", time.Second), GatewayOptions{Retry: fastRetry()})

	resp, err := gw.Complete(context.Background(), Request{Input: "hello"})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "model overloaded")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var out map[string]interface{}
	resp, err = gw.CompleteStructured(context.Background(), Request{Input: "hello"}, TradeSignalSchema(), &out)
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	assert.Nil(t, out)
}

func TestGateway_TextExtraction(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"single segment", []string{"hello"}, "hello"},
		{"segments concatenate in order", []string{"hel", "lo ", "world"}, "hello world"},
		{"no text falls back", nil, NoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, messageBody("resp", tt.segments...))
			})
			gw := NewGateway(NewClient(srv.URL, "key", "m", time.Second), GatewayOptions{Retry: fastRetry()})

			resp, err := gw.Complete(context.Background(), Request{Input: "hi"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Text)
		})
	}
}

func TestGateway_UndecodableBodyIsParseError(t *testing.T) {
	var calls int32
	srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>gateway</html>"))
	})
	gw := NewGateway(NewClient(srv.URL, "key", "m", time.Second), GatewayOptions{Retry: fastRetry()})

	_, err := gw.Complete(context.Background(), Request{Input: "hi"})
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, KindParse, gwErr.Kind)
	assert.Equal(t, "<html>gateway</html>", gwErr.Raw)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGateway_RequestShape(t *testing.T) {
	var calls int32
	var captured map[string]interface{}
	srv := responsesServer(t, &calls, func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, http.StatusOK, messageBody("resp_2", `{"status":"no trade"}`))
	})

	temp := 0.2
	gw := NewGateway(NewClient(srv.URL+"/", "secret", "default-model", time.Second), GatewayOptions{
		Retry:              fastRetry(),
		DefaultTemperature: &temp,
	})

	var out map[string]interface{}
	_, err := gw.CompleteStructured(context.Background(), Request{
		Input:              "payload",
		Instructions:       "be brief",
		PreviousResponseID: "resp_1",
	}, TradeSignalSchema(), &out)
	require.NoError(t, err)

	assert.Equal(t, "default-model", captured["model"])
	assert.Equal(t, "payload", captured["input"])
	assert.Equal(t, "be brief", captured["instructions"])
	assert.Equal(t, "resp_1", captured["previous_response_id"])
	assert.InDelta(t, 0.2, captured["temperature"], 0.0001)

	text := captured["text"].(map[string]interface{})
	format := text["format"].(map[string]interface{})
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "trade_signal", format["name"])
	assert.Equal(t, "no trade", out["status"])
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line json fence", "```json {\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  \n```JSON\n{\"a\":1}\n```  \n", `{"a":1}`},
		{"fence without tag", "```{\"a\":1}\n```", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	schema := TradeSignalSchema()

	t.Run("fenced object decodes", func(t *testing.T) {
		var out struct {
			Status     string `json:"status"`
			Confidence int    `json:"confidence"`
		}
		err := DecodeStructured("```json\n{\"status\":\"trade identified\",\"confidence\":72}\n```", schema, &out)
		require.NoError(t, err)
		assert.Equal(t, "trade identified", out.Status)
		assert.Equal(t, 72, out.Confidence)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := DecodeStructured(`{"direction":"LONG"}`, schema, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status")
	})

	t.Run("no content sentinel", func(t *testing.T) {
		assert.Error(t, DecodeStructured(NoContent, schema, nil))
	})

	t.Run("not json", func(t *testing.T) {
		assert.Error(t, DecodeStructured("I could not find a trade today.", schema, nil))
	})
}

func TestRetryConfig_CalculateBackoff(t *testing.T) {
	cfg := NewDefaultRetryConfig()

	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 8*time.Second, cfg.CalculateBackoff(2))
	assert.Equal(t, 30*time.Second, cfg.CalculateBackoff(10))
}

func TestNewTransportError(t *testing.T) {
	assert.True(t, NewTransportError("x", errors.New("connection reset")).Retryable)
	assert.True(t, NewTransportError("x", context.DeadlineExceeded).Retryable)
	assert.False(t, NewTransportError("x", context.Canceled).Retryable)
}
