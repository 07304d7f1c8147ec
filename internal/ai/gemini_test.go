package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func geminiOK(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
				}},
			},
		})
	}
}

func testRequest() Request {
	return Request{
		System:   "You are a helpful bot.",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Params:   GenParams{Temperature: 0.7, TopP: 0.9, TopK: 40},
	}
}

func TestGeminiGenerate(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		geminiOK(`"hi there"`)(w, r)
	}))
	defer srv.Close()

	p := NewGeminiProvider("secret", "gemini-test", srv.URL)
	text, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "hi there", text, "wrapping quotes are stripped")

	require.NotNil(t, got.SystemInstruction)
	require.Equal(t, "You are a helpful bot.", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 1)
	require.Equal(t, RoleUser, got.Contents[0].Role)
	require.Equal(t, 0.7, got.GenerationConfig.Temperature)
	require.Equal(t, 40, got.GenerationConfig.TopK)
}

func TestGeminiAssistantRoleBecomesModel(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		geminiOK("ok")(w, r)
	}))
	defer srv.Close()

	p := NewGeminiProvider("k", "m", srv.URL)
	_, err := p.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "q"},
			{Role: "assistant", Content: "a"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, RoleModel, got.Contents[1].Role)
}

func TestGeminiErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusInternalServerError, KindUnknown},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "nope"},
			})
		}))
		p := NewGeminiProvider("k", "m", srv.URL)
		_, err := p.Generate(context.Background(), testRequest())
		srv.Close()

		require.Error(t, err)
		require.True(t, IsKind(err, tc.kind), "status %d should map to %s", tc.status, tc.kind)
		var pe *Error
		require.ErrorAs(t, err, &pe)
		require.Equal(t, tc.status, pe.StatusCode())
		require.Contains(t, pe.Msg, "nope")
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	p := NewGeminiProvider("k", "m", srv.URL)
	_, err := p.Generate(context.Background(), testRequest())
	require.True(t, IsKind(err, KindUnknown))
}

func TestRetryProviderRetriesRateLimitOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		geminiOK("recovered")(w, r)
	}))
	defer srv.Close()

	p := NewRetryProvider(NewGeminiProvider("k", "m", srv.URL))
	p.cfg.RateLimitDelay = time.Millisecond
	text, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.Equal(t, 2, calls)
}

func TestRetryProviderDoesNotRetryAuthErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewRetryProvider(NewGeminiProvider("k", "m", srv.URL))
	_, err := p.Generate(context.Background(), testRequest())
	require.True(t, IsKind(err, KindUnauthorized))
	require.Equal(t, 1, calls, "auth failures must not burn a retry")
}

func TestRetryProviderGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewRetryProvider(NewGeminiProvider("k", "m", srv.URL))
	p.cfg.RateLimitDelay = time.Millisecond
	_, err := p.Generate(context.Background(), testRequest())
	require.True(t, IsKind(err, KindRateLimited), "caller sees the classified error, not a retry wrapper")
	require.Equal(t, 2, calls)
}
