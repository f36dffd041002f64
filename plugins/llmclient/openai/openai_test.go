package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"exscan/pkg/contract"
)

func newClient(t *testing.T, h http.HandlerFunc, extra map[string]any) contract.LLMClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts := map[string]any{"base_url": srv.URL, "api_key": "k", "max_tokens": 50}
	for k, v := range extra {
		opts[k] = v
	}
	raw, _ := json.Marshal(opts)
	c, err := New(raw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestQuerySuccess(t *testing.T) {
	var got oaReq
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("X-Org") != "o" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Ejercicio 1 (Página 1) [Idoneidad: 5]: x"}}]}`))
	}, map[string]any{"extra_headers": map[string]string{"X-Org": "o"}})
	p := contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}
	raw, err := c.Query(context.Background(), contract.Batch{}, p)
	if err != nil || raw.Text == "" {
		t.Fatalf("query: %v %q", err, raw.Text)
	}
	if got.Model != "gpt-4.1-mini" || got.MaxTokens != 50 || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("request = %+v", got)
	}
}

func TestQueryEmptyContentIsNotError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}, nil)
	raw, err := c.Query(context.Background(), contract.Batch{}, contract.TextPrompt("x"))
	if err != nil || raw.Text != "" {
		t.Fatalf("empty content: %v %q", err, raw.Text)
	}
}

func TestQueryErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		check  func(error) bool
	}{
		{http.StatusTooManyRequests, "", func(err error) bool { return errors.Is(err, contract.ErrRateLimited) }},
		{http.StatusBadGateway, "bad gateway", func(err error) bool {
			var ne net.Error
			return errors.As(err, &ne)
		}},
		{http.StatusUnauthorized, "nope", func(err error) bool { return errors.Is(err, contract.ErrInvalidInput) }},
		{http.StatusOK, `{"choices":[]}`, func(err error) bool { return errors.Is(err, contract.ErrResponseInvalid) }},
		{http.StatusOK, `{`, func(err error) bool { return errors.Is(err, contract.ErrResponseInvalid) }},
	}
	for _, tc := range cases {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}, nil)
		if _, err := c.Query(context.Background(), contract.Batch{}, contract.TextPrompt("x")); err == nil || !tc.check(err) {
			t.Fatalf("status %d: unexpected err %v", tc.status, err)
		}
	}
}

func TestNewOptions(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("missing key should fail: %v", err)
	}
	c, err := New(json.RawMessage(`{"disable_default_auth":true,"endpoint_path":"http://localhost:1/v1/chat"}`))
	if err != nil {
		t.Fatalf("no-auth compatible endpoint: %v", err)
	}
	if c.(*Client).url != "http://localhost:1/v1/chat" {
		t.Fatalf("url = %s", c.(*Client).url)
	}
	if _, err := New(json.RawMessage(`{"api_key":"k","response_format":"json"}`)); err == nil {
		t.Fatalf("unknown field should fail")
	}
}
