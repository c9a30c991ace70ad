package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func chatHandler(t *testing.T, fn func(w http.ResponseWriter, r *http.Request)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		fn(w, r)
	})
}

func TestGenerateRetriesOn429(t *testing.T) {
	okBody := GenerateResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}}}
	var calls int32
	srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
			return
		}
		_ = json.NewEncoder(w).Encode(okBody)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 3, 10*time.Millisecond, 100*time.Millisecond, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Generate(ctx, GenerateRequest{Model: "test-model", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 1})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls (1 retry), got %d", calls)
	}
}

func TestErrorIncludesRequestID(t *testing.T) {
	srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req_test_123")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad req", "code": "bad_request"}})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Generate(ctx, GenerateRequest{Model: "test-model", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 1})
	if err == nil {
		t.Fatalf("expected error")
	}
	var bad *BadRequestError
	if !errors.As(err, &bad) {
		t.Fatalf("expected BadRequestError, got %T", err)
	}
	if !strings.Contains(err.Error(), "req_test_123") {
		t.Fatalf("expected request id in error, got: %v", err)
	}
}

func toolCallResponse(name, args string) GenerateResponse {
	var call ToolCall
	call.ID = "call_1"
	call.Type = "function"
	call.Function.Name = name
	call.Function.Arguments = args
	return GenerateResponse{Choices: []Choice{{
		Message:      Message{Role: "assistant", ToolCalls: []ToolCall{call}},
		FinishReason: "tool_calls",
	}}}
}

func TestGenerateCodeExtractsToolArgument(t *testing.T) {
	srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "execute_python" {
			t.Errorf("tool spec not forwarded: %+v", req.Tools)
		}
		_ = json.NewEncoder(w).Encode(toolCallResponse("execute_python", `{"code":"print('hi')"}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
	code, err := c.GenerateCode(context.Background(), CodeRequest{
		Model:  "test-model",
		Prompt: "analyze",
		Tool:   ToolSpec{Name: "execute_python", Description: "Execute Python code"},
	})
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if code != "print('hi')" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestGenerateCodeNoToolCall(t *testing.T) {
	srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GenerateResponse{Choices: []Choice{{
			Message: Message{Role: "assistant", Content: "I cannot write code for that."},
		}}})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
	_, err := c.GenerateCode(context.Background(), CodeRequest{
		Model: "test-model", Prompt: "analyze", Tool: ToolSpec{Name: "execute_python"},
	})
	var noCall *NoToolCallError
	if !errors.As(err, &noCall) {
		t.Fatalf("expected NoToolCallError, got %v", err)
	}
}

func TestGenerateCodeMalformedArgs(t *testing.T) {
	cases := []struct {
		name string
		args string
	}{
		{"invalid json", `{"code": `},
		{"missing code", `{"language":"python"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(toolCallResponse("execute_python", tc.args))
			}))
			defer srv.Close()

			c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
			_, err := c.GenerateCode(context.Background(), CodeRequest{
				Model: "test-model", Prompt: "analyze", Tool: ToolSpec{Name: "execute_python"},
			})
			var malformed *MalformedToolArgsError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedToolArgsError, got %v", err)
			}
		})
	}
}

func TestGenerateTextEmptyResponse(t *testing.T) {
	srv := newIPv4Server(t, chatHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GenerateResponse{})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
	_, err := c.GenerateText(context.Background(), TextRequest{Model: "test-model", Prompt: "summarize"})
	var empty *EmptyResponseError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyResponseError, got %v", err)
	}
}
