package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHTTPConn(t *testing.T) Connection {
	t.Helper()
	conn, err := New(TypeHTTP, Options{DeviceName: "web"})
	if err != nil {
		t.Fatalf("New(http) error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHTTPClient_Get(t *testing.T) {
	var gotMethod, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		io.WriteString(w, "21.5")
	}))
	defer ts.Close()

	conn := newTestHTTPConn(t)

	reply, err := conn.Send(context.Background(), Payload{Body: ts.URL + "/api/temp"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(reply) != "21.5" {
		t.Errorf("reply = %q, want 21.5", reply)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("method = %q, want GET", gotMethod)
	}
	if gotPath != "/api/temp" {
		t.Errorf("path = %q, want /api/temp", gotPath)
	}
}

func TestHTTPClient_PostWithFields(t *testing.T) {
	var gotMethod, gotAuth, gotQuery, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("X-Auth")
		gotQuery = r.URL.Query().Get("zone")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	conn := newTestHTTPConn(t)

	p := Payload{
		Body: ts.URL + "/set",
		Fields: map[string]any{
			"method":  "post",
			"headers": map[string]any{"X-Auth": "secret"},
			"params":  map[string]any{"zone": "2"},
			"body":    "on",
		},
	}
	if _, err := conn.Send(context.Background(), p); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotAuth != "secret" {
		t.Errorf("X-Auth = %q, want secret", gotAuth)
	}
	if gotQuery != "2" {
		t.Errorf("zone param = %q, want 2", gotQuery)
	}
	if gotBody != "on" {
		t.Errorf("body = %q, want on", gotBody)
	}
}

func TestHTTPClient_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	conn := newTestHTTPConn(t)

	_, err := conn.Send(context.Background(), Payload{Body: ts.URL})
	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("Send() error = %v, want ErrBadStatus", err)
	}
}

func TestHTTPClient_NoContentIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	conn := newTestHTTPConn(t)

	if _, err := conn.Send(context.Background(), Payload{Body: ts.URL}); err != nil {
		t.Errorf("Send() error = %v for 204 response", err)
	}
}

func TestHTTPClient_SchemeDefault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	conn := newTestHTTPConn(t)

	bare := strings.TrimPrefix(ts.URL, "http://")
	reply, err := conn.Send(context.Background(), Payload{Body: bare})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(reply) != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
}

func TestHTTPClient_EmptyURL(t *testing.T) {
	conn := newTestHTTPConn(t)

	if _, err := conn.Send(context.Background(), Payload{}); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() error = %v, want ErrSendFailed", err)
	}
}

func TestHTTPClient_NotOpen(t *testing.T) {
	conn, err := New(TypeHTTP, Options{DeviceName: "web"})
	if err != nil {
		t.Fatalf("New(http) error = %v", err)
	}

	if _, err := conn.Send(context.Background(), Payload{Body: "http://x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}
