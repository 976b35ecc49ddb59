package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "evald/internal/errors"
)

// echoServer upgrades every request and writes each frame back with a
// "re:" prefix until the client goes away.
func echoServer(t *testing.T, readLimit int64) (url string, done <-chan error) {
	t.Helper()
	errc := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, readLimit)
		if err != nil {
			errc <- err
			return
		}
		defer conn.Close()
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if err := conn.WriteMessage(append([]byte("re:"), data...)); err != nil {
				errc <- err
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), errc
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()
	conn, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, 2*time.Second)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	return conn
}

func TestWebSocket_RoundTrip(t *testing.T) {
	url, _ := echoServer(t, 0)
	conn := dial(t, url)
	defer conn.Close()

	for _, msg := range []string{`{"action":"run","code":"1"}`, "second"} {
		if err := conn.WriteMessage([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		got, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "re:"+msg {
			t.Errorf("got %q, want %q", got, "re:"+msg)
		}
	}
	if conn.RemoteAddr() == nil {
		t.Error("RemoteAddr should be set")
	}
}

func TestWebSocket_PeerCloseReadsAsEOF(t *testing.T) {
	url, done := echoServer(t, 0)
	conn := dial(t, url)
	conn.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("server read err = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
}

func TestWebSocket_CloseIsIdempotent(t *testing.T) {
	url, _ := echoServer(t, 0)
	conn := dial(t, url)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWebSocket_ConcurrentWrites(t *testing.T) {
	url, _ := echoServer(t, 0)
	conn := dial(t, url)
	defer conn.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.WriteMessage([]byte("x")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "re:x" {
			t.Fatalf("frame %d = %q", i, got)
		}
	}
}

func TestWebSocket_ReadLimit(t *testing.T) {
	url, done := echoServer(t, 16)
	conn := dial(t, url)
	defer conn.Close()

	conn.WriteMessage([]byte(strings.Repeat("a", 64))) //nolint:errcheck

	select {
	case err := <-done:
		if err == nil || errors.Is(err, io.EOF) {
			t.Errorf("server err = %v, want a read-limit error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame was accepted")
	}
}

func TestUpgrade_PlainHTTP(t *testing.T) {
	errc := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := Upgrade(w, r, 0)
		errc <- err
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if err := <-errc; err == nil {
		t.Error("Upgrade of a plain request should fail")
	}
}

func TestDialWebSocket_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, time.Second)
	if err == nil {
		t.Fatal("expected a dial error")
	}
	if !apperrors.IsRetryable(err) {
		t.Errorf("refused handshake should be retryable: %v", err)
	}
}

func TestDialWebSocket_NotAWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, time.Second)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want one naming the 404", err)
	}
	if apperrors.IsRetryable(err) {
		t.Error("a bad handshake is not retryable")
	}
}
