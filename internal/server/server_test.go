package server

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
}

func TestServeAndShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	srv, err := New(Config{Addr: "127.0.0.1:18230", Handler: mux})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Addr() != "127.0.0.1:18230" {
		t.Fatalf("addr = %q", srv.Addr())
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	// Wait for the listener to come up.
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + srv.Addr() + "/ping")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
}
