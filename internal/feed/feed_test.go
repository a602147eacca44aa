package feed

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bn-grid-bot/internal/config"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func newStreamServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "@markPrice") {
			t.Errorf("unexpected stream path %q", r.URL.Path)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		ctx := r.Context()
		for _, msg := range messages {
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func waitForPrice(t *testing.T, f *Feed, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if price, ok := f.Price(); ok && price == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	price, ok := f.Price()
	t.Fatalf("price never reached %v, last %v (ok=%v)", want, price, ok)
}

func TestFeedCachesMarkPrice(t *testing.T) {
	server := newStreamServer(t, []string{
		`{"e":"markPriceUpdate","s":"DOGEUSDT","p":"0.23010"}`,
	})
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	f := New(config.FeedConfig{
		URL:            wsURL,
		ReconnectDelay: 10 * time.Millisecond,
		StaleAfter:     time.Minute,
	}, "DOGEUSDT", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	waitForPrice(t, f, 0.2301)
}

func TestFeedIgnoresOtherMessages(t *testing.T) {
	server := newStreamServer(t, []string{
		`{"e":"aggTrade","p":"9.99"}`,
		`{"e":"markPriceUpdate","p":"not-a-number"}`,
		`{"e":"markPriceUpdate","p":"0.22000"}`,
	})
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	f := New(config.FeedConfig{
		URL:            wsURL,
		ReconnectDelay: 10 * time.Millisecond,
		StaleAfter:     time.Minute,
	}, "DOGEUSDT", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	waitForPrice(t, f, 0.22)
}

func TestPriceStaysResponsiveDuringHungDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Accept TCP connections but never answer the websocket upgrade, so the
	// dial stays in flight until its context expires.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()
		}
	}()

	f := New(config.FeedConfig{
		URL:            "ws://" + ln.Addr().String(),
		ReconnectDelay: 10 * time.Millisecond,
		StaleAfter:     time.Minute,
	}, "DOGEUSDT", zap.NewNop())

	go func() { _ = f.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := f.Price(); ok {
			t.Error("empty cache reported fresh")
		}
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Price blocked behind an in-flight dial")
	}
}

func TestFeedReportsStale(t *testing.T) {
	f := New(config.FeedConfig{
		URL:        "ws://unused",
		StaleAfter: 20 * time.Millisecond,
	}, "DOGEUSDT", zap.NewNop())

	if _, ok := f.Price(); ok {
		t.Fatal("empty cache reported fresh")
	}

	f.mu.Lock()
	f.price = 0.23
	f.at = time.Now()
	f.mu.Unlock()
	if price, ok := f.Price(); !ok || price != 0.23 {
		t.Fatalf("fresh cache not served: %v %v", price, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := f.Price(); ok {
		t.Fatal("stale cache reported fresh")
	}
}
