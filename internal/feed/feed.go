// Package feed maintains a mark-price cache off the Binance futures stream.
// The reconciler consults it before falling back to REST polling; the feed is
// an accelerator, never the model of record.
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"bn-grid-bot/internal/config"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const dialTimeout = 10 * time.Second

type Feed struct {
	url            string
	reconnectDelay time.Duration
	staleAfter     time.Duration
	log            *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	price float64
	at    time.Time
}

// New builds a feed for one symbol's markPrice stream. The stream name is
// part of the URL path, so no subscribe message is needed after dialing.
func New(cfg config.FeedConfig, symbol string, log *zap.Logger) *Feed {
	return &Feed{
		url:            strings.TrimRight(cfg.URL, "/") + "/" + strings.ToLower(symbol) + "@markPrice",
		reconnectDelay: cfg.ReconnectDelay,
		staleAfter:     cfg.StaleAfter,
		log:            log,
	}
}

// Price returns the cached mark price, ok=false when the cache is stale or
// has never been filled.
func (f *Feed) Price() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at.IsZero() || time.Since(f.at) > f.staleAfter {
		return 0, false
	}
	return f.price, true
}

// Run dials and reads until ctx is cancelled, reconnecting after read
// failures. A feed that cannot connect only degrades price reads to polling.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("price feed dial failed", zap.Error(err))
		} else {
			err := f.readLoop(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logReadLoopError(err)
			f.resetConn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

// connect dials without holding f.mu so a slow or hung dial cannot block
// Price readers. Only Run's goroutine calls connect and resetConn, so the
// unlocked dial cannot race another dial.
func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	connected := f.conn != nil
	f.mu.Unlock()
	if connected {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return nil
}

type markPriceUpdate struct {
	Event string `json:"e"`
	Price string `json:"p"`
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var update markPriceUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			continue
		}
		if update.Event != "markPriceUpdate" {
			continue
		}
		price, err := strconv.ParseFloat(update.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		f.mu.Lock()
		f.price = price
		f.at = time.Now()
		f.mu.Unlock()
	}
}

func (f *Feed) logReadLoopError(err error) {
	if f.log == nil || err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		f.log.Info("price feed closed", zap.Error(err))
		return
	}
	f.log.Warn("price feed read ended", zap.Error(err))
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}
