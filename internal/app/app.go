// Package app wires the configured components together and drives the bot
// lifecycle from process start to shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"bn-grid-bot/internal/alerts"
	"bn-grid-bot/internal/binance"
	"bn-grid-bot/internal/bot"
	"bn-grid-bot/internal/config"
	"bn-grid-bot/internal/events"
	"bn-grid-bot/internal/feed"
	"bn-grid-bot/internal/grid"
	"bn-grid-bot/internal/journal"
	"bn-grid-bot/internal/metrics"
	"bn-grid-bot/internal/timescale"

	"go.uber.org/zap"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	bus        *events.Bus
	client     *binance.Client
	controller *bot.Controller
	journal    *journal.Journal
	feed       *feed.Feed
	timescale  *timescale.Writer
	metricsSrv *http.Server
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, bus: events.NewBus()}

	a.bus.Subscribe(func(ev events.Event) {
		log.Info("event", zap.String("kind", string(ev.Kind)), zap.String("message", ev.Message), zap.Any("fields", ev.Fields))
	})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		a.metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	} else {
		m = metrics.NewNoop()
	}

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return nil, err
		}
		j, err := journal.New(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		a.journal = j
		a.bus.Subscribe(func(ev events.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := j.Append(ctx, ev); err != nil {
				log.Warn("journal append failed", zap.Error(err))
			}
		})
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log)
	a.bus.Subscribe(telegram.Notify)

	client, err := binance.New(cfg.Exchange, log)
	if err != nil {
		return nil, err
	}
	a.client = client

	a.controller = bot.New(cfg, log, client, a.bus, m)

	if cfg.Feed.Enabled {
		a.feed = feed.New(cfg.Feed, cfg.Grid.Symbol, log)
		a.controller.SetPriceSource(a.feed)
	}

	writer, err := timescale.New(cfg.Timescale, cfg.Grid.Symbol, log)
	if err != nil {
		return nil, err
	}
	if writer != nil {
		a.timescale = writer
		a.controller.SetOnTick(writer.Enqueue)
	}
	return a, nil
}

// Run starts the bot and blocks until ctx is cancelled, then performs an
// orderly shutdown.
func (a *App) Run(ctx context.Context) error {
	defer a.closeAll()

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics server terminated", zap.Error(err))
			}
		}()
		a.log.Info("metrics server listening", zap.String("addr", a.metricsSrv.Addr))
	}
	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && err != context.Canceled {
				a.log.Warn("price feed terminated", zap.Error(err))
			}
		}()
	}
	if a.timescale != nil {
		a.timescale.Start(ctx)
	}

	if err := a.controller.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.StopTimeout+5*time.Second)
	defer cancel()
	summary, err := a.controller.Stop(stopCtx)
	if err != nil {
		return err
	}
	a.log.Info("shutdown complete", zap.Int("open_positions", summary.OpenPositions))
	return ctx.Err()
}

// Preview prints the grid ladder for the configured parameters without
// placing any orders. Filter data comes from the exchange; credentials are
// not required.
func Preview(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	gc := cfg.Grid
	client := binance.NewPublic(cfg.Exchange, log)
	filters, err := client.Filters(ctx, gc.Symbol)
	if err != nil {
		return fmt.Errorf("fetch exchange filters: %w", err)
	}
	candidates, err := grid.Candidates(grid.Params{
		LowerBound:   gc.LowerBound,
		UpperBound:   gc.UpperBound,
		LevelCount:   gc.LevelCount,
		TotalCapital: gc.TotalCapital,
		Leverage:     gc.Leverage,
		TickSize:     filters.TickSize,
		MinQty:       filters.MinQty,
	})
	if err != nil {
		return err
	}
	fmt.Printf("grid preview for %s (tick %v, min qty %v)\n", gc.Symbol, filters.TickSize, filters.MinQty)
	fmt.Printf("%-4s %-12s %-12s %-12s %s\n", "#", "price", "quantity", "stop", "status")
	for i, cand := range candidates {
		status := "ok"
		if !cand.Valid {
			status = "below min qty, skipped"
		}
		fmt.Printf("%-4d %-12v %-12v %-12v %s\n", i, cand.Price, cand.Quantity, cand.StopLoss, status)
	}
	return nil
}

func (a *App) closeAll() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.timescale != nil {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale writer close failed", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("journal close failed", zap.Error(err))
		}
	}
}
