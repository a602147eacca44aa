// Package bot owns the engine lifecycle: start validates, prepares the
// account, lays the initial ladder and launches the reconciliation loop; stop
// signals the loop, cancels resting orders, and reports what remains open.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bn-grid-bot/internal/binance"
	"bn-grid-bot/internal/config"
	"bn-grid-bot/internal/engine"
	"bn-grid-bot/internal/events"
	"bn-grid-bot/internal/grid"
	"bn-grid-bot/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning    = errors.New("bot is already running")
	ErrNotRunning        = errors.New("bot is not running")
	ErrNoPlaceableLevels = errors.New("no entry order could be placed: all levels at or above market")
)

// Exchange is the full collaborator surface the controller needs; the engine
// sees only the embedded Gateway slice.
type Exchange interface {
	engine.Gateway
	Verify(ctx context.Context) error
	Filters(ctx context.Context, symbol string) (engine.Filters, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	Positions(ctx context.Context, symbol string) ([]engine.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (binance.Outcome, error)
	SetDualSideMode(ctx context.Context, enabled bool) (binance.Outcome, error)
}

type Summary struct {
	OpenPositions int
}

type Controller struct {
	cfg     *config.Config
	log     *zap.Logger
	ex      Exchange
	bus     *events.Bus
	metrics *metrics.Metrics
	feed    engine.PriceSource
	onTick  func(engine.Snapshot)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	book    *engine.Book
	levels  []grid.Level
}

func New(cfg *config.Config, log *zap.Logger, ex Exchange, bus *events.Bus, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.NewNoop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Controller{cfg: cfg, log: log, ex: ex, bus: bus, metrics: m}
}

// SetPriceSource installs an optional push-fed price cache for the loop.
// Must be called before Start.
func (c *Controller) SetPriceSource(feed engine.PriceSource) {
	c.feed = feed
}

// SetOnTick installs a per-tick snapshot observer. Must be called before
// Start.
func (c *Controller) SetOnTick(fn func(engine.Snapshot)) {
	c.onTick = fn
}

// Start prepares the account, lays the ladder below current market, and
// launches the reconciliation loop. It fails without side effects left
// running: an error before loop launch leaves no background work behind.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	gc := c.cfg.Grid

	if err := c.ex.Verify(ctx); err != nil {
		return err
	}
	c.bus.Emit(events.KindConnected, "exchange connection established", nil)

	filters, err := c.ex.Filters(ctx, gc.Symbol)
	if err != nil {
		return fmt.Errorf("fetch exchange filters: %w", err)
	}
	price, err := c.ex.Price(ctx, gc.Symbol)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	c.log.Info("instrument ready",
		zap.String("symbol", gc.Symbol),
		zap.Float64("price", price),
		zap.Float64("tick_size", filters.TickSize),
		zap.Float64("min_qty", filters.MinQty),
	)

	outcome, err := c.ex.SetLeverage(ctx, gc.Symbol, gc.Leverage)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	c.log.Info("leverage set", zap.Int("leverage", gc.Leverage), zap.Stringer("outcome", outcome))

	outcome, err = c.ex.SetDualSideMode(ctx, true)
	if err != nil {
		return fmt.Errorf("set hedge mode: %w", err)
	}
	c.log.Info("hedge mode set", zap.Stringer("outcome", outcome))

	levels, err := grid.ComputeLevels(grid.Params{
		LowerBound:   gc.LowerBound,
		UpperBound:   gc.UpperBound,
		LevelCount:   gc.LevelCount,
		TotalCapital: gc.TotalCapital,
		Leverage:     gc.Leverage,
		TickSize:     filters.TickSize,
		MinQty:       filters.MinQty,
	})
	if err != nil {
		return fmt.Errorf("compute grid levels: %w", err)
	}
	c.log.Info("grid computed", zap.Int("levels", len(levels)))

	book := engine.NewBook()
	placer := engine.NewPlacer(c.ex, book, gc.Symbol, c.log, c.metrics, c.bus)
	placed := 0
	for _, level := range levels {
		if level.Price >= price {
			c.log.Info("level suspended, at or above market", zap.Float64("price", level.Price))
			continue
		}
		if _, err := placer.PlaceEntry(ctx, level); err != nil {
			c.log.Warn("initial entry placement failed", zap.Float64("price", level.Price), zap.Error(err))
			continue
		}
		placed++
	}
	if placed == 0 {
		return ErrNoPlaceableLevels
	}
	c.log.Info("initial ladder placed", zap.Int("orders", placed))

	rec := engine.NewReconciler(c.ex, book, placer, levels, gc.Symbol, filters.TickSize, c.log, c.metrics, c.bus)
	if c.feed != nil {
		rec.SetPriceSource(c.feed)
	}
	if c.onTick != nil {
		rec.SetOnTick(c.onTick)
	}

	// The loop outlives the Start call; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(runCtx, c.cfg.Engine.PollInterval)
	}()

	c.book = book
	c.levels = levels
	c.cancel = cancel
	c.done = done
	c.running = true
	c.bus.Emit(events.KindStarted, fmt.Sprintf("bot started: %d entry orders resting on %s", placed, gc.Symbol), map[string]any{
		"symbol": gc.Symbol,
		"orders": placed,
	})
	return nil
}

// Stop signals the loop, cancels all open orders for the symbol, and joins
// the loop within the configured timeout, proceeding either way.
func (c *Controller) Stop(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return Summary{}, ErrNotRunning
	}
	c.cancel()

	if err := c.ex.CancelAllOrders(ctx, c.cfg.Grid.Symbol); err != nil {
		c.log.Warn("cancel all orders failed", zap.Error(err))
	} else {
		c.log.Info("all open orders cancelled", zap.String("symbol", c.cfg.Grid.Symbol))
	}

	select {
	case <-c.done:
	case <-time.After(c.cfg.Engine.StopTimeout):
		c.log.Warn("reconciliation loop did not exit before timeout")
	case <-ctx.Done():
		c.log.Warn("stop context cancelled while awaiting loop exit", zap.Error(ctx.Err()))
	}

	_, openPositions, _ := c.book.Counts()
	if positions, err := c.ex.Positions(ctx, c.cfg.Grid.Symbol); err != nil {
		c.log.Warn("position snapshot failed at stop", zap.Error(err))
	} else if len(positions) != openPositions {
		c.log.Warn("exchange-reported positions differ from tracked",
			zap.Int("exchange", len(positions)),
			zap.Int("tracked", openPositions),
		)
	}

	c.running = false
	c.bus.Emit(events.KindStopped, fmt.Sprintf("bot stopped: %d positions still open", openPositions), map[string]any{
		"open_positions": openPositions,
	})
	return Summary{OpenPositions: openPositions}, nil
}

// Running reports whether the loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
