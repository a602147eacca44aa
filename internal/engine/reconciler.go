package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"bn-grid-bot/internal/events"
	"bn-grid-bot/internal/grid"
	"bn-grid-bot/internal/metrics"

	"go.uber.org/zap"
)

// stopSafetyTicks is the margin between current price and the planned stop
// below which a deferred stop-loss is not armed, so a stop is never placed
// where it would be immediately marketable.
const stopSafetyTicks = 10

// Reconciler drives the grid state machine. Each tick diffs exchange-reported
// orders against the book, translates fills into position transitions, arms
// deferred stop-losses, and heals uncovered levels. A caught error skips the
// item, never the loop; only cancellation stops it.
type Reconciler struct {
	gw      Gateway
	book    *Book
	placer  *Placer
	levels  []grid.Level
	symbol  string
	tick    float64
	log     *zap.Logger
	metrics *metrics.Metrics
	bus     *events.Bus
	feed    PriceSource
	onTick  func(Snapshot)
}

func NewReconciler(gw Gateway, book *Book, placer *Placer, levels []grid.Level, symbol string, tickSize float64, log *zap.Logger, m *metrics.Metrics, bus *events.Bus) *Reconciler {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Reconciler{
		gw:      gw,
		book:    book,
		placer:  placer,
		levels:  levels,
		symbol:  symbol,
		tick:    tickSize,
		log:     log,
		metrics: m,
		bus:     bus,
	}
}

// SetPriceSource installs an optional push-fed price cache consulted before
// polling the gateway.
func (r *Reconciler) SetPriceSource(feed PriceSource) {
	r.feed = feed
}

// SetOnTick installs an observer called with a snapshot after every
// successful tick.
func (r *Reconciler) SetOnTick(fn func(Snapshot)) {
	r.onTick = fn
}

// Run executes ticks on a fixed wall-clock interval until ctx is cancelled.
// The current tick is always finished before exiting.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.metrics.TickErrors.Inc()
				r.log.Warn("reconciliation tick failed", zap.Error(err))
				r.bus.Emit(events.KindError, fmt.Sprintf("reconciliation tick failed: %v", err), nil)
			}
		}
	}
}

// Tick performs one reconciliation pass: fill/cancel detection, deferred
// stop-loss activation, gap healing. A tick with no mutations is the expected
// steady state.
func (r *Reconciler) Tick(ctx context.Context) error {
	price, err := r.currentPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	open, err := r.gw.OpenOrderIDs(ctx, r.symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	r.detectTerminalOrders(ctx, open, price)
	r.armDeferredStops(ctx, price)
	uncovered := r.healGaps(ctx, price)

	if r.onTick != nil {
		resting, positions, unprotected := r.book.Counts()
		r.onTick(Snapshot{
			Time:                 time.Now().UTC(),
			Price:                price,
			RestingEntries:       resting,
			OpenPositions:        positions,
			UnprotectedPositions: unprotected,
			UncoveredLevels:      uncovered,
		})
	}
	return nil
}

// detectTerminalOrders classifies every tracked order the exchange no longer
// reports open. Filled entries become positions, filled stops close positions
// and restore their level; anything else is simply dropped.
func (r *Reconciler) detectTerminalOrders(ctx context.Context, open map[int64]struct{}, price float64) {
	for _, rec := range r.book.Orders() {
		if _, stillOpen := open[rec.ID]; stillOpen {
			continue
		}
		status, err := r.gw.Order(ctx, r.symbol, rec.ID)
		// The record is dropped either way: keeping an id the exchange no
		// longer reports open would stall the loop on every tick.
		r.book.RemoveOrder(rec.ID)
		if err != nil {
			r.log.Warn("terminal status query failed, dropping order record",
				zap.Int64("order_id", rec.ID),
				zap.Float64("price", rec.Price),
				zap.Error(err),
			)
			continue
		}
		if status.Status != OrderStatusFilled {
			r.log.Info("order retired",
				zap.Int64("order_id", rec.ID),
				zap.String("status", status.Status),
				zap.Float64("price", rec.Price),
			)
			continue
		}
		switch {
		case rec.Kind == KindEntryLimit && rec.Side == SideSell:
			r.onEntryFilled(rec)
		case rec.Kind == KindStopMarket && rec.Side == SideBuy:
			r.onStopFilled(ctx, rec, price)
		}
	}
}

func (r *Reconciler) onEntryFilled(rec OrderRecord) {
	level, ok := r.levelAt(rec.Price)
	if !ok {
		r.log.Warn("filled entry matches no grid level", zap.Float64("price", rec.Price))
		return
	}
	// The stop-loss is deliberately not placed yet; it is armed once price
	// comes back up through the entry (see armDeferredStops).
	r.book.AddPosition(PositionRecord{
		EntryPrice:      rec.Price,
		Quantity:        rec.Quantity,
		PlannedStopLoss: level.StopLoss,
		OpenedAt:        time.Now().UTC(),
	})
	r.metrics.FillsDetected.Inc()
	r.log.Info("short opened",
		zap.Float64("entry_price", rec.Price),
		zap.Float64("quantity", rec.Quantity),
		zap.Float64("planned_stop", level.StopLoss),
	)
	r.bus.Emit(events.KindFillDetected, fmt.Sprintf("short opened at %v, stop-loss deferred", rec.Price), map[string]any{
		"entry_price": rec.Price,
		"quantity":    rec.Quantity,
	})
}

func (r *Reconciler) onStopFilled(ctx context.Context, rec OrderRecord, price float64) {
	pos, candidates, ok := r.book.RemovePositionByStop(rec.Price, r.tick)
	if !ok {
		r.log.Warn("filled stop matches no tracked position", zap.Float64("stop_price", rec.Price))
		return
	}
	if candidates > 1 {
		r.log.Warn("multiple positions within one tick of stop price, closed the nearest",
			zap.Float64("stop_price", rec.Price),
			zap.Float64("entry_price", pos.EntryPrice),
			zap.Int("candidates", candidates),
		)
	}
	r.metrics.StopsFired.Inc()
	r.log.Info("stop-loss fired, position closed",
		zap.Float64("stop_price", rec.Price),
		zap.Float64("entry_price", pos.EntryPrice),
	)
	r.bus.Emit(events.KindStopFired, fmt.Sprintf("stop-loss fired at %v, position %v closed", rec.Price, pos.EntryPrice), map[string]any{
		"stop_price":  rec.Price,
		"entry_price": pos.EntryPrice,
	})

	level, ok := r.levelAt(pos.EntryPrice)
	if !ok || level.Price >= price || r.book.Covered(level.Price, r.tick) {
		return
	}
	if _, err := r.placer.PlaceEntry(ctx, level); err != nil {
		r.log.Warn("level restore failed", zap.Float64("price", level.Price), zap.Error(err))
		return
	}
	r.metrics.LevelsRestored.Inc()
	r.log.Info("grid level restored", zap.Float64("price", level.Price))
	r.bus.Emit(events.KindLevelRestored, fmt.Sprintf("grid level restored at %v", level.Price), map[string]any{
		"price": level.Price,
	})
}

// armDeferredStops places the protective order for unprotected positions once
// price has risen back to the entry but is still a safety margin short of the
// planned stop. If price gapped through the band the position stays
// unprotected until the next favorable window; that is the strategy, not a
// fault to repair here.
func (r *Reconciler) armDeferredStops(ctx context.Context, price float64) {
	for _, pos := range r.book.Positions() {
		if pos.StopLossPlaced {
			continue
		}
		if price < pos.EntryPrice {
			continue
		}
		if price >= pos.PlannedStopLoss-float64(stopSafetyTicks)*r.tick {
			continue
		}
		if _, err := r.placer.PlaceProtective(ctx, pos); err != nil {
			r.log.Warn("deferred stop placement failed",
				zap.Float64("entry_price", pos.EntryPrice),
				zap.Error(err),
			)
			continue
		}
		r.book.MarkStopPlaced(pos.EntryPrice, pos.PlannedStopLoss)
		r.metrics.StopsArmed.Inc()
		r.log.Info("deferred stop-loss armed",
			zap.Float64("entry_price", pos.EntryPrice),
			zap.Float64("stop_price", pos.PlannedStopLoss),
		)
		r.bus.Emit(events.KindStopArmed, fmt.Sprintf("stop-loss armed at %v for short %v", pos.PlannedStopLoss, pos.EntryPrice), map[string]any{
			"entry_price": pos.EntryPrice,
			"stop_price":  pos.PlannedStopLoss,
		})
	}
}

// healGaps places a fresh entry for every level strictly below market that has
// neither a resting order nor an open position. Returns how many below-market
// levels remain uncovered after the pass.
func (r *Reconciler) healGaps(ctx context.Context, price float64) int {
	uncovered := 0
	for _, level := range r.levels {
		if level.Price >= price {
			continue // suspended: at or above market
		}
		if r.book.Covered(level.Price, r.tick) {
			continue
		}
		if _, err := r.placer.PlaceEntry(ctx, level); err != nil {
			uncovered++
			r.log.Warn("gap heal failed", zap.Float64("price", level.Price), zap.Error(err))
		}
	}
	return uncovered
}

func (r *Reconciler) currentPrice(ctx context.Context) (float64, error) {
	if r.feed != nil {
		if price, ok := r.feed.Price(); ok {
			return price, nil
		}
	}
	return r.gw.Price(ctx, r.symbol)
}

func (r *Reconciler) levelAt(price float64) (grid.Level, bool) {
	var (
		best     grid.Level
		bestDist = math.MaxFloat64
		found    bool
	)
	for _, level := range r.levels {
		dist := math.Abs(level.Price - price)
		if dist < r.tick && dist < bestDist {
			best = level
			bestDist = dist
			found = true
		}
	}
	return best, found
}
