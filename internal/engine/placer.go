package engine

import (
	"context"
	"fmt"
	"time"

	"bn-grid-bot/internal/events"
	"bn-grid-bot/internal/grid"
	"bn-grid-bot/internal/metrics"

	"go.uber.org/zap"
)

// Placer wraps gateway order placement and records every accepted order in
// the book. It never retries: a failed placement leaves the level uncovered
// for the next reconciliation tick to heal.
type Placer struct {
	gw      Gateway
	book    *Book
	symbol  string
	log     *zap.Logger
	metrics *metrics.Metrics
	bus     *events.Bus
}

func NewPlacer(gw Gateway, book *Book, symbol string, log *zap.Logger, m *metrics.Metrics, bus *events.Bus) *Placer {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Placer{gw: gw, book: book, symbol: symbol, log: log, metrics: m, bus: bus}
}

// PlaceEntry issues the LIMIT SELL that opens a short when price falls to the
// level, and indexes the record by level price.
func (p *Placer) PlaceEntry(ctx context.Context, level grid.Level) (OrderRecord, error) {
	req := OrderRequest{
		Side:         SideSell,
		Kind:         KindEntryLimit,
		Quantity:     level.Quantity,
		Price:        level.Price,
		PositionSide: PositionSideShort,
	}
	orderID, err := p.gw.PlaceOrder(ctx, p.symbol, req)
	if err != nil {
		p.metrics.EntriesFailed.Inc()
		return OrderRecord{}, fmt.Errorf("place entry at %v: %w", level.Price, err)
	}
	rec := OrderRecord{
		ID:           orderID,
		Side:         SideSell,
		Kind:         KindEntryLimit,
		Quantity:     level.Quantity,
		Price:        level.Price,
		PositionSide: PositionSideShort,
		PlacedAt:     time.Now().UTC(),
	}
	p.book.TrackOrder(rec)
	p.metrics.EntriesPlaced.Inc()
	p.log.Info("entry order placed",
		zap.Int64("order_id", orderID),
		zap.Float64("price", level.Price),
		zap.Float64("quantity", level.Quantity),
	)
	p.bus.Emit(events.KindLevelPlaced, fmt.Sprintf("entry SELL LIMIT placed at %v qty %v", level.Price, level.Quantity), map[string]any{
		"order_id": orderID,
		"price":    level.Price,
		"quantity": level.Quantity,
	})
	return rec, nil
}

// PlaceProtective issues the STOP_MARKET BUY that closes the position if
// price rises back through the planned stop.
func (p *Placer) PlaceProtective(ctx context.Context, pos PositionRecord) (OrderRecord, error) {
	req := OrderRequest{
		Side:         SideBuy,
		Kind:         KindStopMarket,
		Quantity:     pos.Quantity,
		StopPrice:    pos.PlannedStopLoss,
		PositionSide: PositionSideShort,
	}
	orderID, err := p.gw.PlaceOrder(ctx, p.symbol, req)
	if err != nil {
		p.metrics.StopsFailed.Inc()
		return OrderRecord{}, fmt.Errorf("place protective stop at %v for entry %v: %w", pos.PlannedStopLoss, pos.EntryPrice, err)
	}
	rec := OrderRecord{
		ID:           orderID,
		Side:         SideBuy,
		Kind:         KindStopMarket,
		Quantity:     pos.Quantity,
		Price:        pos.PlannedStopLoss,
		PositionSide: PositionSideShort,
		PlacedAt:     time.Now().UTC(),
	}
	p.book.TrackOrder(rec)
	p.metrics.StopsPlaced.Inc()
	p.log.Info("protective order placed",
		zap.Int64("order_id", orderID),
		zap.Float64("stop_price", pos.PlannedStopLoss),
		zap.Float64("quantity", pos.Quantity),
	)
	p.bus.Emit(events.KindStopPlaced, fmt.Sprintf("protective BUY STOP_MARKET placed at %v qty %v", pos.PlannedStopLoss, pos.Quantity), map[string]any{
		"order_id":   orderID,
		"stop_price": pos.PlannedStopLoss,
		"quantity":   pos.Quantity,
	})
	return rec, nil
}
