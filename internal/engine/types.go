// Package engine owns the grid state machine: the authoritative in-memory view
// of which ladder levels are covered by resting orders or open positions, the
// placement service that creates those orders, and the reconciliation loop
// that keeps the view in line with exchange-reported truth.
package engine

import (
	"context"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderKind string

const (
	KindEntryLimit OrderKind = "LIMIT"
	KindStopMarket OrderKind = "STOP_MARKET"
)

// Terminal and resting order statuses as reported by the exchange.
const (
	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusRejected = "REJECTED"
	OrderStatusExpired  = "EXPIRED"
)

// PositionSideShort is the only position side this strategy trades.
const PositionSideShort = "SHORT"

// OrderRecord is one order the engine has placed and not yet retired. Records
// are removed, never updated in place, once the exchange stops reporting the
// order open.
type OrderRecord struct {
	ID           int64
	Side         Side
	Kind         OrderKind
	Quantity     float64
	Price        float64 // limit price for entries, trigger price for stops
	PositionSide string
	PlacedAt     time.Time
}

// PositionRecord is one open short tied to a grid level. Created when an entry
// fill is observed, destroyed when its protective stop is observed filled.
type PositionRecord struct {
	EntryPrice      float64
	Quantity        float64
	PlannedStopLoss float64
	StopLossPlaced  bool
	ActualStopLoss  float64
	OpenedAt        time.Time
}

type OrderRequest struct {
	Side         Side
	Kind         OrderKind
	Quantity     float64
	Price        float64
	StopPrice    float64
	PositionSide string
}

// OrderStatus is the exchange's answer to a terminal-status query.
type OrderStatus struct {
	ID        int64
	Status    string
	Side      Side
	Kind      OrderKind
	Price     float64
	StopPrice float64
}

// Filters is the per-symbol instrument precision, fetched once at startup.
type Filters struct {
	TickSize float64
	MinQty   float64
}

// Position is an exchange-reported position snapshot entry.
type Position struct {
	Symbol     string
	Side       string
	EntryPrice float64
	Quantity   float64
}

// Gateway is the slice of the exchange surface the reconciliation loop needs.
// Implementations must be safe for sequential use from one goroutine.
type Gateway interface {
	Price(ctx context.Context, symbol string) (float64, error)
	OpenOrderIDs(ctx context.Context, symbol string) (map[int64]struct{}, error)
	Order(ctx context.Context, symbol string, orderID int64) (OrderStatus, error)
	PlaceOrder(ctx context.Context, symbol string, req OrderRequest) (int64, error)
}

// PriceSource is an optional push-fed price cache (e.g. a mark-price stream).
// Price reports ok=false when no fresh value is available, in which case the
// reconciler falls back to polling the gateway.
type PriceSource interface {
	Price() (float64, bool)
}

// Snapshot summarizes one reconciliation tick for observers.
type Snapshot struct {
	Time                 time.Time
	Price                float64
	RestingEntries       int
	OpenPositions        int
	UnprotectedPositions int
	UncoveredLevels      int
}
