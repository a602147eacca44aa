package engine

import (
	"math"
	"sync"
)

// Book holds the active-order table and the position table behind a single
// mutex. The reconciliation loop and the placement service it invokes are the
// only writers; the controller reads aggregate counts through the same lock.
type Book struct {
	mu           sync.Mutex
	orders       map[int64]OrderRecord
	entryByLevel map[float64]int64 // level price -> resting entry order id
	positions    map[float64]PositionRecord
}

func NewBook() *Book {
	return &Book{
		orders:       make(map[int64]OrderRecord),
		entryByLevel: make(map[float64]int64),
		positions:    make(map[float64]PositionRecord),
	}
}

// TrackOrder records a freshly placed order. Entry orders are additionally
// indexed by level price so the loop can tell who is covering a level.
func (b *Book) TrackOrder(rec OrderRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[rec.ID] = rec
	if rec.Kind == KindEntryLimit && rec.Side == SideSell {
		b.entryByLevel[rec.Price] = rec.ID
	}
}

// RemoveOrder retires an order record and drops its level mapping if it was
// the resting entry for that level.
func (b *Book) RemoveOrder(id int64) (OrderRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.orders[id]
	if !ok {
		return OrderRecord{}, false
	}
	delete(b.orders, id)
	if mapped, exists := b.entryByLevel[rec.Price]; exists && mapped == id {
		delete(b.entryByLevel, rec.Price)
	}
	return rec, true
}

// Orders returns a snapshot of the active-order table.
func (b *Book) Orders() []OrderRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OrderRecord, 0, len(b.orders))
	for _, rec := range b.orders {
		out = append(out, rec)
	}
	return out
}

func (b *Book) AddPosition(pos PositionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.EntryPrice] = pos
}

func (b *Book) Positions() []PositionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PositionRecord, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// MarkStopPlaced flips a position to protected and records the stop price the
// protective order was actually placed at.
func (b *Book) MarkStopPlaced(entryPrice, actualStop float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[entryPrice]
	if !ok || pos.StopLossPlaced {
		return false
	}
	pos.StopLossPlaced = true
	pos.ActualStopLoss = actualStop
	b.positions[entryPrice] = pos
	return true
}

// RemovePositionByStop deletes and returns the position whose actual stop
// price lies within tol of stopPrice. When several positions match it takes
// the closest and reports the candidate count so the caller can flag the
// ambiguity.
func (b *Book) RemovePositionByStop(stopPrice, tol float64) (PositionRecord, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var (
		best       PositionRecord
		bestDist   = math.MaxFloat64
		candidates int
		found      bool
	)
	for _, pos := range b.positions {
		if !pos.StopLossPlaced {
			continue
		}
		dist := math.Abs(pos.ActualStopLoss - stopPrice)
		if dist >= tol {
			continue
		}
		candidates++
		if dist < bestDist {
			best = pos
			bestDist = dist
			found = true
		}
	}
	if !found {
		return PositionRecord{}, 0, false
	}
	delete(b.positions, best.EntryPrice)
	return best, candidates, true
}

// Covered reports whether a level is already accounted for by a resting entry
// order or an open position (tick-tolerant on the position side).
func (b *Book) Covered(levelPrice, tol float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entryByLevel[levelPrice]; ok {
		return true
	}
	for entry := range b.positions {
		if math.Abs(entry-levelPrice) < tol {
			return true
		}
	}
	return false
}

// Counts reports resting entry orders, open positions, and positions still
// awaiting a protective order.
func (b *Book) Counts() (restingEntries, openPositions, unprotected int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	restingEntries = len(b.entryByLevel)
	openPositions = len(b.positions)
	for _, pos := range b.positions {
		if !pos.StopLossPlaced {
			unprotected++
		}
	}
	return restingEntries, openPositions, unprotected
}
