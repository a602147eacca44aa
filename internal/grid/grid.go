// Package grid derives the static reference ladder for an inverted grid:
// short entries laid out from the top of a price range downward, each with a
// precomputed size and stop-loss. Levels are a pure function of the inputs;
// they never change after calculation.
package grid

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange      = errors.New("upper bound must be greater than lower bound")
	ErrInvalidLevelCount = errors.New("level count must be positive")
	ErrInvalidCapital    = errors.New("total capital must be positive")
	ErrInvalidLeverage   = errors.New("leverage must be >= 1")
	ErrInvalidPrecision  = errors.New("tick size and min quantity must be positive")
	ErrNoValidLevels     = errors.New("no level meets the minimum quantity")
)

type Params struct {
	LowerBound   float64
	UpperBound   float64
	LevelCount   int
	TotalCapital float64
	Leverage     int
	TickSize     float64
	MinQty       float64
}

// stopOffsetFraction is the share of a grid step the protective stop sits
// above a short entry.
const stopOffsetFraction = 0.2

// Level is one rung of the ladder. Price and StopLoss are tick-aligned,
// Quantity is floored to the instrument's min-quantity precision.
type Level struct {
	Price    float64
	Quantity float64
	StopLoss float64
	Step     float64
}

// PlannedStop derives the protective stop for a short entry at this level, a
// fifth of the grid step above the entry price, tick aligned. StopLoss holds
// the same value precomputed at ladder construction.
func (l Level) PlannedStop(tick float64) float64 {
	return RoundToTick(l.Price+stopOffsetFraction*l.Step, tick)
}

// Candidate is a level before the min-quantity cut, for previewing a
// configuration without trading.
type Candidate struct {
	Level
	Valid bool
}

// ComputeLevels returns the ladder in strictly descending price order,
// LevelCount+1 candidates with sub-minimum levels discarded. An empty result
// is a configuration failure, not something to retry.
func ComputeLevels(p Params) ([]Level, error) {
	candidates, err := Candidates(p)
	if err != nil {
		return nil, err
	}
	levels := make([]Level, 0, len(candidates))
	for _, c := range candidates {
		if c.Valid {
			levels = append(levels, c.Level)
		}
	}
	if len(levels) == 0 {
		return nil, ErrNoValidLevels
	}
	return levels, nil
}

// Candidates computes every level of the ladder, marking those whose floored
// quantity falls below the minimum instead of dropping them.
func Candidates(p Params) ([]Candidate, error) {
	if err := checkParams(p); err != nil {
		return nil, err
	}
	step := (p.UpperBound - p.LowerBound) / float64(p.LevelCount)
	capitalPerLevel := p.TotalCapital / float64(p.LevelCount+1)
	candidates := make([]Candidate, 0, p.LevelCount+1)
	for i := 0; i <= p.LevelCount; i++ {
		price := RoundToTick(p.UpperBound-float64(i)*step, p.TickSize)
		quantity := FloorToQty((capitalPerLevel*float64(p.Leverage))/price, p.MinQty)
		level := Level{Price: price, Quantity: quantity, Step: step}
		level.StopLoss = level.PlannedStop(p.TickSize)
		candidates = append(candidates, Candidate{
			Level: level,
			Valid: quantity >= p.MinQty,
		})
	}
	return candidates, nil
}

func checkParams(p Params) error {
	if p.UpperBound <= p.LowerBound || p.LowerBound <= 0 {
		return ErrInvalidRange
	}
	if p.LevelCount <= 0 {
		return ErrInvalidLevelCount
	}
	if p.TotalCapital <= 0 {
		return ErrInvalidCapital
	}
	if p.Leverage < 1 {
		return ErrInvalidLeverage
	}
	if p.TickSize <= 0 || p.MinQty <= 0 {
		return ErrInvalidPrecision
	}
	return nil
}

// RoundToTick aligns a price to the nearest tick, then rounds to the tick's
// own decimal precision to strip float drift.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	aligned := math.Round(price/tick) * tick
	return roundTo(aligned, Decimals(tick))
}

// FloorToQty floors a quantity to the decimal precision of the minimum
// quantity. Flooring, never rounding: sizes must not exceed allocated capital.
func FloorToQty(qty, minQty float64) float64 {
	if minQty <= 0 {
		return qty
	}
	factor := math.Pow10(Decimals(minQty))
	return math.Floor(qty*factor) / factor
}

// Decimals reports the number of decimal places in a tick or step size,
// e.g. 0.001 -> 3.
func Decimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func roundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
