package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the orientation of a Renko brick.
type Direction int

const (
	DirectionUp Direction = iota + 1
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "unknown"
	}
}

// RecomputeMode controls when an ATR-derived brick size is re-evaluated.
type RecomputeMode int

const (
	// RecomputeStatic derives one brick size from the full window's ATR,
	// giving a deterministic size for the whole run.
	RecomputeStatic RecomputeMode = iota
	// RecomputeRolling re-derives the brick size as each candle arrives,
	// letting it drift with volatility mid-stream.
	RecomputeRolling
)

func (m RecomputeMode) String() string {
	if m == RecomputeRolling {
		return "rolling"
	}
	return "static"
}

// BrickSizePolicy selects how the Renko brick size is resolved. It is a
// closed sum: FixedBrickSize or ATRBrickSize are the only implementations.
type BrickSizePolicy interface {
	brickSizePolicy()
	String() string
}

// FixedBrickSize uses a caller-supplied constant brick size.
type FixedBrickSize struct {
	Size decimal.Decimal
}

func (FixedBrickSize) brickSizePolicy() {}

func (p FixedBrickSize) String() string { return "fixed(" + p.Size.String() + ")" }

// ATRBrickSize derives the brick size from a Wilder ATR over the candle window.
type ATRBrickSize struct {
	Period     int
	Multiplier decimal.Decimal
	Recompute  RecomputeMode
}

func (ATRBrickSize) brickSizePolicy() {}

func (p ATRBrickSize) String() string {
	return "atr(" + p.Recompute.String() + ")"
}

// Brick is one fixed-magnitude Renko step. Bricks are immutable once emitted.
type Brick struct {
	Index       int             `json:"index"`
	Open        decimal.Decimal `json:"open"`
	Close       decimal.Decimal `json:"close"`
	Direction   Direction       `json:"direction"`
	SourceStart time.Time       `json:"source_start"`
	SourceEnd   time.Time       `json:"source_end"`
}

// RenkoSeries is the append-only brick sequence produced by one build run.
type RenkoSeries struct {
	Instrument string          `json:"instrument"`
	Timeframe  string          `json:"timeframe"`
	BrickSize  decimal.Decimal `json:"brick_size"`
	// Clamped reports that volatility pushed the derived size outside the
	// configured bounds and it was silently clamped.
	Clamped bool    `json:"clamped"`
	Bricks  []Brick `json:"bricks"`
}

// Closes returns the brick close prices in emission order.
func (s RenkoSeries) Closes() []decimal.Decimal {
	closes := make([]decimal.Decimal, len(s.Bricks))
	for i, b := range s.Bricks {
		closes[i] = b.Close
	}
	return closes
}
