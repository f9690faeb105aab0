// Package indicator implements the derived-series engines: Wilder ATR,
// Renko brick construction and StochRSI. All engines are deterministic
// folds over immutable inputs and carry no internal concurrency.
package indicator

import (
	"github.com/shopspring/decimal"

	"renkoflow/models"
)

// ATRState is the Wilder smoothing accumulator. It is passed by value
// between steps so concurrent per-instrument computations never alias.
type ATRState struct {
	period    int
	seen      int
	trSum     decimal.Decimal
	smoothed  decimal.Decimal
	prevClose decimal.Decimal
}

// NewATRState returns an empty accumulator for the given period.
func NewATRState(period int) ATRState {
	return ATRState{period: period}
}

// trueRange computes the candle's true range against the previous close.
// The first candle of a series has no previous close and uses high-low.
func trueRange(c models.Candle, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	hl := c.High.Sub(c.Low)
	if !hasPrev {
		return hl
	}
	hc := c.High.Sub(prevClose).Abs()
	lc := c.Low.Sub(prevClose).Abs()
	return decimal.Max(hl, hc, lc)
}

// Update folds one candle into the accumulator and returns the new state.
// The first `period` true ranges accumulate into the seed mean; afterwards
// each candle applies Wilder smoothing: (smoothed*(p-1) + tr) / p.
func (s ATRState) Update(c models.Candle) ATRState {
	tr := trueRange(c, s.prevClose, s.seen > 0)
	s.prevClose = c.Close
	s.seen++

	switch {
	case s.seen < s.period:
		s.trSum = s.trSum.Add(tr)
	case s.seen == s.period:
		s.trSum = s.trSum.Add(tr)
		s.smoothed = s.trSum.Div(decimal.NewFromInt(int64(s.period)))
	default:
		p := decimal.NewFromInt(int64(s.period))
		s.smoothed = s.smoothed.Mul(p.Sub(decimal.NewFromInt(1))).Add(tr).Div(p)
	}
	return s
}

// Ready reports whether the seed window has been consumed.
func (s ATRState) Ready() bool { return s.seen >= s.period }

// Value returns the current smoothed true range. Zero until Ready.
func (s ATRState) Value() decimal.Decimal { return s.smoothed }

// ComputeATR folds the whole series and returns the final smoothed true
// range. The series must be strictly longer than the period so at least one
// smoothing step follows the seed.
func ComputeATR(series models.CandleSeries, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, &models.ConfigError{Param: "atr.period", Reason: "must be positive"}
	}
	if series.Len() <= period {
		return decimal.Zero, &models.InsufficientDataError{Op: "atr", Need: period + 1, Have: series.Len()}
	}
	state := NewATRState(period)
	for _, c := range series.Candles {
		state = state.Update(c)
	}
	return state.Value(), nil
}

// BrickSizeLimits bound the derived brick size for one instrument.
// A zero tick disables rounding; zero min/max disable clamping.
type BrickSizeLimits struct {
	Tick decimal.Decimal
	Min  decimal.Decimal
	Max  decimal.Decimal
}

// BrickSize is a derived brick size. Clamped reports that the raw
// ATR-derived value fell outside the configured bounds.
type BrickSize struct {
	Size    decimal.Decimal
	Clamped bool
}

// DeriveBrickSize turns an ATR value into a brick size: multiply, round to
// the instrument tick, then clamp silently to [min, max]. Clamping never
// errors but is observable through the Clamped flag.
func DeriveBrickSize(atr, multiplier decimal.Decimal, limits BrickSizeLimits) BrickSize {
	size := atr.Mul(multiplier)
	if limits.Tick.IsPositive() {
		size = size.Div(limits.Tick).Round(0).Mul(limits.Tick)
	}

	out := BrickSize{Size: size}
	if limits.Min.IsPositive() && size.LessThan(limits.Min) {
		out.Size = limits.Min
		out.Clamped = true
	}
	if limits.Max.IsPositive() && out.Size.GreaterThan(limits.Max) {
		out.Size = limits.Max
		out.Clamped = true
	}
	return out
}
