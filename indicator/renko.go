package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"renkoflow/logger"
	"renkoflow/models"
)

var two = decimal.NewFromInt(2)

// RenkoBuilder converts a candle series into a brick sequence under a
// BrickSizePolicy. One builder may be shared across runs; Build itself is a
// pure fold and keeps no state between calls.
type RenkoBuilder struct {
	limits BrickSizeLimits
	log    *logger.Log
}

func NewRenkoBuilder(limits BrickSizeLimits) *RenkoBuilder {
	return &RenkoBuilder{
		limits: limits,
		log:    logger.GetLogger(),
	}
}

// Build emits the Renko series for the candle series under the policy.
// Under ATR-derived policies no brick is emitted for the seed window: the
// reference price starts at the first candle with a valid ATR value.
func (b *RenkoBuilder) Build(series models.CandleSeries, policy models.BrickSizePolicy) (models.RenkoSeries, error) {
	if series.Len() < 2 {
		return models.RenkoSeries{}, &models.InsufficientDataError{Op: "renko", Need: 2, Have: series.Len()}
	}

	out := models.RenkoSeries{
		Instrument: series.Instrument,
		Timeframe:  series.Timeframe,
	}

	var (
		refIdx  int
		resolve func(i int) BrickSize
	)

	switch p := policy.(type) {
	case models.FixedBrickSize:
		fixed := clampSize(p.Size, b.limits)
		refIdx = 0
		resolve = func(int) BrickSize { return fixed }

	case models.ATRBrickSize:
		if p.Period <= 0 {
			return models.RenkoSeries{}, &models.ConfigError{Param: "atr.period", Reason: "must be positive"}
		}
		mult := p.Multiplier
		if !mult.IsPositive() {
			mult = decimal.NewFromInt(1)
		}
		if series.Len() <= p.Period {
			return models.RenkoSeries{}, &models.InsufficientDataError{Op: "atr", Need: p.Period + 1, Have: series.Len()}
		}
		refIdx = p.Period - 1

		if p.Recompute == models.RecomputeRolling {
			// Fold the seed window, then re-derive the size per candle.
			state := NewATRState(p.Period)
			for i := 0; i <= refIdx; i++ {
				state = state.Update(series.Candles[i])
			}
			resolve = func(i int) BrickSize {
				state = state.Update(series.Candles[i])
				return DeriveBrickSize(state.Value(), mult, b.limits)
			}
		} else {
			atr, err := ComputeATR(series, p.Period)
			if err != nil {
				return models.RenkoSeries{}, err
			}
			static := DeriveBrickSize(atr, mult, b.limits)
			resolve = func(int) BrickSize { return static }
		}

	default:
		return models.RenkoSeries{}, &models.ConfigError{Param: "policy", Reason: "unknown brick size policy"}
	}

	ref := series.Candles[refIdx].Close
	rangeStart := series.Candles[refIdx].OpenTime
	var dir models.Direction
	var size decimal.Decimal

	for i := refIdx + 1; i < series.Len(); i++ {
		bs := resolve(i)
		size = bs.Size
		if bs.Clamped {
			out.Clamped = true
		}
		// A collapsed ATR (constant prices, no min clamp) yields a
		// non-positive size; no brick can be emitted against it.
		if !size.IsPositive() {
			continue
		}

		candle := series.Candles[i]
		if emitted := emitBricks(&out, candle, ref, &dir, size, rangeStart); emitted > 0 {
			ref = out.Bricks[len(out.Bricks)-1].Close
			rangeStart = candle.CloseTime
		}
	}

	out.BrickSize = size

	b.log.WithComponent("renko").WithFields(logger.Fields{
		"instrument": series.Instrument,
		"timeframe":  series.Timeframe,
		"policy":     policy.String(),
		"brick_size": out.BrickSize,
		"clamped":    out.Clamped,
		"bricks":     len(out.Bricks),
	}).Debug("renko series built")
	logger.IncrementBricksEmitted(len(out.Bricks))

	return out, nil
}

// emitBricks resolves all whole-brick moves of one candle close against the
// reference price and returns how many bricks were appended. The first brick
// against the prevailing direction consumes 2x the brick size of movement,
// every other brick one unit; exact threshold ties emit. The remaining
// movement is tracked explicitly so the reversal's gating unit is spent,
// never re-measured against the advanced reference.
func emitBricks(out *models.RenkoSeries, candle models.Candle, ref decimal.Decimal, dir *models.Direction, size decimal.Decimal, rangeStart time.Time) int {
	emitted := 0
	delta := candle.Close.Sub(ref)
	for !delta.IsZero() {
		d := models.DirectionUp
		if delta.IsNegative() {
			d = models.DirectionDown
		}

		threshold := size
		if *dir != 0 && d != *dir {
			threshold = size.Mul(two)
		}
		if delta.Abs().LessThan(threshold) {
			break
		}

		step := size
		consumed := threshold
		if d == models.DirectionDown {
			step = size.Neg()
			consumed = threshold.Neg()
		}
		brickClose := ref.Add(step)

		start := rangeStart
		if start.After(candle.OpenTime) {
			start = candle.OpenTime
		}
		out.Bricks = append(out.Bricks, models.Brick{
			Index:       len(out.Bricks),
			Open:        ref,
			Close:       brickClose,
			Direction:   d,
			SourceStart: start,
			SourceEnd:   candle.CloseTime,
		})
		ref = brickClose
		delta = delta.Sub(consumed)
		*dir = d
		emitted++
	}
	return emitted
}

// clampSize applies the instrument limits to a caller-supplied fixed size.
func clampSize(size decimal.Decimal, limits BrickSizeLimits) BrickSize {
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
