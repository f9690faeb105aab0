package indicator

import (
	"github.com/shopspring/decimal"

	"renkoflow/models"
)

var (
	hundred = decimal.NewFromInt(100)
	fifty   = decimal.NewFromInt(50)
)

// StochParams are the StochRSI periods. When the engine is fed Renko brick
// closes the periods count bricks, not candles; candle-period defaults do
// not transfer unexamined.
type StochParams struct {
	RSIPeriod   int
	StochPeriod int
	KSmoothing  int
	DSmoothing  int
}

// MinLen is the minimum close count the engine accepts.
func (p StochParams) MinLen() int {
	return p.RSIPeriod + p.StochPeriod + p.KSmoothing + p.DSmoothing
}

func (p StochParams) validate() error {
	switch {
	case p.RSIPeriod <= 0:
		return &models.ConfigError{Param: "stoch_rsi.rsi_period", Reason: "must be positive"}
	case p.StochPeriod <= 0:
		return &models.ConfigError{Param: "stoch_rsi.stoch_period", Reason: "must be positive"}
	case p.KSmoothing <= 0:
		return &models.ConfigError{Param: "stoch_rsi.k_smoothing", Reason: "must be positive"}
	case p.DSmoothing <= 0:
		return &models.ConfigError{Param: "stoch_rsi.d_smoothing", Reason: "must be positive"}
	}
	return nil
}

// ComputeStochRSI derives the StochRSI oscillator over an ordered close
// sequence. The input is generic: it carries no dependency on candles or
// bricks. A series shorter than the combined window fails with
// InsufficientData; a truncated prefix is never returned.
func ComputeStochRSI(closes []decimal.Decimal, params StochParams) ([]models.StochRSIPoint, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(closes) < params.MinLen() {
		return nil, &models.InsufficientDataError{Op: "stoch_rsi", Need: params.MinLen(), Have: len(closes)}
	}

	rsi := rsiSeries(closes, params.RSIPeriod)

	// Raw stochastic of the RSI over the stoch window. A flat window is
	// defined as 50, never a division by zero.
	rawOffset := params.StochPeriod - 1
	raw := make([]decimal.Decimal, 0, len(rsi)-rawOffset)
	for j := rawOffset; j < len(rsi); j++ {
		lo, hi := rsi[j], rsi[j]
		for _, v := range rsi[j-rawOffset : j] {
			if v.LessThan(lo) {
				lo = v
			}
			if v.GreaterThan(hi) {
				hi = v
			}
		}
		if hi.Equal(lo) {
			raw = append(raw, fifty)
			continue
		}
		raw = append(raw, rsi[j].Sub(lo).Div(hi.Sub(lo)).Mul(hundred))
	}

	k := sma(raw, params.KSmoothing)
	d := sma(k, params.DSmoothing)

	// Align every slice to the close index of the first defined %D value.
	base := params.RSIPeriod + (params.StochPeriod - 1) + (params.KSmoothing - 1) + (params.DSmoothing - 1)
	points := make([]models.StochRSIPoint, len(d))
	for t := range d {
		idx := base + t
		kv := k[t+params.DSmoothing-1]
		dv := d[t]
		point := models.StochRSIPoint{
			Index:    idx,
			RSI:      rsi[idx-params.RSIPeriod],
			StochRSI: raw[idx-params.RSIPeriod-rawOffset],
			K:        kv,
			D:        dv,
			Signal:   models.SignalNeutral,
		}
		if t > 0 {
			point.Signal = classifySignal(kv, dv, k[t+params.DSmoothing-2], d[t-1])
		} else {
			point.Signal = classifySignal(kv, dv, kv, dv)
		}
		points[t] = point
	}
	return points, nil
}

// rsiSeries computes the Wilder-smoothed RSI; rsiSeries(closes, p)[j]
// corresponds to closes index p+j. Gain/loss averages seed with the simple
// mean of the first p deltas, then smooth exponentially as the ATR does.
func rsiSeries(closes []decimal.Decimal, period int) []decimal.Decimal {
	p := decimal.NewFromInt(int64(period))
	pMinusOne := p.Sub(decimal.NewFromInt(1))

	var gainSum, lossSum, avgGain, avgLoss decimal.Decimal
	out := make([]decimal.Decimal, 0, len(closes)-period)

	for i := 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		gain, loss := decimal.Zero, decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Neg()
		}

		switch {
		case i < period:
			gainSum = gainSum.Add(gain)
			lossSum = lossSum.Add(loss)
			continue
		case i == period:
			avgGain = gainSum.Add(gain).Div(p)
			avgLoss = lossSum.Add(loss).Div(p)
		default:
			avgGain = avgGain.Mul(pMinusOne).Add(gain).Div(p)
			avgLoss = avgLoss.Mul(pMinusOne).Add(loss).Div(p)
		}
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

// rsiValue resolves the RS ratio into an RSI, with defined values for the
// zero-loss edge cases instead of infinities: all-flat reads neutral 50,
// gain-only reads 100.
func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return fifty
		}
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// sma returns the simple moving average with the given window; sma(v, w)[t]
// covers v[t..t+w-1].
func sma(values []decimal.Decimal, window int) []decimal.Decimal {
	if len(values) < window {
		return nil
	}
	w := decimal.NewFromInt(int64(window))
	out := make([]decimal.Decimal, 0, len(values)-window+1)
	var sum decimal.Decimal
	for i, v := range values {
		sum = sum.Add(v)
		if i >= window {
			sum = sum.Sub(values[i-window])
		}
		if i >= window-1 {
			out = append(out, sum.Div(w))
		}
	}
	return out
}

// classifySignal applies the discrete classification in fixed precedence:
// zone conditions first, then %K/%D crossings.
func classifySignal(k, d, prevK, prevD decimal.Decimal) models.Signal {
	eighty := decimal.NewFromInt(80)
	twenty := decimal.NewFromInt(20)

	switch {
	case k.GreaterThan(eighty) && d.GreaterThan(eighty):
		return models.SignalOverbought
	case k.LessThan(twenty) && d.LessThan(twenty):
		return models.SignalOversold
	case k.GreaterThan(d) && prevK.LessThanOrEqual(prevD):
		return models.SignalBullishCross
	case k.LessThan(d) && prevK.GreaterThanOrEqual(prevD):
		return models.SignalBearishCross
	default:
		return models.SignalNeutral
	}
}
