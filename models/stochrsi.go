package models

import "github.com/shopspring/decimal"

// Signal is the discrete StochRSI classification at one index.
type Signal string

const (
	SignalOverbought   Signal = "overbought"
	SignalOversold     Signal = "oversold"
	SignalBullishCross Signal = "bullish_cross"
	SignalBearishCross Signal = "bearish_cross"
	SignalNeutral      Signal = "neutral"
)

// StochRSIPoint is one oscillator row. Index is aligned to the position in
// the close sequence the engine was fed (here: the Renko brick index).
type StochRSIPoint struct {
	Index    int             `json:"index"`
	RSI      decimal.Decimal `json:"rsi"`
	StochRSI decimal.Decimal `json:"stoch_rsi"`
	K        decimal.Decimal `json:"k"`
	D        decimal.Decimal `json:"d"`
	Signal   Signal          `json:"signal"`
}
