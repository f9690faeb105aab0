package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV bar for one instrument/timeframe.
type Candle struct {
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate checks the candle's internal price invariants.
func (c Candle) Validate() error {
	body := decimal.Max(c.Open, c.Close)
	if c.High.LessThan(body) {
		return fmt.Errorf("candle at %s: high %s below max(open,close) %s",
			c.OpenTime.Format(time.RFC3339), c.High, body)
	}
	body = decimal.Min(c.Open, c.Close)
	if c.Low.GreaterThan(body) {
		return fmt.Errorf("candle at %s: low %s above min(open,close) %s",
			c.OpenTime.Format(time.RFC3339), c.Low, body)
	}
	return nil
}

// CandleSeries is an ordered candle sequence for one (instrument, timeframe).
// It is immutable once returned by a source.
type CandleSeries struct {
	Instrument string   `json:"instrument"`
	Timeframe  string   `json:"timeframe"`
	Candles    []Candle `json:"candles"`
}

// Len returns the number of candles in the series.
func (s CandleSeries) Len() int { return len(s.Candles) }

// Closes returns the close prices in series order.
func (s CandleSeries) Closes() []decimal.Decimal {
	closes := make([]decimal.Decimal, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Validate checks every candle and the strictly increasing timestamp invariant.
func (s CandleSeries) Validate() error {
	for i, c := range s.Candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s/%s: %w", s.Instrument, s.Timeframe, err)
		}
		if i > 0 && !c.OpenTime.After(s.Candles[i-1].OpenTime) {
			return fmt.Errorf("%s/%s: candle %d timestamp %s not after previous %s",
				s.Instrument, s.Timeframe, i,
				c.OpenTime.Format(time.RFC3339), s.Candles[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}
