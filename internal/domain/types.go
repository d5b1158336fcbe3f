// Package domain defines the value types shared between market-data
// collaborators, storage, and the backtest core.
package domain

import "time"

// Market identifies the venue family a symbol belongs to. It is used as the
// top-level directory of the bar cache.
type Market string

const (
	MarketUS     Market = "us"
	MarketCrypto Market = "crypto"
)

// Bar is one OHLCV candle as returned by a market-data provider.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// PricePoint is a single (timestamp, close) observation. A price series is
// a slice of these ordered by strictly increasing Time.
type PricePoint struct {
	Time  time.Time
	Close float64
}
