// Package signal standardizes payloads shared between market data, strategies, and order placement.
package signal

import (
	"strings"
	"time"
)

// Direction is the option side a decision or signal favours.
type Direction string

const (
	// Call favours buying calls.
	Call Direction = "call"
	// Put favours buying puts.
	Put Direction = "put"
	// NoTrade means the instrument should not be traded this cycle.
	NoTrade Direction = "no_trade"
)

// ParseDirection maps loose user input onto a Direction, defaulting to NoTrade.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "ce", "long", "bullish":
		return Call
	case "put", "pe", "short", "bearish":
		return Put
	default:
		return NoTrade
	}
}

// Tick models the latest market snapshot for one instrument.
type Tick struct {
	Segment       string
	SecurityID    string
	LTP           float64
	VWAP          float64
	Volume        float64
	AvgVolume     float64
	OI            float64
	PrevClose     float64
	DayHigh       float64
	PrevHigh      float64
	EMA9          float64
	EMA21         float64
	HTFSupertrend string // "up" | "down"
	RSI           float64
	ATRRatio      float64
	Ts            time.Time
}

// Meta carries the descriptive payload of a Signal.
type Meta struct {
	Index           string         `json:"index"`
	CandidateSymbol string         `json:"candidate_symbol"`
	StrategyName    string         `json:"strategy_name"`
	LotSize         int            `json:"lot_size"`
	Multiplier      int            `json:"multiplier"`
	Expiry          *time.Time     `json:"expiry,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
	Advisory        *Advisory      `json:"advisory,omitempty"`
}

// Signal is a candidate trade produced by a strategy.
type Signal struct {
	Segment    string    `json:"segment"`
	SecurityID string    `json:"security_id"`
	Direction  Direction `json:"direction"`
	Reason     string    `json:"reason"`
	Meta       Meta      `json:"meta"`
	Ts         time.Time `json:"ts"`
}

// Quantity is the number of units an order for this signal should carry.
func (s *Signal) Quantity() int {
	lot := s.Meta.LotSize
	if lot <= 0 {
		lot = 1
	}
	return lot
}
