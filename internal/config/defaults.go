package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Documented numeric defaults. Every missing (zero) threshold falls back to one of these
// once, at load time, so evaluation code never has to.
const (
	DefaultProfitMin         = 3.0
	DefaultProfitMax         = 30.0
	DefaultDDStartPct        = 15.0
	DefaultDDEndPct          = 1.0
	DefaultExponentialK      = 3.0
	DefaultMaxLossPct        = 20.0
	DefaultMinLossPct        = 5.0
	DefaultLossSpanPct       = 30.0
	DefaultTimeTightenPerMin = 0.5

	DefaultStopLossPct   = 30.0
	DefaultTakeProfitPct = 60.0

	DefaultSessionStart         = "09:20"
	DefaultSessionEnd           = "15:15"
	DefaultMaxDailyTradesPerIdx = 5
	DefaultMaxSameSidePositions = 1
	DefaultCooldownSeconds      = 300
	DefaultMaxExpiryDays        = 7

	DefaultPremiumThreshold  = 0.6
	DefaultDiscountThreshold = 0.4
	DefaultPivotLeft         = 2
	DefaultPivotRight        = 2
	DefaultLookback          = 120

	DefaultScanIntervalMs = 5000
	DefaultTimezone       = "Asia/Kolkata"
	DefaultNotifyBuffer   = 64
)

// DefaultATRPenalties tighten the reverse stop when realized volatility compresses.
func DefaultATRPenalties() []ATRPenalty {
	return []ATRPenalty{
		{Threshold: 0.5, PenaltyPct: 3.0},
		{Threshold: 0.75, PenaltyPct: 1.5},
	}
}

// Default returns a Config with every default applied and no indices.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero-valued threshold with its documented default.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "optionbot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = DefaultTimezone
	}
	if c.Scanner.IntervalMs <= 0 {
		c.Scanner.IntervalMs = DefaultScanIntervalMs
	}
	if c.Notify.Buffer <= 0 {
		c.Notify.Buffer = DefaultNotifyBuffer
	}

	b := &c.Bias
	b.HTFInterval = orDefault(b.HTFInterval, "60m")
	b.MTFInterval = orDefault(b.MTFInterval, "15m")
	b.LTFInterval = orDefault(b.LTFInterval, "5m")
	if b.PremiumThreshold == 0 {
		b.PremiumThreshold = DefaultPremiumThreshold
	}
	if b.DiscountThreshold == 0 {
		b.DiscountThreshold = DefaultDiscountThreshold
	}
	if b.PivotLeft == 0 {
		b.PivotLeft = DefaultPivotLeft
	}
	if b.PivotRight == 0 {
		b.PivotRight = DefaultPivotRight
	}
	if b.Lookback == 0 {
		b.Lookback = DefaultLookback
	}

	for i := range c.Strategies {
		if c.Strategies[i].Multiplier <= 0 {
			c.Strategies[i].Multiplier = 1
		}
	}
	for i := range c.Indices {
		c.Indices[i].Key = strings.ToUpper(strings.TrimSpace(c.Indices[i].Key))
		if c.Indices[i].LotSize <= 0 {
			c.Indices[i].LotSize = 1
		}
	}

	c.Risk.applyDefaults()

	e := &c.Eligibility
	e.SessionStart = orDefault(e.SessionStart, DefaultSessionStart)
	e.SessionEnd = orDefault(e.SessionEnd, DefaultSessionEnd)
	if e.MaxDailyTradesPerIdx == 0 {
		e.MaxDailyTradesPerIdx = DefaultMaxDailyTradesPerIdx
	}
	if e.MaxSameSidePositions == 0 {
		e.MaxSameSidePositions = DefaultMaxSameSidePositions
	}
	if e.CooldownSeconds == 0 {
		e.CooldownSeconds = DefaultCooldownSeconds
	}
	if e.MaxExpiryDays == 0 {
		e.MaxExpiryDays = DefaultMaxExpiryDays
	}
}

func (r *Risk) applyDefaults() {
	d := &r.Drawdown
	if d.ProfitMin == 0 {
		d.ProfitMin = DefaultProfitMin
	}
	if d.ProfitMax == 0 {
		d.ProfitMax = DefaultProfitMax
	}
	if d.DDStartPct == 0 {
		d.DDStartPct = DefaultDDStartPct
	}
	if d.DDEndPct == 0 {
		d.DDEndPct = DefaultDDEndPct
	}
	if d.ExponentialK == 0 {
		d.ExponentialK = DefaultExponentialK
	}

	rl := &r.ReverseLoss
	if rl.MaxLossPct == 0 {
		rl.MaxLossPct = DefaultMaxLossPct
	}
	if rl.MinLossPct == 0 {
		rl.MinLossPct = DefaultMinLossPct
	}
	if rl.LossSpanPct == 0 {
		rl.LossSpanPct = DefaultLossSpanPct
	}
	if rl.TimeTightenPerMin == 0 {
		rl.TimeTightenPerMin = DefaultTimeTightenPerMin
	}
	if rl.ATRPenaltyThresholds == nil {
		rl.ATRPenaltyThresholds = DefaultATRPenalties()
	}

	if r.StopLossPct == 0 {
		r.StopLossPct = DefaultStopLossPct
	}
	if r.TakeProfitPct == 0 {
		r.TakeProfitPct = DefaultTakeProfitPct
	}
}

// Location resolves the configured timezone, falling back to UTC when unknown.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ParseClock reads "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
