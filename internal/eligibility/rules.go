package eligibility

import (
	"fmt"
	"math"
	"time"

	"optionbot-go/internal/config"
	"optionbot-go/internal/signal"
)

// Rule names, in chain order.
const (
	RuleSession    = "session_window"
	RuleDailyLimit = "daily_trade_limit"
	RuleExposure   = "same_side_exposure"
	RuleCooldown   = "symbol_cooldown"
	RuleLTP        = "ltp_sanity"
	RuleExpiry     = "expiry_window"
)

// Ledger answers the position questions the rules ask.
type Ledger interface {
	CountEntriesSince(indexKey string, since time.Time) int
	CountActive(instrumentKey string, dir signal.Direction) int
	LastEntryAt(symbol string) (time.Time, bool)
}

// TickSource reads the latest tick of an instrument.
type TickSource interface {
	Get(segment, securityID string) (signal.Tick, bool)
}

// rule adapts a (name, predicate, reason) triple into a Specification.
type rule struct {
	name   string
	pred   func(Context) bool
	reason func(Context) string
}

func (r rule) Name() string                     { return r.name }
func (r rule) Satisfied(ctx Context) bool       { return r.pred(ctx) }
func (r rule) FailureReason(ctx Context) string { return r.reason(ctx) }

// DefaultChain wires the fixed rule order: session, daily limit, exposure, cooldown, ltp, expiry.
func DefaultChain(cfg config.Eligibility, loc *time.Location, ledger Ledger, ticks TickSource) *Chain {
	return NewChain(
		SessionWindow(cfg.SessionStart, cfg.SessionEnd, loc),
		DailyTradeLimit(cfg.MaxDailyTradesPerIdx, loc, ledger),
		SameSideExposure(cfg.MaxSameSidePositions, ledger),
		SymbolCooldown(time.Duration(cfg.CooldownSeconds)*time.Second, ledger),
		LTPSanity(ticks),
		ExpiryWindow(cfg.MaxExpiryDays, loc),
	)
}

// SessionWindow passes while local time is within [start, end]. Unparseable bounds never pass.
func SessionWindow(start, end string, loc *time.Location) Specification {
	if loc == nil {
		loc = time.UTC
	}
	from, errFrom := config.ParseClock(start)
	to, errTo := config.ParseClock(end)
	return rule{
		name: RuleSession,
		pred: func(ctx Context) bool {
			if errFrom != nil || errTo != nil {
				return false
			}
			m := minuteOfDay(ctx.Now.In(loc))
			return m >= from && m <= to
		},
		reason: func(ctx Context) string {
			return fmt.Sprintf("outside trading session %s-%s (now %s)", start, end, ctx.Now.In(loc).Format("15:04"))
		},
	}
}

// DailyTradeLimit passes while today's entries on the index stay under max.
func DailyTradeLimit(max int, loc *time.Location, ledger Ledger) Specification {
	if loc == nil {
		loc = time.UTC
	}
	count := func(ctx Context) int {
		return ledger.CountEntriesSince(ctx.Index.Key, startOfDay(ctx.Now, loc))
	}
	return rule{
		name: RuleDailyLimit,
		pred: func(ctx Context) bool { return count(ctx) < max },
		reason: func(ctx Context) string {
			return fmt.Sprintf("daily trade limit reached for %s (%d/%d)", ctx.Index.Key, count(ctx), max)
		},
	}
}

// SameSideExposure passes while open positions in the same direction on the index stay under max.
func SameSideExposure(max int, ledger Ledger) Specification {
	count := func(ctx Context) int { return ledger.CountActive(ctx.Index.Key, ctx.Direction) }
	return rule{
		name: RuleExposure,
		pred: func(ctx Context) bool { return count(ctx) < max },
		reason: func(ctx Context) string {
			return fmt.Sprintf("same-side exposure cap reached for %s %s (%d/%d)", ctx.Index.Key, ctx.Direction, count(ctx), max)
		},
	}
}

// SymbolCooldown passes when the last entry on the symbol is older than cooldown.
func SymbolCooldown(cooldown time.Duration, ledger Ledger) Specification {
	elapsed := func(ctx Context) (time.Duration, bool) {
		last, ok := ledger.LastEntryAt(ctx.Symbol())
		if !ok {
			return 0, false
		}
		return ctx.Now.Sub(last), true
	}
	return rule{
		name: RuleCooldown,
		pred: func(ctx Context) bool {
			d, seen := elapsed(ctx)
			return !seen || d > cooldown
		},
		reason: func(ctx Context) string {
			d, _ := elapsed(ctx)
			return fmt.Sprintf("cooldown active for %s (%ds elapsed, need >%ds)", ctx.Symbol(), int(d.Seconds()), int(cooldown.Seconds()))
		},
	}
}

// LTPSanity passes when the picked instrument has a positive last traded price.
func LTPSanity(ticks TickSource) Specification {
	return rule{
		name: RuleLTP,
		pred: func(ctx Context) bool {
			tk, ok := ticks.Get(ctx.Pick.Segment, ctx.Pick.SecurityID)
			return ok && tk.LTP > 0
		},
		reason: func(ctx Context) string {
			return fmt.Sprintf("ltp unavailable or non-positive for %s:%s", ctx.Pick.Segment, ctx.Pick.SecurityID)
		},
	}
}

// ExpiryWindow passes when days to expiry are within [0, maxDays]. No expiry passes.
func ExpiryWindow(maxDays int, loc *time.Location) Specification {
	if loc == nil {
		loc = time.UTC
	}
	days := func(ctx Context) int {
		return DaysToExpiry(ctx.Now, *ctx.Pick.Expiry, loc)
	}
	return rule{
		name: RuleExpiry,
		pred: func(ctx Context) bool {
			if ctx.Pick.Expiry == nil {
				return true
			}
			d := days(ctx)
			return d >= 0 && d <= maxDays
		},
		reason: func(ctx Context) string {
			if ctx.Pick.Expiry == nil {
				return ""
			}
			return fmt.Sprintf("expiry %d days away, allowed 0-%d", days(ctx), maxDays)
		},
	}
}

// DaysToExpiry counts calendar days between the local dates of now and expiry.
func DaysToExpiry(now, expiry time.Time, loc *time.Location) int {
	n := startOfDay(now, loc)
	e := startOfDay(expiry, loc)
	return int(math.Round(e.Sub(n).Hours() / 24))
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	tt := t.In(loc)
	y, m, d := tt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }
