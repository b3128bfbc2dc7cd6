package risk

import (
	"sync"
	"time"

	"optionbot-go/internal/signal"
)

// Exit reasons reported by the monitor.
const (
	ReasonHardStop         = "hard_stop_loss"
	ReasonTakeProfit       = "take_profit"
	ReasonTrailingDrawdown = "trailing_drawdown"
	ReasonReverseStopLoss  = "reverse_stop_loss"
)

// Observation is one live look at an active position.
type Observation struct {
	PositionID string
	IndexKey   string
	EntryPrice float64
	Tick       signal.Tick
	Now        time.Time
}

// Exit is the monitor's instruction to close a position.
type Exit struct {
	Reason    string
	Price     float64
	PnLPct    float64
	PeakPct   float64
	StopPrice float64
}

type trail struct {
	peakPct    float64
	belowSince time.Time
}

// Monitor tracks peak profit and time under water per position and decides exits.
type Monitor struct {
	mu     sync.Mutex
	trails map[string]*trail
}

// NewMonitor builds an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{trails: make(map[string]*trail)}
}

// Check updates the position's trail with the observation and reports whether it should exit.
func (m *Monitor) Check(s Schedule, obs Observation) (Exit, bool) {
	ltp := obs.Tick.LTP
	if ltp <= 0 || obs.EntryPrice <= 0 {
		return Exit{}, false
	}
	pnl := PnLPct(obs.EntryPrice, ltp)

	m.mu.Lock()
	tr := m.trails[obs.PositionID]
	if tr == nil {
		tr = &trail{}
		m.trails[obs.PositionID] = tr
	}
	if pnl > tr.peakPct {
		tr.peakPct = pnl
	}
	if pnl < 0 {
		if tr.belowSince.IsZero() {
			tr.belowSince = obs.Now
		}
	} else {
		tr.belowSince = time.Time{}
	}
	peak := tr.peakPct
	below := tr.belowSince
	m.mu.Unlock()

	exit := Exit{Price: ltp, PnLPct: pnl, PeakPct: peak}

	if s.cfg.StopLossPct > 0 && pnl <= -s.cfg.StopLossPct {
		exit.Reason = ReasonHardStop
		exit.StopPrice = SLPriceFromEntry(obs.EntryPrice, s.cfg.StopLossPct)
		return exit, true
	}
	if s.cfg.TakeProfitPct > 0 && pnl >= s.cfg.TakeProfitPct {
		exit.Reason = ReasonTakeProfit
		return exit, true
	}
	if dd, ok := s.AllowedUpwardDrawdownPct(peak, obs.IndexKey); ok && peak-pnl >= dd {
		exit.Reason = ReasonTrailingDrawdown
		return exit, true
	}
	if pnl < 0 {
		secs := obs.Now.Sub(below).Seconds()
		if sl, ok := s.ReverseDynamicSLPct(pnl, secs, obs.Tick.ATRRatio); ok {
			stop := SLPriceFromEntry(obs.EntryPrice, sl)
			if ltp <= stop {
				exit.Reason = ReasonReverseStopLoss
				exit.StopPrice = stop
				return exit, true
			}
		}
	}
	return Exit{}, false
}

// Forget drops the trail of a position that is no longer active.
func (m *Monitor) Forget(positionID string) {
	m.mu.Lock()
	delete(m.trails, positionID)
	m.mu.Unlock()
}

// Tracked reports how many positions currently have a trail.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trails)
}
