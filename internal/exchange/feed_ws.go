package exchange

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"optionbot-go/internal/config"
	"optionbot-go/internal/signal"
)

var frameValidator = validator.New()

type subscribeFrame struct {
	Action      string           `json:"action"`
	Instruments []wireInstrument `json:"instruments"`
}

type wireInstrument struct {
	Segment    string `json:"segment"`
	SecurityID string `json:"security_id"`
}

// tickFrame is one JSON tick as streamed by the broker websocket.
type tickFrame struct {
	Type          string  `json:"type"`
	Segment       string  `json:"segment" validate:"required"`
	SecurityID    string  `json:"security_id" validate:"required"`
	LTP           float64 `json:"ltp" validate:"gte=0"`
	VWAP          float64 `json:"vwap"`
	Volume        float64 `json:"volume" validate:"gte=0"`
	AvgVolume     float64 `json:"avg_volume" validate:"gte=0"`
	OI            float64 `json:"oi" validate:"gte=0"`
	PrevClose     float64 `json:"prev_close"`
	DayHigh       float64 `json:"day_high"`
	PrevHigh      float64 `json:"prev_high"`
	EMA9          float64 `json:"ema9"`
	EMA21         float64 `json:"ema21"`
	HTFSupertrend string  `json:"htf_supertrend" validate:"omitempty,oneof=up down"`
	RSI           float64 `json:"rsi" validate:"gte=0,lte=100"`
	ATRRatio      float64 `json:"atr_ratio" validate:"gte=0"`
	TsMillis      int64   `json:"ts"`
}

func (t tickFrame) tick(now time.Time) signal.Tick {
	ts := now
	if t.TsMillis > 0 {
		ts = time.UnixMilli(t.TsMillis)
	}
	return signal.Tick{
		Segment:       t.Segment,
		SecurityID:    t.SecurityID,
		LTP:           t.LTP,
		VWAP:          t.VWAP,
		Volume:        t.Volume,
		AvgVolume:     t.AvgVolume,
		OI:            t.OI,
		PrevClose:     t.PrevClose,
		DayHigh:       t.DayHigh,
		PrevHigh:      t.PrevHigh,
		EMA9:          t.EMA9,
		EMA21:         t.EMA21,
		HTFSupertrend: t.HTFSupertrend,
		RSI:           t.RSI,
		ATRRatio:      t.ATRRatio,
		Ts:            ts,
	}
}

// decodeTick parses one frame. ok is false for non-tick frames such as heartbeats.
func decodeTick(message []byte, now time.Time) (signal.Tick, bool, error) {
	var frame tickFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return signal.Tick{}, false, fmt.Errorf("decode tick frame: %w", err)
	}
	if frame.Type != "" && frame.Type != "tick" {
		return signal.Tick{}, false, nil
	}
	if err := frameValidator.Struct(frame); err != nil {
		return signal.Tick{}, false, fmt.Errorf("validate tick frame: %w", err)
	}
	return frame.tick(now), true, nil
}

func (f *Feed) runWebsocket(ctx context.Context, out chan<- signal.Tick) error {
	if f.wsURL == "" {
		return fmt.Errorf("websocket feed requires ws_url")
	}
	if len(f.snapshotInstruments()) == 0 {
		return fmt.Errorf("websocket feed requires at least one instrument")
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeWebsocket(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("tick feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) subscribe(conn *websocket.Conn, instruments []config.Instrument) error {
	frame := subscribeFrame{Action: "subscribe", Instruments: make([]wireInstrument, len(instruments))}
	for i, in := range instruments {
		frame.Instruments[i] = wireInstrument{Segment: in.Segment, SecurityID: in.SecurityID}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (f *Feed) consumeWebsocket(ctx context.Context, out chan<- signal.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	instruments := f.snapshotInstruments()
	if err := f.subscribe(conn, instruments); err != nil {
		return err
	}
	f.log.Info().Str("provider", ProviderWebsocket).Int("instruments", len(instruments)).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("tick feed ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		// unblock ReadMessage on cancel
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		tick, ok, err := decodeTick(message, time.Now())
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed tick frame")
			continue
		}
		if !ok {
			continue
		}
		if !emit(ctx, out, tick) {
			return ctx.Err()
		}
	}
}
