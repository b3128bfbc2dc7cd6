package exchange

import (
	"context"

	"optionbot-go/internal/signal"
)

// TickHandler consumes one tick. Handlers run on the pump goroutine and must not block.
type TickHandler func(signal.Tick)

// Pump drains in and hands every tick to each handler in order until ctx ends or in closes.
func Pump(ctx context.Context, in <-chan signal.Tick, handlers ...TickHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tk, ok := <-in:
			if !ok {
				return nil
			}
			for _, h := range handlers {
				h(tk)
			}
		}
	}
}
