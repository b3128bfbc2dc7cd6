package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionbot-go/internal/config"
	"optionbot-go/internal/signal"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []config.Instrument{{Segment: "nse_fno", SecurityID: "45001"}}, zerolog.Nop(),
		WithPollInterval(10*time.Millisecond))
	ticks := make(chan signal.Tick, 1)

	go func() {
		_ = feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Segment != "NSE_FNO" || tk.SecurityID != "45001" {
			t.Fatalf("unexpected instrument %s:%s", tk.Segment, tk.SecurityID)
		}
		if tk.LTP <= 0 {
			t.Fatalf("expected positive ltp, got %v", tk.LTP)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestSetInstrumentsDeduplicatesAndSorts(t *testing.T) {
	feed := NewFeed("", nil, zerolog.Nop())
	feed.SetInstruments([]config.Instrument{
		{Segment: "NSE_FNO", SecurityID: "2"},
		{Segment: "nse_fno", SecurityID: " 2 "},
		{Segment: "IDX_I", SecurityID: "13"},
		{Segment: "", SecurityID: "9"},
	})
	got := feed.snapshotInstruments()
	assert.Equal(t, []config.Instrument{
		{Segment: "IDX_I", SecurityID: "13"},
		{Segment: "NSE_FNO", SecurityID: "2"},
	}, got)
}

func TestDecodeTick(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	tk, ok, err := decodeTick([]byte(`{"type":"tick","segment":"NSE_FNO","security_id":"45001","ltp":101.5,"oi":1200,"htf_supertrend":"up","rsi":61,"ts":1717408800000}`), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 101.5, tk.LTP)
	assert.Equal(t, 1200.0, tk.OI)
	assert.Equal(t, "up", tk.HTFSupertrend)
	assert.Equal(t, time.UnixMilli(1717408800000), tk.Ts)

	tk, ok, err = decodeTick([]byte(`{"segment":"NSE_FNO","security_id":"45001","ltp":3}`), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now, tk.Ts, "missing ts falls back to receive time")

	_, ok, err = decodeTick([]byte(`{"type":"heartbeat"}`), now)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = decodeTick([]byte(`{"segment":"NSE_FNO","ltp":3}`), now)
	assert.Error(t, err, "security_id is required")

	_, _, err = decodeTick([]byte(`{"segment":"NSE_FNO","security_id":"1","htf_supertrend":"sideways"}`), now)
	assert.Error(t, err)

	_, _, err = decodeTick([]byte(`not json`), now)
	assert.Error(t, err)
}

func TestWebsocketFeedSubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeFrame, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeFrame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		frames := []string{
			`{"type":"heartbeat"}`,
			`{"segment":"NSE_FNO"}`,
			`{"type":"tick","segment":"NSE_FNO","security_id":"45001","ltp":110,"vwap":105}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed(ProviderWebsocket, []config.Instrument{{Segment: "NSE_FNO", SecurityID: "45001"}}, zerolog.Nop(),
		WithWebsocketURL(wsURL))

	ticks := make(chan signal.Tick, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- feed.Run(ctx, ticks)
	}()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Action)
		assert.Equal(t, []wireInstrument{{Segment: "NSE_FNO", SecurityID: "45001"}}, sub.Instruments)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	select {
	case tk := <-ticks:
		if tk.SecurityID != "45001" || tk.LTP != 110 || tk.VWAP != 105 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestWebsocketFeedRequiresURL(t *testing.T) {
	feed := NewFeed(ProviderWebsocket, []config.Instrument{{Segment: "NSE_FNO", SecurityID: "1"}}, zerolog.Nop())
	err := feed.Run(context.Background(), make(chan signal.Tick))
	assert.ErrorContains(t, err, "ws_url")

	feed = NewFeed(ProviderWebsocket, nil, zerolog.Nop(), WithWebsocketURL("ws://localhost:1"))
	err = feed.Run(context.Background(), make(chan signal.Tick))
	assert.ErrorContains(t, err, "instrument")
}

func TestPumpFansOutToHandlers(t *testing.T) {
	in := make(chan signal.Tick, 2)
	in <- signal.Tick{SecurityID: "1"}
	in <- signal.Tick{SecurityID: "2"}
	close(in)

	var a, b []string
	err := Pump(context.Background(), in,
		func(tk signal.Tick) { a = append(a, tk.SecurityID) },
		func(tk signal.Tick) { b = append(b, tk.SecurityID) },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, a)
	assert.Equal(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pump(ctx, make(chan signal.Tick)), context.Canceled)
}
