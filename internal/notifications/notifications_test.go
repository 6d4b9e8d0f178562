package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
)

const wld = "0x2cfc85d8e48f8eab294be644d9e25c3030863003"

type capturedAlert struct {
	level   Level
	message string
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []capturedAlert
	err    error
}

func (f *fakeNotifier) SendAlert(_ context.Context, level Level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, capturedAlert{level, message})
	return nil
}

func (f *fakeNotifier) sent() []capturedAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedAlert(nil), f.alerts...)
}

func TestTelegramSendsForm(t *testing.T) {
	var (
		gotPath string
		gotForm map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotForm = map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, n.SendAlert(context.Background(), LevelSuccess, "cycle done"))

	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotForm["chat_id"])
	assert.Equal(t, "Markdown", gotForm["parse_mode"])
	assert.Contains(t, gotForm["text"], "✅")
	assert.Contains(t, gotForm["text"], "cycle done")
}

func TestTelegramReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", WithBaseURL(srv.URL))
	err := n.SendAlert(context.Background(), LevelError, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestFormatEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		event events.Event
		level Level
		want  string
	}{
		{
			name: "buy",
			event: &events.TradeExecuted{
				BaseEvent:  events.NewBaseEvent(events.EventTypeTradeExecuted, now),
				StrategyID: "s1",
				Asset:      wld,
				Side:       "buy",
				Price:      0.88,
				Quantity:   11.36,
				Value:      10,
				TxRef:      "0xabc",
				Reason:     "dip medium",
			},
			level: LevelInfo,
			want:  "BUY 11.360000 of 0x2cfc...3003",
		},
		{
			name: "failed trigger",
			event: &events.TriggerFired{
				BaseEvent: events.NewBaseEvent(events.EventTypeTriggerFired, now),
				TriggerID: "t1",
				Asset:     wld,
				Action:    "sell",
				Condition: "price_rise",
				Threshold: 10,
				Price:     1.2,
			},
			level: LevelWarning,
			want:  "but the sell failed",
		},
		{
			name: "auto stopped",
			event: &events.StrategyCompleted{
				BaseEvent:       events.NewBaseEvent(events.EventTypeStrategyCompleted, now),
				StrategyID:      "s1",
				Asset:           wld,
				CompletedCycles: 2,
				MaxCycles:       2,
				RealizedPnL:     3.5,
				ExitReason:      "fast_exit",
				AutoStopped:     true,
			},
			level: LevelSuccess,
			want:  "Stopped after reaching 2 cycles",
		},
		{
			name: "dropped",
			event: &events.AssetDropped{
				BaseEvent:    events.NewBaseEvent(events.EventTypeAssetDropped, now),
				Asset:        wld,
				Failures:     20,
				FailingSince: now.Add(-30 * time.Hour),
			},
			level: LevelError,
			want:  "after 20 consecutive quote failures",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, msg, ok := Format(tt.event)
			require.True(t, ok)
			assert.Equal(t, tt.level, level)
			assert.Contains(t, msg, tt.want)
		})
	}

	_, _, ok := Format(&events.PriceUpdate{BaseEvent: events.NewBaseEvent(events.EventTypePriceUpdate, now)})
	assert.False(t, ok)
}

func TestDispatcherDeliversFromBus(t *testing.T) {
	bus := events.NewBus(nil)
	n := &fakeNotifier{}
	NewDispatcher(n, nil).Subscribe(bus, 8)

	now := time.Now()
	bus.Publish(&events.PriceUpdate{BaseEvent: events.NewBaseEvent(events.EventTypePriceUpdate, now), Asset: wld, Price: 1})
	bus.Publish(&events.ProfitStepExecuted{
		BaseEvent:      events.NewBaseEvent(events.EventTypeProfitStep, now),
		StrategyID:     "s1",
		Asset:          wld,
		Step:           1,
		ProfitPercent:  10,
		SellPercentage: 33.3,
		Price:          0.97,
		Quantity:       3,
	})
	bus.Close()

	sent := n.sent()
	require.Len(t, sent, 1, "price updates are not alerted")
	assert.Equal(t, LevelSuccess, sent[0].level)
	assert.Contains(t, sent[0].message, "Profit step 1 of s1")
}

func TestDispatcherReturnsSendErrors(t *testing.T) {
	d := NewDispatcher(&fakeNotifier{err: errors.New("offline")}, nil)
	err := d.Handle(&events.AssetDropped{BaseEvent: events.NewBaseEvent(events.EventTypeAssetDropped, time.Now()), Asset: wld})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}
