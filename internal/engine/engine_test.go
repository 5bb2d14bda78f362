package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"papertrade/internal/config"
	"papertrade/internal/market"
)

func newTestCatalog(t *testing.T) *market.Catalog {
	t.Helper()
	catalog, err := market.NewCatalog([]config.InstrumentConfig{
		{Symbol: "BTCUSDT", Name: "Bitcoin", Type: "Crypto", StartPrice: 100, Decimals: 2},
		{Symbol: "ETHUSDT", Name: "Ethereum", Type: "Crypto", StartPrice: 50, Decimals: 2},
	})
	if err != nil {
		t.Fatalf("NewCatalog returned error: %v", err)
	}
	return catalog
}

func newTestEngine(t *testing.T, balance float64, opts Options) *Engine {
	t.Helper()
	return NewEngine(NewAccount(balance), newTestCatalog(t), opts, nil, nil)
}

func publish(eng *Engine, prices map[string]float64) []Trade {
	return eng.EvaluateTick(context.Background(), market.Snapshot{Prices: prices})
}

func floatPtr(v float64) *float64 {
	return &v
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenDebitsBalance(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50})

	margins := []float64{100, 250, 50}
	for _, m := range margins {
		if _, err := eng.Open(context.Background(), OpenRequest{
			Symbol:    "BTCUSDT",
			Direction: Long,
			Margin:    m,
			Leverage:  1,
		}); err != nil {
			t.Fatalf("Open(margin=%v) returned error: %v", m, err)
		}
	}

	want := 1000.0 - 100 - 250 - 50
	if got := eng.Balance(); !almostEqual(got, want) {
		t.Errorf("balance after opens = %v, want %v", got, want)
	}
	if got := len(eng.Positions()); got != 3 {
		t.Errorf("open position count = %d, want 3", got)
	}
}

func TestOpenRejectsInvalidOrders(t *testing.T) {
	tests := []struct {
		name    string
		req     OpenRequest
		wantErr error
	}{
		{
			name:    "zero margin",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: Long, Margin: 0, Leverage: 1},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "negative margin",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: Long, Margin: -10, Leverage: 1},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "margin exceeds balance",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: Long, Margin: 2000, Leverage: 1},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "leverage below one",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: Long, Margin: 100, Leverage: 0.5},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "leverage above limit",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: Long, Margin: 100, Leverage: 500},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "bad direction",
			req:     OpenRequest{Symbol: "BTCUSDT", Direction: "Sideways", Margin: 100, Leverage: 1},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "unknown symbol",
			req:     OpenRequest{Symbol: "DOGEUSDT", Direction: Long, Margin: 100, Leverage: 1},
			wantErr: ErrUnknownSymbol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, 1000, Options{MaxLeverage: 100})
			publish(eng, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50})

			_, err := eng.Open(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open returned %v, want %v", err, tt.wantErr)
			}
			if got := eng.Balance(); !almostEqual(got, 1000) {
				t.Errorf("balance changed on rejected open: %v", got)
			}
			if got := len(eng.Positions()); got != 0 {
				t.Errorf("position created on rejected open: %d", got)
			}
		})
	}
}

func TestOpenWithoutPriceRejected(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})

	_, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  1,
	})
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("Open before first tick returned %v, want ErrUnknownSymbol", err)
	}
}

func TestManualCloseRoundTrip(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"ETHUSDT": 50})

	p, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "ETHUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  5,
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !almostEqual(p.EntryPrice, 50) {
		t.Fatalf("entry price = %v, want 50", p.EntryPrice)
	}

	publish(eng, map[string]float64{"ETHUSDT": 55})

	trade, err := eng.CloseManual(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("CloseManual returned error: %v", err)
	}

	// pnl = 100 * ((55-50)/50) * 5 = 50
	if !almostEqual(trade.PnL, 50) {
		t.Errorf("pnl = %v, want 50", trade.PnL)
	}
	if trade.ExitReason != ReasonManual {
		t.Errorf("exit reason = %s, want Manual", trade.ExitReason)
	}
	if !almostEqual(trade.ExitPrice, 55) {
		t.Errorf("exit price = %v, want 55", trade.ExitPrice)
	}
	// 余额 = 1000 - 100 + (100 + 50)
	if got := eng.Balance(); !almostEqual(got, 1050) {
		t.Errorf("balance = %v, want 1050", got)
	}

	history := eng.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].ID != p.ID {
		t.Errorf("trade id = %s, want %s", history[0].ID, p.ID)
	}
}

func TestSettlementIdempotence(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100})

	p, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  1,
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	if _, err := eng.CloseManual(context.Background(), p.ID); err != nil {
		t.Fatalf("first CloseManual returned error: %v", err)
	}

	balanceAfterFirst := eng.Balance()
	historyAfterFirst := len(eng.History())

	_, err = eng.CloseManual(context.Background(), p.ID)
	if !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("second CloseManual returned %v, want ErrUnknownPosition", err)
	}
	if got := eng.Balance(); !almostEqual(got, balanceAfterFirst) {
		t.Errorf("balance changed on double close: %v -> %v", balanceAfterFirst, got)
	}
	if got := len(eng.History()); got != historyAfterFirst {
		t.Errorf("history grew on double close: %d -> %d", historyAfterFirst, got)
	}
}

func TestStopLossPrecedenceOverTakeProfit(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100})

	// 阈值设置不自洽：跳价到90会同时越过止损95与（做多逻辑错误配置的）止盈105下方。
	// 止损优先，必须以 StopLoss 结算。
	p, err := eng.Open(context.Background(), OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  Long,
		Margin:     100,
		Leverage:   1,
		StopLoss:   floatPtr(95),
		TakeProfit: floatPtr(90),
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	closed := publish(eng, map[string]float64{"BTCUSDT": 90})
	if len(closed) != 1 {
		t.Fatalf("closed count = %d, want 1", len(closed))
	}
	if closed[0].ID != p.ID {
		t.Fatalf("closed id = %s, want %s", closed[0].ID, p.ID)
	}
	if closed[0].ExitReason != ReasonStopLoss {
		t.Errorf("exit reason = %s, want StopLoss", closed[0].ExitReason)
	}
}

func TestStopLossAndTakeProfitDirections(t *testing.T) {
	tests := []struct {
		name       string
		direction  Direction
		stopLoss   *float64
		takeProfit *float64
		tickPrice  float64
		wantClosed bool
		wantReason ExitReason
	}{
		{"long stop loss hit", Long, floatPtr(95), nil, 94, true, ReasonStopLoss},
		{"long stop loss exact", Long, floatPtr(95), nil, 95, true, ReasonStopLoss},
		{"long stop loss not hit", Long, floatPtr(95), nil, 96, false, ""},
		{"long take profit hit", Long, nil, floatPtr(105), 106, true, ReasonTakeProfit},
		{"long take profit not hit", Long, nil, floatPtr(105), 104, false, ""},
		{"short stop loss hit", Short, floatPtr(105), nil, 106, true, ReasonStopLoss},
		{"short stop loss not hit", Short, floatPtr(105), nil, 104, false, ""},
		{"short take profit hit", Short, nil, floatPtr(95), 94, true, ReasonTakeProfit},
		{"short take profit not hit", Short, nil, floatPtr(95), 96, false, ""},
		{"no thresholds", Long, nil, nil, 50, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, 1000, Options{})
			publish(eng, map[string]float64{"BTCUSDT": 100})

			if _, err := eng.Open(context.Background(), OpenRequest{
				Symbol:     "BTCUSDT",
				Direction:  tt.direction,
				Margin:     100,
				Leverage:   1,
				StopLoss:   tt.stopLoss,
				TakeProfit: tt.takeProfit,
			}); err != nil {
				t.Fatalf("Open returned error: %v", err)
			}

			closed := publish(eng, map[string]float64{"BTCUSDT": tt.tickPrice})
			if tt.wantClosed {
				if len(closed) != 1 {
					t.Fatalf("closed count = %d, want 1", len(closed))
				}
				if closed[0].ExitReason != tt.wantReason {
					t.Errorf("exit reason = %s, want %s", closed[0].ExitReason, tt.wantReason)
				}
				if got := len(eng.Positions()); got != 0 {
					t.Errorf("position still open after trigger: %d", got)
				}
			} else {
				if len(closed) != 0 {
					t.Fatalf("unexpected close: %+v", closed)
				}
				if got := len(eng.Positions()); got != 1 {
					t.Errorf("open position count = %d, want 1", got)
				}
			}
		})
	}
}

func TestTickEvaluatesSingleSnapshot(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100})

	for i := 0; i < 2; i++ {
		if _, err := eng.Open(context.Background(), OpenRequest{
			Symbol:     "BTCUSDT",
			Direction:  Long,
			Margin:     100,
			Leverage:   1,
			TakeProfit: floatPtr(105),
		}); err != nil {
			t.Fatalf("Open #%d returned error: %v", i, err)
		}
	}

	closed := publish(eng, map[string]float64{"BTCUSDT": 110})
	if len(closed) != 2 {
		t.Fatalf("closed count = %d, want 2", len(closed))
	}
	// 同一tick内所有仓位必须针对同一个价格结算。
	if !almostEqual(closed[0].ExitPrice, closed[1].ExitPrice) {
		t.Errorf("exit prices differ within one tick: %v vs %v", closed[0].ExitPrice, closed[1].ExitPrice)
	}
	if !almostEqual(closed[0].ExitPrice, 110) {
		t.Errorf("exit price = %v, want 110", closed[0].ExitPrice)
	}
}

func TestClosedPositionNotReevaluated(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100})

	if _, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  1,
		StopLoss:  floatPtr(95),
	}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	first := publish(eng, map[string]float64{"BTCUSDT": 90})
	if len(first) != 1 {
		t.Fatalf("first tick closed %d positions, want 1", len(first))
	}

	second := publish(eng, map[string]float64{"BTCUSDT": 80})
	if len(second) != 0 {
		t.Fatalf("second tick re-settled a closed position: %+v", second)
	}
	if got := len(eng.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestMissingPriceSkipsPosition(t *testing.T) {
	eng := newTestEngine(t, 1000, Options{})
	publish(eng, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50})

	if _, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "ETHUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  1,
		StopLoss:  floatPtr(45),
	}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	// 快照缺少 ETHUSDT 报价：仓位跳过本tick，保持未平仓。
	closed := publish(eng, map[string]float64{"BTCUSDT": 100})
	if len(closed) != 0 {
		t.Fatalf("position settled without a price: %+v", closed)
	}
	if got := len(eng.Positions()); got != 1 {
		t.Errorf("open position count = %d, want 1", got)
	}

	// 报价恢复后正常触发。
	closed = publish(eng, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 40})
	if len(closed) != 1 {
		t.Fatalf("closed count after price recovery = %d, want 1", len(closed))
	}
	if closed[0].ExitReason != ReasonStopLoss {
		t.Errorf("exit reason = %s, want StopLoss", closed[0].ExitReason)
	}
}

func TestLossClampToMargin(t *testing.T) {
	t.Run("clamp enabled", func(t *testing.T) {
		eng := newTestEngine(t, 1000, Options{ClampLossToMargin: true})
		publish(eng, map[string]float64{"BTCUSDT": 100})

		p, err := eng.Open(context.Background(), OpenRequest{
			Symbol:    "BTCUSDT",
			Direction: Long,
			Margin:    100,
			Leverage:  10,
		})
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}

		// 价格下跌20%，杠杆10倍：原始损益 -200，钳制后 -100。
		publish(eng, map[string]float64{"BTCUSDT": 80})
		trade, err := eng.CloseManual(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("CloseManual returned error: %v", err)
		}
		if !almostEqual(trade.PnL, -100) {
			t.Errorf("clamped pnl = %v, want -100", trade.PnL)
		}
		if got := eng.Balance(); !almostEqual(got, 900) {
			t.Errorf("balance = %v, want 900", got)
		}
	})

	t.Run("clamp disabled", func(t *testing.T) {
		eng := newTestEngine(t, 1000, Options{ClampLossToMargin: false})
		publish(eng, map[string]float64{"BTCUSDT": 100})

		p, err := eng.Open(context.Background(), OpenRequest{
			Symbol:    "BTCUSDT",
			Direction: Long,
			Margin:    100,
			Leverage:  10,
		})
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}

		publish(eng, map[string]float64{"BTCUSDT": 80})
		trade, err := eng.CloseManual(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("CloseManual returned error: %v", err)
		}
		if !almostEqual(trade.PnL, -200) {
			t.Errorf("uncapped pnl = %v, want -200", trade.PnL)
		}
		// 亏损超出保证金：900 + (100 - 200) = 800。
		if got := eng.Balance(); !almostEqual(got, 800) {
			t.Errorf("balance = %v, want 800", got)
		}
	})
}

type recordingJournal struct {
	snapshots []AccountSnapshot
}

func (r *recordingJournal) SaveSnapshot(_ context.Context, snap AccountSnapshot) error {
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func TestRecorderReceivesSnapshotAfterSettlingMutations(t *testing.T) {
	rec := &recordingJournal{}
	eng := NewEngine(NewAccount(1000), newTestCatalog(t), Options{}, rec, nil)
	publish(eng, map[string]float64{"BTCUSDT": 100})

	p, err := eng.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Margin:    100,
		Leverage:  1,
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if len(rec.snapshots) != 1 {
		t.Fatalf("snapshot count after open = %d, want 1", len(rec.snapshots))
	}
	if got := len(rec.snapshots[0].Positions); got != 1 {
		t.Errorf("snapshot open positions = %d, want 1", got)
	}

	if _, err := eng.CloseManual(context.Background(), p.ID); err != nil {
		t.Fatalf("CloseManual returned error: %v", err)
	}
	if len(rec.snapshots) != 2 {
		t.Fatalf("snapshot count after close = %d, want 2", len(rec.snapshots))
	}
	last := rec.snapshots[len(rec.snapshots)-1]
	if got := len(last.Positions); got != 0 {
		t.Errorf("snapshot open positions after close = %d, want 0", got)
	}
	if got := len(last.History); got != 1 {
		t.Errorf("snapshot history after close = %d, want 1", got)
	}

	// 无结算的tick不触发持久化。
	publish(eng, map[string]float64{"BTCUSDT": 101})
	if len(rec.snapshots) != 2 {
		t.Errorf("snapshot count after idle tick = %d, want 2", len(rec.snapshots))
	}
}
