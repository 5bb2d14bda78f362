package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"papertrade/internal/market"
)

// Recorder 是持久化协作方：每次结算性变更后接收账户完整快照。
type Recorder interface {
	SaveSnapshot(ctx context.Context, snap AccountSnapshot) error
}

// Options 控制引擎行为。
type Options struct {
	// MaxLeverage 为开仓杠杆上限，0 表示不限制。
	MaxLeverage float64
	// ClampLossToMargin 为真时单笔亏损以保证金为限，余额不会因此变负。
	ClampLossToMargin bool
}

// OpenRequest 描述一次开仓请求。
type OpenRequest struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Margin     float64   `json:"margin"`
	Leverage   float64   `json:"leverage"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
}

// Engine 驱动仓位从开仓到平仓的完整生命周期。
// 单把互斥锁覆盖开仓、手动平仓与每tick扫描的读取-评估-变更序列，
// 保证同一仓位不会被重复结算、余额不会被重复入账。
type Engine struct {
	mu       sync.Mutex
	acct     *Account
	catalog  *market.Catalog
	opts     Options
	recorder Recorder
	logger   *zap.Logger

	last market.Snapshot

	now   func() time.Time
	newID func() string
}

// NewEngine 创建仓位引擎。recorder 可以为 nil，表示不持久化。
func NewEngine(acct *Account, catalog *market.Catalog, opts Options, recorder Recorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		acct:     acct,
		catalog:  catalog,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Open 校验请求并开仓：入场价取该品种当前合成价，保证金立即从余额扣除。
// 校验失败返回 ErrInvalidOrder，余额保持不变。
func (e *Engine) Open(ctx context.Context, req OpenRequest) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !req.Direction.Valid() {
		return Position{}, fmt.Errorf("%w: 方向取值非法: %q", ErrInvalidOrder, req.Direction)
	}
	if req.Margin <= 0 {
		return Position{}, fmt.Errorf("%w: 保证金必须大于0", ErrInvalidOrder)
	}
	if req.Margin > e.acct.balance {
		return Position{}, fmt.Errorf("%w: 保证金 %.2f 超过可用余额 %.2f", ErrInvalidOrder, req.Margin, e.acct.balance)
	}
	if req.Leverage < 1 {
		return Position{}, fmt.Errorf("%w: 杠杆不能小于1", ErrInvalidOrder)
	}
	if e.opts.MaxLeverage > 0 && req.Leverage > e.opts.MaxLeverage {
		return Position{}, fmt.Errorf("%w: 杠杆 %.0f 超过上限 %.0f", ErrInvalidOrder, req.Leverage, e.opts.MaxLeverage)
	}
	if req.StopLoss != nil && *req.StopLoss <= 0 {
		return Position{}, fmt.Errorf("%w: 止损价必须大于0", ErrInvalidOrder)
	}
	if req.TakeProfit != nil && *req.TakeProfit <= 0 {
		return Position{}, fmt.Errorf("%w: 止盈价必须大于0", ErrInvalidOrder)
	}

	if _, ok := e.catalog.Get(req.Symbol); !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
	}
	entry, ok := e.last.Price(req.Symbol)
	if !ok || entry <= 0 {
		return Position{}, fmt.Errorf("%w: %s 暂无可用报价", ErrUnknownSymbol, req.Symbol)
	}

	p := &Position{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		EntryPrice: entry,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   e.now().UTC(),
	}

	e.acct.balance -= req.Margin
	e.acct.add(p)
	e.persistLocked(ctx)

	e.logger.Info("开仓成功",
		zap.String("position_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("direction", string(p.Direction)),
		zap.Float64("entry_price", p.EntryPrice),
		zap.Float64("margin", p.Margin),
		zap.Float64("leverage", p.Leverage),
	)

	return *p, nil
}

// CloseManual 以当前合成价强制平掉指定仓位，平仓原因为 Manual。
// 仓位不存在（例如同一tick已被自动触发平仓）时返回 ErrUnknownPosition，
// 不会产生二次结算。
func (e *Engine) CloseManual(ctx context.Context, id string) (Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.acct.find(id)
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}

	price, ok := e.last.Price(p.Symbol)
	if !ok || price <= 0 {
		return Trade{}, fmt.Errorf("%w: %s 暂无可用报价", ErrUnknownSymbol, p.Symbol)
	}

	trade := e.settleLocked(p, price, ReasonManual)
	e.persistLocked(ctx)
	return trade, nil
}

// EvaluateTick 接收本tick发布的价格快照并扫描全部未平仓仓位。
// 所有仓位按插入顺序针对同一份快照评估；先查止损后查止盈，
// 两者同tick同时满足时以止损结算。缺价的仓位跳过，留待下一tick。
func (e *Engine) EvaluateTick(ctx context.Context, snap market.Snapshot) []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = snap

	open := make([]*Position, len(e.acct.positions))
	copy(open, e.acct.positions)

	var closed []Trade
	for _, p := range open {
		price, ok := snap.Price(p.Symbol)
		if !ok || price <= 0 {
			e.logger.Warn("仓位品种缺少报价，跳过本tick评估",
				zap.String("position_id", p.ID),
				zap.String("symbol", p.Symbol),
			)
			continue
		}

		switch {
		case p.hitStopLoss(price):
			closed = append(closed, e.settleLocked(p, price, ReasonStopLoss))
		case p.hitTakeProfit(price):
			closed = append(closed, e.settleLocked(p, price, ReasonTakeProfit))
		}
	}

	if len(closed) > 0 {
		e.persistLocked(ctx)
	}
	return closed
}

// settleLocked 是自动触发与手动平仓共用的结算路径：
// 计算已实现损益、生成成交记录、移除仓位并把 保证金+损益 记回余额。
func (e *Engine) settleLocked(p *Position, exitPrice float64, reason ExitReason) Trade {
	realized := pnl(p.Direction, p.EntryPrice, exitPrice, p.Margin, p.Leverage)
	if e.opts.ClampLossToMargin {
		realized = clampLoss(realized, p.Margin)
	}

	trade := Trade{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Margin:     p.Margin,
		Leverage:   p.Leverage,
		PnL:        realized,
		ExitReason: reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   e.now().UTC(),
	}

	e.acct.remove(p.ID)
	e.acct.history = append(e.acct.history, trade)
	e.acct.balance += p.Margin + realized

	e.logger.Info("仓位已结算",
		zap.String("position_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", realized),
		zap.Float64("balance", e.acct.balance),
	)

	return trade
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveSnapshot(ctx, e.acct.snapshot()); err != nil {
		e.logger.Warn("保存账户快照失败", zap.Error(err))
	}
}

// Balance 返回当前余额。
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.balance
}

// Positions 返回未平仓仓位副本，顺序为插入顺序。
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, len(e.acct.positions))
	for i, p := range e.acct.positions {
		out[i] = *p
	}
	return out
}

// History 返回历史成交副本，按平仓时间从旧到新。
func (e *Engine) History() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trade, len(e.acct.history))
	copy(out, e.acct.history)
	return out
}

// Snapshot 返回账户完整快照。
func (e *Engine) Snapshot() AccountSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.snapshot()
}
