package engine

import "time"

// Direction 表示仓位方向。
type Direction string

const (
	Long  Direction = "Long"
	Short Direction = "Short"
)

// Valid 判断方向取值是否合法。
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// ExitReason 表示仓位平仓原因。
type ExitReason string

const (
	ReasonManual     ExitReason = "Manual"
	ReasonStopLoss   ExitReason = "StopLoss"
	ReasonTakeProfit ExitReason = "TakeProfit"
)

// Position 表示一笔未平仓的模拟杠杆仓位。
// 创建后除平仓外不会被修改；平仓是仓位唯一的终结路径。
type Position struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	Margin     float64    `json:"margin"`
	Leverage   float64    `json:"leverage"`
	StopLoss   *float64   `json:"stop_loss,omitempty"`
	TakeProfit *float64   `json:"take_profit,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
}

// hitStopLoss 判断当前价是否触发止损。
func (p *Position) hitStopLoss(price float64) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Direction == Long {
		return price <= *p.StopLoss
	}
	return price >= *p.StopLoss
}

// hitTakeProfit 判断当前价是否触发止盈。
func (p *Position) hitTakeProfit(price float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Direction == Long {
		return price >= *p.TakeProfit
	}
	return price <= *p.TakeProfit
}

// Trade 是平仓后的不可变成交快照，只追加不修改。
type Trade struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Margin     float64    `json:"margin"`
	Leverage   float64    `json:"leverage"`
	PnL        float64    `json:"pnl"`
	ExitReason ExitReason `json:"exit_reason"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
}
