package engine

// pnl 按保证金百分比模型计算已实现损益：
// 损益 = 保证金 * 相对价格变动 * 杠杆。
// entry 必须非零，开仓时已做校验。
func pnl(direction Direction, entry, exit, margin, leverage float64) float64 {
	var ratio float64
	if direction == Long {
		ratio = (exit - entry) / entry
	} else {
		ratio = (entry - exit) / entry
	}
	return margin * ratio * leverage
}

// Unrealized 计算仓位在给定现价下的浮动损益，仅用于展示。
func Unrealized(p Position, price float64) float64 {
	if p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	return pnl(p.Direction, p.EntryPrice, price, p.Margin, p.Leverage)
}

// clampLoss 将亏损下限钳制在整笔保证金，避免账户出现负余额。
func clampLoss(value, margin float64) float64 {
	if value < -margin {
		return -margin
	}
	return value
}
