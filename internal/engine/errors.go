package engine

import "errors"

var (
	// ErrInvalidOrder 表示开仓参数非法：保证金非正、超过可用余额或杠杆小于1。
	ErrInvalidOrder = errors.New("invalid order")
	// ErrUnknownPosition 表示指定仓位不在未平仓集合中，例如已被自动触发平仓。
	ErrUnknownPosition = errors.New("position not found")
	// ErrUnknownSymbol 表示品种不在目录中或当前没有可用报价。
	ErrUnknownSymbol = errors.New("unknown symbol")
)
