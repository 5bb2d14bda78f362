package market

import (
	"fmt"
	"strings"

	"papertrade/internal/config"
)

// InstrumentType 表示品种大类。
type InstrumentType string

const (
	TypeCrypto InstrumentType = "Crypto"
	TypeForex  InstrumentType = "Forex"
	TypeStocks InstrumentType = "Stocks"
)

// Instrument 描述单个可交易品种及其报价精度。
type Instrument struct {
	Symbol     string         `json:"symbol"`
	Name       string         `json:"name"`
	Type       InstrumentType `json:"type"`
	StartPrice float64        `json:"start_price"`
	Decimals   int            `json:"decimals"`
}

// Catalog 保存初始化时注入的固定品种清单，运行期间不再变化。
type Catalog struct {
	instruments []Instrument
	index       map[string]int
}

// NewCatalog 根据配置构建品种目录。
func NewCatalog(cfgs []config.InstrumentConfig) (*Catalog, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("market: 品种清单不能为空")
	}

	c := &Catalog{
		instruments: make([]Instrument, 0, len(cfgs)),
		index:       make(map[string]int, len(cfgs)),
	}

	for _, cfg := range cfgs {
		symbol := strings.TrimSpace(cfg.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("market: 品种符号不能为空")
		}
		if _, dup := c.index[symbol]; dup {
			return nil, fmt.Errorf("market: 品种 %s 重复", symbol)
		}
		if cfg.StartPrice <= 0 {
			return nil, fmt.Errorf("market: 品种 %s 初始价格必须大于0", symbol)
		}

		decimals := cfg.Decimals
		if decimals <= 0 {
			decimals = defaultDecimals(symbol, InstrumentType(cfg.Type))
		}

		c.index[symbol] = len(c.instruments)
		c.instruments = append(c.instruments, Instrument{
			Symbol:     symbol,
			Name:       cfg.Name,
			Type:       InstrumentType(cfg.Type),
			StartPrice: cfg.StartPrice,
			Decimals:   decimals,
		})
	}

	return c, nil
}

// Get 按符号查找品种。
func (c *Catalog) Get(symbol string) (Instrument, bool) {
	i, ok := c.index[symbol]
	if !ok {
		return Instrument{}, false
	}
	return c.instruments[i], true
}

// List 返回品种清单副本，顺序与配置一致。
func (c *Catalog) List() []Instrument {
	out := make([]Instrument, len(c.instruments))
	copy(out, c.instruments)
	return out
}

// Symbols 返回全部品种符号。
func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.instruments))
	for i, inst := range c.instruments {
		out[i] = inst.Symbol
	}
	return out
}

// defaultDecimals 沿用报价惯例：低量级外汇对保留4位小数，其余2位。
func defaultDecimals(symbol string, typ InstrumentType) int {
	if typ == TypeForex && strings.Contains(symbol, "USD") && !strings.Contains(symbol, "USDT") {
		return 4
	}
	return 2
}
