package market

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"papertrade/internal/config"
)

// Snapshot 是某个tick发布的完整价格快照。
// 同一tick内的所有仓位评估都必须基于同一份快照。
type Snapshot struct {
	Seq    uint64             `json:"seq"`
	At     time.Time          `json:"at"`
	Prices map[string]float64 `json:"prices"`
}

// Price 按符号取价，不存在时 ok 为 false。
func (s Snapshot) Price(symbol string) (float64, bool) {
	p, ok := s.Prices[symbol]
	return p, ok
}

// Feed 以有界随机游走持续生成合成价格。
// 生成本身不会失败；价格被钳制在 minPrice 之上，保证后续损益计算有定义。
type Feed struct {
	mu         sync.Mutex
	catalog    *Catalog
	prices     map[string]float64
	volatility float64
	minPrice   float64
	rng        *rand.Rand
	seq        uint64
	now        func() time.Time
}

// NewFeed 基于品种目录创建价格模拟器。
// seed 为 0 时使用时间种子，固定 seed 可复现同一条价格路径。
func NewFeed(catalog *Catalog, cfg config.FeedConfig) *Feed {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	volatility := cfg.Volatility
	if volatility <= 0 {
		volatility = 0.0006
	}
	minPrice := cfg.MinPrice
	if minPrice <= 0 {
		minPrice = 0.0001
	}

	prices := make(map[string]float64, len(catalog.instruments))
	for _, inst := range catalog.instruments {
		prices[inst.Symbol] = roundTo(inst.StartPrice, inst.Decimals)
	}

	return &Feed{
		catalog:    catalog,
		prices:     prices,
		volatility: volatility,
		minPrice:   minPrice,
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
	}
}

// Advance 为每个品种生成下一个价格并返回新的快照。
// next = prev + U(-0.5,0.5) * prev * volatility，按品种精度取整。
func (f *Feed) Advance() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, inst := range f.catalog.instruments {
		prev := f.prices[inst.Symbol]
		move := (f.rng.Float64() - 0.5) * prev * f.volatility
		next := roundTo(prev+move, inst.Decimals)
		if next < f.minPrice {
			next = f.minPrice
		}
		f.prices[inst.Symbol] = next
	}

	f.seq++
	return f.snapshotLocked()
}

// Snapshot 返回当前价格快照的独立副本。
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	prices := make(map[string]float64, len(f.prices))
	for symbol, price := range f.prices {
		prices[symbol] = price
	}
	return Snapshot{
		Seq:    f.seq,
		At:     f.now().UTC(),
		Prices: prices,
	}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
