package engine

// Account 是余额、未平仓仓位与历史成交的唯一属主。
// 所有变更都经由 Engine 的开仓/平仓操作，不存在其他写入路径。
type Account struct {
	balance   float64
	positions []*Position
	history   []Trade
}

// AccountSnapshot 是账户的完整序列化快照，交由持久化协作方保存。
type AccountSnapshot struct {
	Balance   float64    `json:"balance"`
	Positions []Position `json:"positions"`
	History   []Trade    `json:"history"`
}

// NewAccount 以给定初始余额创建账户。
func NewAccount(initialBalance float64) *Account {
	return &Account{balance: initialBalance}
}

// RestoreAccount 从持久化快照重建账户。
func RestoreAccount(snap AccountSnapshot) *Account {
	acct := &Account{
		balance:   snap.Balance,
		positions: make([]*Position, 0, len(snap.Positions)),
		history:   make([]Trade, len(snap.History)),
	}
	for i := range snap.Positions {
		p := snap.Positions[i]
		acct.positions = append(acct.positions, &p)
	}
	copy(acct.history, snap.History)
	return acct
}

// add 追加一笔新仓位，评估顺序即插入顺序。
func (a *Account) add(p *Position) {
	a.positions = append(a.positions, p)
}

// find 按 id 查找仓位。
func (a *Account) find(id string) (*Position, bool) {
	for _, p := range a.positions {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// remove 将仓位移出未平仓集合，保持其余仓位的插入顺序。
func (a *Account) remove(id string) bool {
	for i, p := range a.positions {
		if p.ID == id {
			a.positions = append(a.positions[:i], a.positions[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot 返回账户的深拷贝快照。
func (a *Account) snapshot() AccountSnapshot {
	positions := make([]Position, len(a.positions))
	for i, p := range a.positions {
		positions[i] = *p
	}
	history := make([]Trade, len(a.history))
	copy(history, a.history)
	return AccountSnapshot{
		Balance:   a.balance,
		Positions: positions,
		History:   history,
	}
}
