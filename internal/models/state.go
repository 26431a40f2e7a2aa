package models

import "time"

// BotState 定义了需要持久化的机器人核心状态（单行，id固定为1）
type BotState struct {
	ID              int       `json:"id"`
	Enabled         bool      `json:"enabled"`           // 主开关
	FirstEntryPrice *float64  `json:"first_entry_price"` // 锚点价格；一轮运行中设置一次后不再移动
	SlicesBought    int       `json:"slices_bought"`     // 已买入的网格层数，运行期间单调递增
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewBotState returns the default singleton state: disabled, no anchor.
func NewBotState() *BotState {
	return &BotState{ID: 1, Enabled: false, UpdatedAt: time.Now().UTC()}
}

// LotStatus 定义了Lot生命周期的状态类型
type LotStatus string

const (
	// LotPendingSell marks a lot whose buy executed but whose paired limit
	// sell has not been placed yet. Persisted immediately after the buy so a
	// crash between the two steps is recoverable on the next startup.
	LotPendingSell LotStatus = "PENDING_SELL"
	LotOpen        LotStatus = "OPEN"
	LotSold        LotStatus = "SOLD"
)

// Lot 代表一个网格层级的完整"买入-卖出"周期
type Lot struct {
	ID              int64     `json:"id"`
	BuyPrice        float64   `json:"buy_price"`
	BuyQty          float64   `json:"buy_qty"`
	BuyKRW          int64     `json:"buy_krw"`
	SellTargetPrice float64   `json:"sell_target_price"`
	Status          LotStatus `json:"status"`
	BuyOrderID      string    `json:"buy_order_id"`
	SellOrderID     string    `json:"sell_order_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
