package exchange

import (
	"sync"
	"time"

	"upbit-grid-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// PriceSource is the read-only slice of Exchange the dry-run wrapper
// delegates to. Price discovery carries no financial risk, so it still
// hits the real public market-data endpoint.
type PriceSource interface {
	GetPrice(market string) (float64, error)
}

// DryRunExchange 实现了 Exchange 接口，但从不向真实交易所下单。
// 买卖调用在本地合成订单句柄，让轮询循环可以无风险地跑完整逻辑。
type DryRunExchange struct {
	prices PriceSource
	logger *zap.Logger

	mu  sync.Mutex
	seq int64
}

// NewDryRunExchange wraps a price source (normally a live UpbitExchange)
// into a no-risk exchange client.
func NewDryRunExchange(prices PriceSource, logger *zap.Logger) *DryRunExchange {
	return &DryRunExchange{prices: prices, logger: logger}
}

// GetPrice delegates to the real public ticker endpoint.
func (e *DryRunExchange) GetPrice(market string) (float64, error) {
	return e.prices.GetPrice(market)
}

// BuyMarket synthesizes a filled-looking market buy.
func (e *DryRunExchange) BuyMarket(market string, krw int64) (*models.OrderResult, error) {
	res := &models.OrderResult{
		UUID:      e.handle("buy"),
		Side:      models.SideBid,
		OrdType:   "price",
		Market:    market,
		State:     models.OrderStateWait,
		Price:     float64(krw),
		DryRun:    true,
		CreatedAt: time.Now().UTC(),
	}
	e.logger.Info("[DRY-RUN] 市价买入",
		zap.String("market", market), zap.Int64("krw", krw), zap.String("uuid", res.UUID))
	return res, nil
}

// SellLimit synthesizes a resting limit sell.
func (e *DryRunExchange) SellLimit(market string, price, qty float64) (*models.OrderResult, error) {
	res := &models.OrderResult{
		UUID:      e.handle("sell"),
		Side:      models.SideAsk,
		OrdType:   "limit",
		Market:    market,
		State:     models.OrderStateWait,
		Price:     price,
		Volume:    qty,
		DryRun:    true,
		CreatedAt: time.Now().UTC(),
	}
	e.logger.Info("[DRY-RUN] 限价卖出",
		zap.String("market", market), zap.Float64("price", price),
		zap.Float64("qty", qty), zap.String("uuid", res.UUID))
	return res, nil
}

// CancelOrder is a no-op in dry-run mode.
func (e *DryRunExchange) CancelOrder(orderUUID string) error {
	e.logger.Info("[DRY-RUN] 取消订单", zap.String("uuid", orderUUID))
	return nil
}

// GetOrder returns (nil, nil): synthesized orders have no server-side
// state, and callers already treat an unknown order as "leave it alone".
func (e *DryRunExchange) GetOrder(orderUUID string) (*models.OrderResult, error) {
	return nil, nil
}

// GetBalance reports zero; there is no simulated account.
func (e *DryRunExchange) GetBalance(currency string) (float64, error) {
	return 0, nil
}

// handle composes a deterministic-looking local order id, e.g.
// "dry-buy-8M0kX9F1c2a-1".
func (e *DryRunExchange) handle(kind string) string {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	ts := string(base62.FormatInt(time.Now().UnixNano()))
	return "dry-" + kind + "-" + ts + "-" + string(base62.FormatInt(seq))
}
