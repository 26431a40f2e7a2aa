package exchange

import "upbit-grid-bot-go/internal/models"

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得机器人可以在实盘和模拟模式之间轻松切换。
type Exchange interface {
	// GetPrice returns the latest trade price for the market.
	GetPrice(market string) (float64, error)

	// BuyMarket places a market buy spending the given KRW notional.
	BuyMarket(market string, krw int64) (*models.OrderResult, error)

	// SellLimit places a limit sell for qty at the given price.
	SellLimit(market string, price, qty float64) (*models.OrderResult, error)

	// CancelOrder cancels the order with the given uuid.
	CancelOrder(uuid string) error

	// GetOrder looks an order up by uuid. It returns (nil, nil) when the
	// exchange does not know the order.
	GetOrder(uuid string) (*models.OrderResult, error)

	// GetBalance returns the available balance of a currency, e.g. "KRW".
	GetBalance(currency string) (float64, error)
}
