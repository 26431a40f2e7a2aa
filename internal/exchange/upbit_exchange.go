package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"upbit-grid-bot-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpbitExchange 实现了 Exchange 接口，用于与真实的Upbit交易所进行交互。
// 失败不在本层重试，重试策略由上层的轮询循环决定。
type UpbitExchange struct {
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewUpbitExchange 创建一个新的 UpbitExchange 实例。
func NewUpbitExchange(accessKey, secretKey, baseURL string, logger *zap.Logger) *UpbitExchange {
	return &UpbitExchange{
		accessKey:  accessKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// upbitOrder 是 /v1/orders 和 /v1/order 响应的原始结构。
type upbitOrder struct {
	UUID           string `json:"uuid"`
	Side           string `json:"side"`
	OrdType        string `json:"ord_type"`
	Market         string `json:"market"`
	State          string `json:"state"`
	Price          string `json:"price"`
	Volume         string `json:"volume"`
	ExecutedVolume string `json:"executed_volume"`
	CreatedAt      string `json:"created_at"`
}

func (o *upbitOrder) toResult() *models.OrderResult {
	price, _ := strconv.ParseFloat(o.Price, 64)
	volume, _ := strconv.ParseFloat(o.Volume, 64)
	executed, _ := strconv.ParseFloat(o.ExecutedVolume, 64)
	createdAt, _ := time.Parse(time.RFC3339, o.CreatedAt)
	return &models.OrderResult{
		UUID:           o.UUID,
		Side:           o.Side,
		OrdType:        o.OrdType,
		Market:         o.Market,
		State:          o.State,
		Price:          price,
		Volume:         volume,
		ExecutedVolume: executed,
		CreatedAt:      createdAt,
	}
}

// apiErrorEnvelope 包装了Upbit错误响应: {"error":{"name":...,"message":...}}
type apiErrorEnvelope struct {
	Err *models.Error `json:"error"`
}

// doRequest 是一个通用的请求处理函数，用于向Upbit API发送请求。
func (e *UpbitExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	encodedParams := ""
	if params != nil {
		encodedParams = params.Encode()
	}

	var req *http.Request
	var err error

	if method == http.MethodGet || method == http.MethodDelete {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else { // POST
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	if signed {
		token, err := e.authToken(encodedParams)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	var envelope apiErrorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Err != nil && envelope.Err.Name != "" {
		return body, envelope.Err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 当API返回异常状态码时，把响应体一并返回给上层记录。
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// authToken 生成Upbit私有接口所需的JWT。带参数的请求需要附加
// SHA512 query hash。
func (e *UpbitExchange) authToken(encodedParams string) (string, error) {
	header := base64URL([]byte(`{"alg":"HS256","typ":"JWT"}`))

	claims := map[string]string{
		"access_key": e.accessKey,
		"nonce":      uuid.NewString(),
	}
	if encodedParams != "" {
		hash := sha512.Sum512([]byte(encodedParams))
		claims["query_hash"] = fmt.Sprintf("%x", hash)
		claims["query_hash_alg"] = "SHA512"
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("序列化JWT负载失败: %v", err)
	}

	signingInput := header + "." + base64URL(payload)
	mac := hmac.New(sha256.New, []byte(e.secretKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64URL(mac.Sum(nil)), nil
}

func base64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// --- Exchange 接口实现 ---

// GetPrice 获取指定交易对的最新成交价。公共接口，无需签名。
func (e *UpbitExchange) GetPrice(market string) (float64, error) {
	params := url.Values{}
	params.Set("markets", market)
	data, err := e.doRequest(http.MethodGet, "/v1/ticker", params, false)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("未找到交易对 %s 的行情", market)
	}
	return tickers[0].TradePrice, nil
}

// BuyMarket 以指定的KRW金额市价买入 (ord_type=price)。
func (e *UpbitExchange) BuyMarket(market string, krw int64) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("side", models.SideBid)
	params.Set("price", strconv.FormatInt(krw, 10))
	params.Set("ord_type", "price")

	data, err := e.doRequest(http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		e.logger.Error("市价买入失败，交易所返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var order upbitOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return order.toResult(), nil
}

// SellLimit 以指定价格和数量挂限价卖单。
func (e *UpbitExchange) SellLimit(market string, price, qty float64) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("side", models.SideAsk)
	params.Set("volume", strconv.FormatFloat(qty, 'f', 8, 64))
	params.Set("price", formatPrice(price))
	params.Set("ord_type", "limit")

	data, err := e.doRequest(http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		e.logger.Error("限价卖出失败，交易所返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var order upbitOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return order.toResult(), nil
}

// CancelOrder 取消订单。
func (e *UpbitExchange) CancelOrder(orderUUID string) error {
	params := url.Values{}
	params.Set("uuid", orderUUID)
	_, err := e.doRequest(http.MethodDelete, "/v1/order", params, true)
	return err
}

// GetOrder 查询订单状态。订单不存在时返回 (nil, nil)。
func (e *UpbitExchange) GetOrder(orderUUID string) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)
	data, err := e.doRequest(http.MethodGet, "/v1/order", params, true)
	if err != nil {
		if apiErr, ok := err.(*models.Error); ok && apiErr.Name == "order_not_found" {
			return nil, nil
		}
		return nil, err
	}

	var order upbitOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return order.toResult(), nil
}

// GetBalance 获取账户中指定币种的可用余额。
func (e *UpbitExchange) GetBalance(currency string) (float64, error) {
	data, err := e.doRequest(http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return 0, fmt.Errorf("获取账户余额失败: %v", err)
	}

	var accounts []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return 0, fmt.Errorf("解析余额数据失败: %v", err)
	}

	for _, a := range accounts {
		if a.Currency == currency {
			return strconv.ParseFloat(a.Balance, 64)
		}
	}
	return 0, nil
}

// formatPrice 格式化已按tick取整的价格：整数价格不带小数位，其余
// 保留实际精度。Upbit最多接受8位小数，足以覆盖任何tick表。
func formatPrice(price float64) string {
	s := strconv.FormatFloat(price, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
