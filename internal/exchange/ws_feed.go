package exchange

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickerFeed 通过Upbit公共WebSocket维护最新成交价。
// 连接断开后自动重连；消费者通过 LastPrice 读取带时间戳的价格快照。
type TickerFeed struct {
	wsURL  string
	market string
	logger *zap.Logger

	mu        sync.RWMutex
	lastPrice float64
	lastAt    time.Time

	conn     *websocket.Conn
	writeMu  sync.Mutex // gorilla/websocket allows one writer at a time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTickerFeed 创建一个新的行情订阅实例。
func NewTickerFeed(wsURL, market string, logger *zap.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:    wsURL,
		market:   market,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 启动后台守护goroutine，负责维持连接和重连。
func (f *TickerFeed) Start() {
	go f.loop()
}

// Stop 停止行情订阅。
func (f *TickerFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
}

// LastPrice returns the most recent trade price and when it was observed.
// ok is false until the first tick arrives.
func (f *TickerFeed) LastPrice() (price float64, at time.Time, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastPrice, f.lastAt, !f.lastAt.IsZero()
}

// loop 是一个守护循环，负责维持WebSocket的连接和重连。
func (f *TickerFeed) loop() {
	for {
		select {
		case <-f.stopChan:
			f.logger.Info("行情WebSocket循环已停止")
			return
		default:
			if err := f.connect(); err != nil {
				f.logger.Warn("WebSocket连接失败，5秒后重试", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}

			f.logger.Info("行情WebSocket连接成功", zap.String("market", f.market))
			if err := f.readMessages(); err != nil {
				f.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			if f.conn != nil {
				f.conn.Close()
			}
			select {
			case <-f.stopChan:
				return
			default:
			}
			f.logger.Info("行情WebSocket连接已断开，准备重连...")
			time.Sleep(5 * time.Second)
		}
	}
}

// connect 建立连接并发送订阅请求。
func (f *TickerFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %v", err)
	}

	// Upbit订阅格式: [{"ticket":...},{"type":"ticker","codes":[...]}]
	sub := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": []string{f.market}},
		map[string]string{"format": "DEFAULT"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("发送订阅请求失败: %v", err)
	}

	f.conn = conn
	return nil
}

// writeMessage 串行化对连接的并发写入（ping goroutine与关闭帧）。
func (f *TickerFeed) writeMessage(messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteMessage(messageType, data)
}

// readMessages 为一个已建立的连接处理消息，并实现心跳机制。
func (f *TickerFeed) readMessages() error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	)

	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-f.stopChan:
				return
			}
		}
	}()

	for {
		select {
		case <-f.stopChan:
			f.writeMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := f.conn.ReadMessage()
			if err != nil {
				// 任何读取错误都意味着连接已损坏，交给外层循环重连
				return fmt.Errorf("读取消息失败: %v", err)
			}

			// Upbit以二进制帧推送JSON
			var ticker struct {
				Type       string      `json:"type"`
				Code       string      `json:"code"`
				TradePrice json.Number `json:"trade_price"`
			}
			if err := json.Unmarshal(message, &ticker); err != nil {
				continue
			}
			if ticker.Type != "ticker" || ticker.Code != f.market {
				continue
			}

			price, err := ticker.TradePrice.Float64()
			if err != nil || price <= 0 {
				continue
			}

			f.mu.Lock()
			f.lastPrice = price
			f.lastAt = time.Now()
			f.mu.Unlock()
		}
	}
}
