package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Market     string  `json:"market"`       // 交易对，如 "KRW-BTC"
	TotalKRW   int64   `json:"total_krw"`    // 总投入资金 (KRW)
	Slices     int     `json:"slices"`       // 网格深度（分批数量）
	BuyStepPct float64 `json:"buy_step_pct"` // 相对锚点价格每层下跌的百分比
	SellTPPct  float64 `json:"sell_tp_pct"`  // 每个Lot的止盈百分比
	DryRun     bool    `json:"dry_run"`      // 是否为模拟模式（不下真实订单）

	AccessKey string `json:"-"` // Upbit API access key
	SecretKey string `json:"-"` // Upbit API secret key

	DBURL          string  `json:"db_url"`          // 状态存储地址: sqlite://path 或 badger://dir
	PollSec        float64 `json:"poll_sec"`        // 轮询间隔（秒）
	UseWebSocket   bool    `json:"use_websocket"`   // 是否使用WebSocket行情源
	ReconcileEvery int     `json:"reconcile_every"` // 每隔多少个周期执行一次对账
	ReportEvery    int     `json:"report_every"`    // 每隔多少个周期打印一次状态报告

	APIBaseURL string `json:"api_base_url"` // REST API基础地址
	WSURL      string `json:"ws_url"`       // WebSocket行情地址

	LogConfig LogConfig `json:"log"` // 日志配置
}

// SliceKRW returns the notional assigned to a single grid level.
// Upbit rejects orders below 5,000 KRW, so the result is floored there.
func (c *Config) SliceKRW() int64 {
	n := int64(c.Slices)
	if n < 1 {
		n = 1
	}
	v := c.TotalKRW / n
	if v < 5000 {
		v = 5000
	}
	return v
}

// PollInterval returns the polling interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSec * float64(time.Second))
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Order side and state values as the Upbit API reports them.
const (
	SideBid = "bid" // buy
	SideAsk = "ask" // sell

	OrderStateWait   = "wait"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// OrderResult is the typed result of a buy/sell/query call against the
// exchange client. The live client fills it from the API response; the
// dry-run client synthesizes it locally with DryRun set, so callers can
// always tell which kind of handle they are holding.
type OrderResult struct {
	UUID           string    `json:"uuid"`
	Side           string    `json:"side"`     // "bid" or "ask"
	OrdType        string    `json:"ord_type"` // "price" (market buy by notional) or "limit"
	Market         string    `json:"market"`
	State          string    `json:"state"` // "wait", "done", "cancel"
	Price          float64   `json:"price"`
	Volume         float64   `json:"volume"`
	ExecutedVolume float64   `json:"executed_volume"`
	DryRun         bool      `json:"dry_run"`
	CreatedAt      time.Time `json:"created_at"`
}

// Error 定义了Upbit API返回的错误信息结构
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: name=%s, msg=%s", e.Name, e.Message)
}
