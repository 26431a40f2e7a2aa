package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"upbit-grid-bot-go/internal/models"
)

// Load 从环境变量构建配置。所有参数都有默认值；.env 文件由调用方
// 通过 godotenv 预先加载。
func Load() (*models.Config, error) {
	cfg := &models.Config{
		Market:     envStr("MARKET", "KRW-BTC"),
		TotalKRW:   envInt64("TOTAL_KRW", 2_000_000),
		Slices:     envInt("SLICES", 50),
		BuyStepPct: envFloat("BUY_STEP_PCT", 2.0),
		SellTPPct:  envFloat("SELL_TP_PCT", 3.0),
		DryRun:     envBool("DRY_RUN", true),

		AccessKey: envStr("UPBIT_ACCESS_KEY", ""),
		SecretKey: envStr("UPBIT_SECRET_KEY", ""),

		DBURL:          envStr("DB_URL", "sqlite://db/grid.db"),
		PollSec:        envFloat("POLL_SEC", 2.0),
		UseWebSocket:   envBool("USE_WEBSOCKET", false),
		ReconcileEvery: envInt("RECONCILE_EVERY", 15),
		ReportEvery:    envInt("REPORT_EVERY", 150),

		APIBaseURL: envStr("UPBIT_API_URL", "https://api.upbit.com"),
		WSURL:      envStr("UPBIT_WS_URL", "wss://api.upbit.com/websocket/v1"),

		LogConfig: models.LogConfig{
			Level:      envStr("LOG_LEVEL", "info"),
			Output:     envStr("LOG_OUTPUT", "console"),
			File:       envStr("LOG_FILE", "logs/bot.log"),
			MaxSize:    envInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
			MaxAge:     envInt("LOG_MAX_AGE_DAYS", 14),
			Compress:   envBool("LOG_COMPRESS", false),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 在启动时做快速失败检查，避免配置错误在循环中才暴露。
func validate(cfg *models.Config) error {
	if cfg.Market == "" {
		return fmt.Errorf("MARKET 不能为空")
	}
	if cfg.TotalKRW <= 0 {
		return fmt.Errorf("TOTAL_KRW 必须为正数, 当前值: %d", cfg.TotalKRW)
	}
	if cfg.Slices < 1 {
		return fmt.Errorf("SLICES 必须至少为1, 当前值: %d", cfg.Slices)
	}
	if cfg.PollSec <= 0 {
		return fmt.Errorf("POLL_SEC 必须为正数, 当前值: %v", cfg.PollSec)
	}
	if !cfg.DryRun && (cfg.AccessKey == "" || cfg.SecretKey == "") {
		return fmt.Errorf("实盘模式必须设置 UPBIT_ACCESS_KEY 和 UPBIT_SECRET_KEY 环境变量")
	}
	return nil
}

func envStr(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}
