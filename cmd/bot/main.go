package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"upbit-grid-bot-go/internal/config"
	"upbit-grid-bot-go/internal/exchange"
	"upbit-grid-bot-go/internal/ledger"
	"upbit-grid-bot-go/internal/logger"
	"upbit-grid-bot-go/internal/models"
	"upbit-grid-bot-go/internal/reporter"
	"upbit-grid-bot-go/internal/runner"

	"flag"
	"fmt"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	mode := flag.String("mode", "run", "running mode: run, enable, disable, reset-anchor or status")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一个logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载环境变量配置 ---
	cfg, err := config.Load()
	if err != nil {
		logger.S().Fatalf("无法加载配置: %v", err)
	}

	// --- 使用配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync() // 确保在main函数退出时刷新所有缓冲的日志

	// --- 打开状态存储 ---
	repo, err := ledger.Open(cfg.DBURL)
	if err != nil {
		logger.S().Fatalf("无法打开状态存储 %s: %v", cfg.DBURL, err)
	}
	defer repo.Close()

	// --- 根据模式执行 ---
	switch *mode {
	case "run":
		runBot(cfg, repo)
	case "enable":
		setEnabled(repo, true)
	case "disable":
		setEnabled(repo, false)
	case "reset-anchor":
		resetAnchor(repo)
	case "status":
		printStatus(cfg, repo)
	default:
		logger.S().Fatalf("未知的运行模式: %s。可选: run, enable, disable, reset-anchor, status。", *mode)
	}
}

// runBot 组装依赖并启动轮询循环
func runBot(cfg *models.Config, repo ledger.Repository) {
	var ex exchange.Exchange
	live := exchange.NewUpbitExchange(cfg.AccessKey, cfg.SecretKey, cfg.APIBaseURL, logger.L())

	if cfg.DryRun {
		logger.S().Info("--- 启动模拟模式（不下真实订单） ---")
		ex = exchange.NewDryRunExchange(live, logger.L())
	} else {
		logger.S().Info("--- 启动实盘模式 ---")
		// 启动前校验API密钥，避免带着坏密钥进入交易循环
		if _, err := live.GetBalance("KRW"); err != nil {
			logger.S().Fatalf("API密钥校验失败: %v", err)
		}
		logger.S().Info("API密钥校验通过。")
		ex = live
	}

	var feed *exchange.TickerFeed
	if cfg.UseWebSocket {
		feed = exchange.NewTickerFeed(cfg.WSURL, cfg.Market, logger.L())
		feed.Start()
		defer feed.Stop()
	}

	r := runner.New(cfg, ex, repo, feed, logger.S())

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.S().Infof("收到信号 %s，正在停止...", sig)
		r.Stop()
	}()

	if err := r.Run(); err != nil {
		logger.S().Fatalf("机器人运行失败: %v", err)
	}
	logger.S().Info("机器人已成功停止。")
}

// loadOrInitState 读取单例状态，不存在时创建默认值
func loadOrInitState(repo ledger.Repository) (*models.BotState, error) {
	state, err := repo.LoadState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = models.NewBotState()
	}
	return state, nil
}

// setEnabled 切换主开关；运行中的进程会在下一个周期读取到新值
func setEnabled(repo ledger.Repository, enabled bool) {
	state, err := loadOrInitState(repo)
	if err != nil {
		logger.S().Fatalf("读取状态失败: %v", err)
	}
	state.Enabled = enabled
	state.UpdatedAt = time.Now().UTC()
	if err := repo.SaveState(state); err != nil {
		logger.S().Fatalf("保存状态失败: %v", err)
	}
	logger.S().Infof("enabled = %v", enabled)
}

// resetAnchor 清除锚点并将已买层数归零，开始新一轮网格
func resetAnchor(repo ledger.Repository) {
	state, err := loadOrInitState(repo)
	if err != nil {
		logger.S().Fatalf("读取状态失败: %v", err)
	}
	state.FirstEntryPrice = nil
	state.SlicesBought = 0
	state.UpdatedAt = time.Now().UTC()
	if err := repo.SaveState(state); err != nil {
		logger.S().Fatalf("保存状态失败: %v", err)
	}
	logger.S().Info("锚点已清除，slices_bought 已归零。下一个启用周期将重新设定锚点。")
}

// printStatus 打印状态表格后退出
func printStatus(cfg *models.Config, repo ledger.Repository) {
	state, err := loadOrInitState(repo)
	if err != nil {
		logger.S().Fatalf("读取状态失败: %v", err)
	}
	lots, err := repo.RecentLots(20)
	if err != nil {
		logger.S().Fatalf("读取Lot列表失败: %v", err)
	}

	// status模式只读，不需要有效密钥，行情获取失败时价格显示为0
	price := 0.0
	ex := exchange.NewUpbitExchange(cfg.AccessKey, cfg.SecretKey, cfg.APIBaseURL, logger.L())
	if p, err := ex.GetPrice(cfg.Market); err == nil {
		price = p
	} else {
		logger.S().Warnf("获取行情失败: %v", err)
	}

	fmt.Println(reporter.RenderStatus(cfg, state, price, lots))
}
