package runner

import (
	"fmt"
	"sync"
	"time"

	"upbit-grid-bot-go/internal/exchange"
	"upbit-grid-bot-go/internal/ledger"
	"upbit-grid-bot-go/internal/models"
	"upbit-grid-bot-go/internal/reporter"
	"upbit-grid-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// wsStaleAfter is how old a websocket tick may be before the runner falls
// back to the REST ticker for that cycle.
const wsStaleAfter = 10 * time.Second

// Runner drives the grid bot: one goroutine, one ledger, one exchange.
// Every cycle it reads the latest price, asks the strategy for a plan and
// executes it. All persistence goes through the ledger so a restart resumes
// exactly where the previous process stopped.
type Runner struct {
	cfg    *models.Config
	ex     exchange.Exchange
	repo   ledger.Repository
	feed   *exchange.TickerFeed // optional, nil when USE_WEBSOCKET=0
	logger *zap.SugaredLogger

	stopChan chan struct{}
	stopOnce sync.Once
	cycles   int
}

// New assembles a runner from already-constructed dependencies.
func New(cfg *models.Config, ex exchange.Exchange, repo ledger.Repository, feed *exchange.TickerFeed, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:      cfg,
		ex:       ex,
		repo:     repo,
		feed:     feed,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Run blocks until Stop is called. A failing cycle is logged and skipped;
// the loop itself only ends on Stop.
func (r *Runner) Run() error {
	if err := r.startupReconcile(); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}

	r.logger.Infow("runner started",
		"market", r.cfg.Market,
		"slice_krw", r.cfg.SliceKRW(),
		"poll_interval", r.cfg.PollInterval(),
		"dry_run", r.cfg.DryRun)

	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("runner stopped")
			return nil
		case <-ticker.C:
			r.cycles++
			if err := r.runCycle(); err != nil {
				r.logger.Errorw("cycle failed", "cycle", r.cycles, "error", err)
			}
		}
	}
}

// Stop ends the Run loop. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// startupReconcile repairs whatever the previous process left half-done
// before the first cycle runs. Unlike the per-cycle reconcile, a failure
// here is fatal: starting to trade on top of unrepaired state is worse
// than not starting.
func (r *Runner) startupReconcile() error {
	state, err := r.ensureState()
	if err != nil {
		return err
	}
	r.logger.Infow("state loaded",
		"enabled", state.Enabled,
		"anchor", anchorField(state.FirstEntryPrice),
		"slices_bought", state.SlicesBought)
	return r.reconcile()
}

// ensureState loads the singleton state, creating the disabled default on
// first run.
func (r *Runner) ensureState() (*models.BotState, error) {
	state, err := r.repo.LoadState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = models.NewBotState()
		if err := r.repo.SaveState(state); err != nil {
			return nil, err
		}
		r.logger.Info("no persisted state found, created disabled default")
	}
	return state, nil
}

// runCycle is one full pass: price, decision, execution, bookkeeping.
func (r *Runner) runCycle() error {
	state, err := r.ensureState()
	if err != nil {
		return err
	}

	price, err := r.currentPrice()
	if err != nil {
		return fmt.Errorf("get price: %w", err)
	}

	anchor, plan := strategy.DecideNext(strategy.DecisionInput{
		Enabled:         state.Enabled,
		CurPrice:        price,
		FirstEntryPrice: state.FirstEntryPrice,
		SlicesBought:    state.SlicesBought,
		SlicesTotal:     r.cfg.Slices,
		SliceKRW:        r.cfg.SliceKRW(),
		BuyStepPct:      r.cfg.BuyStepPct,
		SellTPPct:       r.cfg.SellTPPct,
	})

	// Persist the anchor the one time the strategy establishes it.
	if state.FirstEntryPrice == nil && anchor != nil {
		state.FirstEntryPrice = anchor
		state.UpdatedAt = time.Now().UTC()
		if err := r.repo.SaveState(state); err != nil {
			return fmt.Errorf("persist anchor: %w", err)
		}
		r.logger.Infow("anchor established", "anchor", *anchor)
	}

	r.logger.Debugw("cycle decision",
		"cycle", r.cycles,
		"price", price,
		"reason", plan.BuyReason,
		"slices_bought", state.SlicesBought)

	if plan.ShouldBuy {
		if err := r.executeBuy(state, price, plan); err != nil {
			return fmt.Errorf("execute buy: %w", err)
		}
	}

	// updated_at is the liveness heartbeat external observers watch,
	// so every completed cycle touches it even when nothing traded.
	state.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveState(state); err != nil {
		return fmt.Errorf("persist heartbeat: %w", err)
	}

	if r.cfg.ReconcileEvery > 0 && r.cycles%r.cfg.ReconcileEvery == 0 {
		if err := r.reconcile(); err != nil {
			r.logger.Errorw("reconcile failed", "error", err)
		}
	}

	if r.cfg.ReportEvery > 0 && r.cycles%r.cfg.ReportEvery == 0 {
		r.report(state, price)
	}

	return nil
}

// currentPrice prefers a fresh websocket tick and falls back to REST when
// the feed is absent or stale.
func (r *Runner) currentPrice() (float64, error) {
	if r.feed != nil {
		if price, at, ok := r.feed.LastPrice(); ok && time.Since(at) < wsStaleAfter {
			return price, nil
		}
		r.logger.Debug("websocket price stale or absent, falling back to REST")
	}
	return r.ex.GetPrice(r.cfg.Market)
}

// executeBuy performs one grid purchase and places its paired take-profit
// sell. The lot is persisted as PENDING_SELL between the two orders so a
// crash in the gap is repaired by the next reconcile instead of losing
// track of bought coins.
func (r *Runner) executeBuy(state *models.BotState, price float64, plan strategy.Plan) error {
	if state.SlicesBought >= r.cfg.Slices {
		return fmt.Errorf("refusing buy: slices_bought %d already at limit %d", state.SlicesBought, r.cfg.Slices)
	}

	buy, err := r.ex.BuyMarket(r.cfg.Market, plan.BuyKRW)
	if err != nil {
		return fmt.Errorf("market buy: %w", err)
	}

	// Market buys by notional do not report the filled volume immediately;
	// estimate from the cycle price and let reconcile correct it later.
	qty := float64(plan.BuyKRW) / price
	now := time.Now().UTC()
	lot := &models.Lot{
		BuyPrice:        price,
		BuyQty:          qty,
		BuyKRW:          plan.BuyKRW,
		SellTargetPrice: plan.SellPrice,
		Status:          models.LotPendingSell,
		BuyOrderID:      buy.UUID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	state.SlicesBought++
	state.UpdatedAt = now
	if err := r.repo.RecordBuy(lot, state); err != nil {
		return fmt.Errorf("persist buy: %w", err)
	}

	r.logger.Infow("bought grid slice",
		"lot", lot.ID,
		"reason", plan.BuyReason,
		"krw", plan.BuyKRW,
		"price", price,
		"est_qty", qty,
		"buy_order", buy.UUID,
		"slices_bought", state.SlicesBought)

	if err := r.placeSell(lot); err != nil {
		// Lot stays PENDING_SELL. Reconcile retries the sell next pass.
		r.logger.Errorw("sell placement failed, lot left pending",
			"lot", lot.ID, "error", err)
		return nil
	}
	return nil
}

// placeSell puts the take-profit limit order for a lot and promotes it to
// OPEN.
func (r *Runner) placeSell(lot *models.Lot) error {
	sell, err := r.ex.SellLimit(r.cfg.Market, lot.SellTargetPrice, lot.BuyQty)
	if err != nil {
		return err
	}

	lot.Status = models.LotOpen
	lot.SellOrderID = sell.UUID
	lot.UpdatedAt = time.Now().UTC()
	if err := r.repo.UpdateLot(lot); err != nil {
		return fmt.Errorf("persist lot after sell: %w", err)
	}

	r.logger.Infow("placed take-profit sell",
		"lot", lot.ID,
		"price", lot.SellTargetPrice,
		"qty", lot.BuyQty,
		"sell_order", sell.UUID)
	return nil
}

// reconcile repairs PENDING_SELL lots and detects filled sells.
//
// PENDING_SELL: the buy happened but the sell never made it out. Poll the
// buy order for the real executed volume, then place the sell.
//
// OPEN: poll the sell order. "done" closes the lot as SOLD. A cancelled
// sell with partial fill is logged and kept OPEN for the operator; a
// cancelled sell with no fill gets a fresh sell order.
func (r *Runner) reconcile() error {
	pending, err := r.repo.LotsByStatus(models.LotPendingSell)
	if err != nil {
		return fmt.Errorf("load pending lots: %w", err)
	}
	for i := range pending {
		r.recoverPendingSell(&pending[i])
	}

	open, err := r.repo.LotsByStatus(models.LotOpen)
	if err != nil {
		return fmt.Errorf("load open lots: %w", err)
	}
	for i := range open {
		r.checkSellFill(&open[i])
	}
	return nil
}

func (r *Runner) recoverPendingSell(lot *models.Lot) {
	r.logger.Warnw("recovering lot without a sell order", "lot", lot.ID, "buy_order", lot.BuyOrderID)

	// Dry-run buys are never known to the exchange; keep the estimate.
	if lot.BuyOrderID != "" {
		order, err := r.ex.GetOrder(lot.BuyOrderID)
		if err != nil {
			r.logger.Errorw("buy order lookup failed", "lot", lot.ID, "error", err)
			return
		}
		if order != nil && order.ExecutedVolume > 0 && order.ExecutedVolume != lot.BuyQty {
			r.logger.Infow("correcting lot quantity from executed volume",
				"lot", lot.ID, "estimated", lot.BuyQty, "executed", order.ExecutedVolume)
			lot.BuyQty = order.ExecutedVolume
		}
	}

	if err := r.placeSell(lot); err != nil {
		r.logger.Errorw("sell placement failed during recovery", "lot", lot.ID, "error", err)
	}
}

func (r *Runner) checkSellFill(lot *models.Lot) {
	if lot.SellOrderID == "" {
		return
	}
	order, err := r.ex.GetOrder(lot.SellOrderID)
	if err != nil {
		r.logger.Errorw("sell order lookup failed", "lot", lot.ID, "error", err)
		return
	}
	if order == nil {
		// Dry-run handle or an order the exchange forgot. Nothing to do.
		return
	}

	switch order.State {
	case models.OrderStateDone:
		lot.Status = models.LotSold
		lot.UpdatedAt = time.Now().UTC()
		if err := r.repo.UpdateLot(lot); err != nil {
			r.logger.Errorw("persist sold lot failed", "lot", lot.ID, "error", err)
			return
		}
		profit := lot.SellTargetPrice*lot.BuyQty - float64(lot.BuyKRW)
		r.logger.Infow("take-profit filled",
			"lot", lot.ID,
			"sell_price", lot.SellTargetPrice,
			"qty", lot.BuyQty,
			"est_profit_krw", profit)
	case models.OrderStateCancel:
		if order.ExecutedVolume > 0 {
			r.logger.Warnw("sell cancelled with partial fill, manual intervention needed",
				"lot", lot.ID, "executed", order.ExecutedVolume, "volume", order.Volume)
			return
		}
		r.logger.Warnw("sell cancelled externally, re-placing", "lot", lot.ID)
		lot.Status = models.LotPendingSell
		lot.SellOrderID = ""
		lot.UpdatedAt = time.Now().UTC()
		if err := r.repo.UpdateLot(lot); err != nil {
			r.logger.Errorw("persist lot failed", "lot", lot.ID, "error", err)
			return
		}
		if err := r.placeSell(lot); err != nil {
			r.logger.Errorw("sell re-placement failed", "lot", lot.ID, "error", err)
		}
	}
}

// report prints the periodic status table.
func (r *Runner) report(state *models.BotState, price float64) {
	lots, err := r.repo.RecentLots(10)
	if err != nil {
		r.logger.Errorw("load recent lots for report failed", "error", err)
		return
	}
	r.logger.Infof("status report\n%s", reporter.RenderStatus(r.cfg, state, price, lots))
}

func anchorField(p *float64) interface{} {
	if p == nil {
		return "unset"
	}
	return *p
}
