package runner

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"upbit-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExchange is a scriptable in-memory stand-in for the Upbit client.
type mockExchange struct {
	price    float64
	priceErr error
	sellErr  error
	orders   map[string]*models.OrderResult

	buyCalls      int
	sellCalls     int
	lastSellPrice float64
	lastSellQty   float64
}

func newMockExchange(price float64) *mockExchange {
	return &mockExchange{price: price, orders: map[string]*models.OrderResult{}}
}

func (m *mockExchange) GetPrice(market string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockExchange) BuyMarket(market string, krw int64) (*models.OrderResult, error) {
	m.buyCalls++
	uuid := fmt.Sprintf("buy-%d", m.buyCalls)
	o := &models.OrderResult{UUID: uuid, Side: models.SideBid, OrdType: "price", Market: market, State: models.OrderStateWait, Price: float64(krw)}
	m.orders[uuid] = o
	return o, nil
}

func (m *mockExchange) SellLimit(market string, price, qty float64) (*models.OrderResult, error) {
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	m.sellCalls++
	m.lastSellPrice = price
	m.lastSellQty = qty
	uuid := fmt.Sprintf("sell-%d", m.sellCalls)
	o := &models.OrderResult{UUID: uuid, Side: models.SideAsk, OrdType: "limit", Market: market, State: models.OrderStateWait, Price: price, Volume: qty}
	m.orders[uuid] = o
	return o, nil
}

func (m *mockExchange) CancelOrder(uuid string) error { return nil }

func (m *mockExchange) GetOrder(uuid string) (*models.OrderResult, error) {
	return m.orders[uuid], nil
}

func (m *mockExchange) GetBalance(currency string) (float64, error) { return 0, nil }

// mockRepo keeps everything in memory and counts writes.
type mockRepo struct {
	state        *models.BotState
	lots         map[int64]*models.Lot
	nextID       int64
	saveCalls    int
	recordBuyErr error // consumed by the next RecordBuy call
}

func newMockRepo() *mockRepo {
	return &mockRepo{lots: map[int64]*models.Lot{}}
}

func (r *mockRepo) LoadState() (*models.BotState, error) {
	if r.state == nil {
		return nil, nil
	}
	cp := *r.state
	return &cp, nil
}

func (r *mockRepo) SaveState(s *models.BotState) error {
	r.saveCalls++
	cp := *s
	r.state = &cp
	return nil
}

func (r *mockRepo) InsertLot(lot *models.Lot) error {
	r.nextID++
	lot.ID = r.nextID
	cp := *lot
	r.lots[lot.ID] = &cp
	return nil
}

func (r *mockRepo) RecordBuy(lot *models.Lot, state *models.BotState) error {
	if err := r.recordBuyErr; err != nil {
		r.recordBuyErr = nil
		return err
	}
	if err := r.InsertLot(lot); err != nil {
		return err
	}
	return r.SaveState(state)
}

func (r *mockRepo) UpdateLot(lot *models.Lot) error {
	if _, ok := r.lots[lot.ID]; !ok {
		return errors.New("lot not found")
	}
	cp := *lot
	r.lots[lot.ID] = &cp
	return nil
}

func (r *mockRepo) LotsByStatus(status models.LotStatus) ([]models.Lot, error) {
	var out []models.Lot
	for id := int64(1); id <= r.nextID; id++ {
		if lot, ok := r.lots[id]; ok && lot.Status == status {
			out = append(out, *lot)
		}
	}
	return out, nil
}

func (r *mockRepo) RecentLots(limit int) ([]models.Lot, error) {
	var out []models.Lot
	for id := r.nextID; id >= 1 && len(out) < limit; id-- {
		if lot, ok := r.lots[id]; ok {
			out = append(out, *lot)
		}
	}
	return out, nil
}

func (r *mockRepo) Close() error { return nil }

func testConfig() *models.Config {
	return &models.Config{
		Market:         "KRW-BTC",
		TotalKRW:       2_000_000,
		Slices:         50,
		BuyStepPct:     2.0,
		SellTPPct:      3.0,
		DryRun:         true,
		PollSec:        2.0,
		ReconcileEvery: 15,
		ReportEvery:    150,
	}
}

func newTestRunner(cfg *models.Config, ex *mockExchange, repo *mockRepo) *Runner {
	return New(cfg, ex, repo, nil, zap.NewNop().Sugar())
}

func TestDisabledBotDoesNothing(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.runCycle())

	assert.Zero(t, ex.buyCalls)
	assert.Zero(t, ex.sellCalls)
	require.NotNil(t, repo.state, "first cycle must create the default state")
	assert.False(t, repo.state.Enabled)
	assert.Nil(t, repo.state.FirstEntryPrice, "disabled bot must not set the anchor")
}

func TestFirstEnabledCycleOnlySetsAnchor(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.runCycle())

	require.NotNil(t, repo.state.FirstEntryPrice)
	assert.Equal(t, 50_000_000.0, *repo.state.FirstEntryPrice)
	assert.Zero(t, ex.buyCalls, "anchor-setting cycle must not buy")

	// Price rises; the anchor must not follow it.
	ex.price = 60_000_000
	require.NoError(t, r.runCycle())
	assert.Equal(t, 50_000_000.0, *repo.state.FirstEntryPrice)
	assert.Zero(t, ex.buyCalls)
}

func TestBuyAtAnchorOpensLot(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	anchor := 50_000_000.0
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	repo.state.FirstEntryPrice = &anchor
	cfg := testConfig()
	r := newTestRunner(cfg, ex, repo)

	require.NoError(t, r.runCycle())

	assert.Equal(t, 1, ex.buyCalls)
	assert.Equal(t, 1, ex.sellCalls)
	assert.Equal(t, 1, repo.state.SlicesBought)

	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	lot := open[0]
	assert.Equal(t, cfg.SliceKRW(), lot.BuyKRW)
	assert.Equal(t, "buy-1", lot.BuyOrderID)
	assert.Equal(t, "sell-1", lot.SellOrderID)
	// 3% above 50M, tick-rounded to 1000 KRW.
	assert.Equal(t, 51_500_000.0, lot.SellTargetPrice)
	assert.Equal(t, 51_500_000.0, ex.lastSellPrice)
	assert.InDelta(t, float64(cfg.SliceKRW())/50_000_000.0, ex.lastSellQty, 1e-12)

	// Same price again: level 2 needs a 2% drop, so no second buy.
	require.NoError(t, r.runCycle())
	assert.Equal(t, 1, ex.buyCalls)
}

func TestSellFailureLeavesLotPendingUntilReconcile(t *testing.T) {
	ex := newMockExchange(50_000_000)
	ex.sellErr = errors.New("upbit down")
	repo := newMockRepo()
	anchor := 50_000_000.0
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	repo.state.FirstEntryPrice = &anchor
	r := newTestRunner(testConfig(), ex, repo)

	// Buy succeeds, sell fails. The cycle itself must not error out.
	require.NoError(t, r.runCycle())
	assert.Equal(t, 1, ex.buyCalls)
	assert.Equal(t, 1, repo.state.SlicesBought, "the buy still counts against the grid")

	pending, err := repo.LotsByStatus(models.LotPendingSell)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Exchange recovers; reconcile re-places the sell.
	ex.sellErr = nil
	require.NoError(t, r.reconcile())

	pending, err = repo.LotsByStatus(models.LotPendingSell)
	require.NoError(t, err)
	assert.Empty(t, pending)
	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "sell-1", open[0].SellOrderID)
}

func TestReconcileCorrectsQtyFromExecutedVolume(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	now := time.Now().UTC()
	lot := &models.Lot{
		BuyPrice:        50_000_000,
		BuyQty:          0.0008, // estimate written at buy time
		BuyKRW:          40_000,
		SellTargetPrice: 51_500_000,
		Status:          models.LotPendingSell,
		BuyOrderID:      "buy-x",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.InsertLot(lot))
	ex.orders["buy-x"] = &models.OrderResult{
		UUID: "buy-x", State: models.OrderStateDone, ExecutedVolume: 0.00079,
	}
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.reconcile())

	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 0.00079, open[0].BuyQty, "qty must come from the real fill")
	assert.Equal(t, 0.00079, ex.lastSellQty)
}

func TestReconcileMarksSoldOnDoneSell(t *testing.T) {
	ex := newMockExchange(52_000_000)
	repo := newMockRepo()
	now := time.Now().UTC()
	lot := &models.Lot{
		BuyPrice:        50_000_000,
		BuyQty:          0.0008,
		BuyKRW:          40_000,
		SellTargetPrice: 51_500_000,
		Status:          models.LotOpen,
		BuyOrderID:      "buy-x",
		SellOrderID:     "sell-x",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.InsertLot(lot))
	ex.orders["sell-x"] = &models.OrderResult{
		UUID: "sell-x", State: models.OrderStateDone, ExecutedVolume: 0.0008,
	}
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.reconcile())

	sold, err := repo.LotsByStatus(models.LotSold)
	require.NoError(t, err)
	require.Len(t, sold, 1)
	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReconcileKeepsPartiallyFilledCancelOpen(t *testing.T) {
	ex := newMockExchange(52_000_000)
	repo := newMockRepo()
	now := time.Now().UTC()
	lot := &models.Lot{
		BuyQty: 0.0008, Status: models.LotOpen, SellOrderID: "sell-x",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.InsertLot(lot))
	ex.orders["sell-x"] = &models.OrderResult{
		UUID: "sell-x", State: models.OrderStateCancel, Volume: 0.0008, ExecutedVolume: 0.0003,
	}
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.reconcile())

	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	require.Len(t, open, 1, "a partially filled cancel needs an operator, not automation")
	assert.Zero(t, ex.sellCalls)
}

func TestReconcileReplacesCleanCancelledSell(t *testing.T) {
	ex := newMockExchange(52_000_000)
	repo := newMockRepo()
	now := time.Now().UTC()
	lot := &models.Lot{
		BuyQty: 0.0008, SellTargetPrice: 51_500_000, Status: models.LotOpen,
		SellOrderID: "sell-x", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.InsertLot(lot))
	ex.orders["sell-x"] = &models.OrderResult{
		UUID: "sell-x", State: models.OrderStateCancel, Volume: 0.0008, ExecutedVolume: 0,
	}
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.reconcile())

	open, err := repo.LotsByStatus(models.LotOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "sell-1", open[0].SellOrderID, "a fresh sell must replace the cancelled one")
}

func TestBuyBookkeepingIsAtomic(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	anchor := 50_000_000.0
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	repo.state.FirstEntryPrice = &anchor
	repo.recordBuyErr = errors.New("disk full")
	r := newTestRunner(testConfig(), ex, repo)

	// The combined write fails: the lot and the slice count must both
	// stay unrecorded, never one without the other.
	assert.Error(t, r.runCycle())
	assert.Equal(t, 0, repo.state.SlicesBought)
	assert.Empty(t, repo.lots)

	// The next cycle retries the same level and the ledger ends up with
	// exactly one lot matching slices_bought (no duplicate level).
	require.NoError(t, r.runCycle())
	assert.Equal(t, 1, repo.state.SlicesBought)
	assert.Len(t, repo.lots, 1)

	require.NoError(t, r.runCycle())
	assert.Equal(t, 1, repo.state.SlicesBought, "level 1 must not be bought twice")
	assert.Len(t, repo.lots, 1)
}

func TestEveryCycleTouchesHeartbeat(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	anchor := 40_000_000.0 // price well above the anchor, nothing to buy
	past := time.Now().UTC().Add(-time.Hour)
	repo.state = &models.BotState{ID: 1, Enabled: true, FirstEntryPrice: &anchor, UpdatedAt: past}
	r := newTestRunner(testConfig(), ex, repo)

	require.NoError(t, r.runCycle())

	assert.Zero(t, ex.buyCalls)
	assert.True(t, repo.state.UpdatedAt.After(past), "a no-op cycle must still refresh updated_at")

	stamp := repo.state.UpdatedAt
	require.NoError(t, r.runCycle())
	assert.True(t, repo.state.UpdatedAt.After(stamp) || repo.state.UpdatedAt.Equal(stamp))
	assert.GreaterOrEqual(t, repo.saveCalls, 2)
}

func TestPriceFetchErrorSkipsCycleWithoutWrites(t *testing.T) {
	ex := newMockExchange(0)
	ex.priceErr = errors.New("timeout")
	repo := newMockRepo()
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	r := newTestRunner(testConfig(), ex, repo)

	saves := repo.saveCalls
	assert.Error(t, r.runCycle())
	assert.Equal(t, saves, repo.saveCalls, "a failed cycle must not write state")
	assert.Zero(t, ex.buyCalls)
}

func TestSlicesGuardRefusesBuyAtLimit(t *testing.T) {
	ex := newMockExchange(50_000_000)
	repo := newMockRepo()
	anchor := 100_000_000.0 // price far below anchor, every level eligible
	repo.state = models.NewBotState()
	repo.state.Enabled = true
	repo.state.FirstEntryPrice = &anchor
	cfg := testConfig()
	cfg.Slices = 2
	repo.state.SlicesBought = 2
	r := newTestRunner(cfg, ex, repo)

	require.NoError(t, r.runCycle())
	assert.Zero(t, ex.buyCalls, "grid exhaustion must block further buys")
}
