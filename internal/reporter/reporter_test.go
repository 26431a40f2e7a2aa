package reporter

import (
	"testing"
	"time"

	"upbit-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderStatus(t *testing.T) {
	cfg := &models.Config{Market: "KRW-BTC", TotalKRW: 2_000_000, Slices: 50, DryRun: true}
	anchor := 50_000_000.0
	state := &models.BotState{ID: 1, Enabled: true, FirstEntryPrice: &anchor, SlicesBought: 2}
	now := time.Now().UTC()
	lots := []models.Lot{
		{ID: 2, Status: models.LotOpen, BuyPrice: 49_000_000, BuyQty: 0.00081632, BuyKRW: 40_000, SellTargetPrice: 50_470_000, SellOrderID: "abcd-efgh-ijkl-mnop", CreatedAt: now},
		{ID: 1, Status: models.LotSold, BuyPrice: 50_000_000, BuyQty: 0.0008, BuyKRW: 40_000, SellTargetPrice: 51_500_000, SellOrderID: "sold-order", CreatedAt: now},
	}

	out := RenderStatus(cfg, state, 49_500_000, lots)

	assert.Contains(t, out, "KRW-BTC")
	assert.Contains(t, out, "2/50")
	assert.Contains(t, out, "50000000")
	assert.Contains(t, out, "OPEN")
	assert.Contains(t, out, "SOLD")
	assert.NotContains(t, out, "abcd-efgh-ijkl-mnop", "long order ids are shortened")
}

func TestRenderStatusNoLots(t *testing.T) {
	cfg := &models.Config{Market: "KRW-BTC", TotalKRW: 2_000_000, Slices: 50}
	out := RenderStatus(cfg, models.NewBotState(), 0, nil)
	assert.Contains(t, out, "no lots yet")
	assert.Contains(t, out, "unset")
}
