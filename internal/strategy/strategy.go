package strategy

import (
	"fmt"
	"math"
)

// Plan describes the action the runner should take for one polling cycle.
// A zero Plan is a no-op.
type Plan struct {
	ShouldBuy       bool
	BuyKRW          int64
	BuyReason       string
	ShouldPlaceSell bool
	SellPrice       float64
}

// DecisionInput carries everything DecideNext needs. The function is pure:
// it never touches the exchange, the ledger or the clock.
type DecisionInput struct {
	Enabled         bool
	CurPrice        float64
	FirstEntryPrice *float64 // nil until the anchor is established
	SlicesBought    int
	SlicesTotal     int
	SliceKRW        int64
	BuyStepPct      float64
	SellTPPct       float64
	Ticks           TickTable // nil selects DefaultKRWTicks
}

// DecideNext computes the anchor and the plan for the current cycle.
//
// The returned anchor pointer equals FirstEntryPrice unless the anchor was
// not set yet, in which case it points at CurPrice and the plan is a no-op:
// the first invocation after enabling only establishes the reference price,
// it never buys. Buy levels are linear from the anchor (level 1 triggers at
// the anchor itself, each further level BuyStepPct lower, not compounding).
func DecideNext(in DecisionInput) (*float64, Plan) {
	if !in.Enabled {
		return in.FirstEntryPrice, Plan{BuyReason: "bot_disabled"}
	}

	if in.FirstEntryPrice == nil {
		anchor := in.CurPrice
		return &anchor, Plan{BuyReason: "set_first_entry_anchor_only"}
	}

	nextLevel := in.SlicesBought + 1 // 1-based
	if nextLevel > in.SlicesTotal {
		return in.FirstEntryPrice, Plan{BuyReason: "all_slices_used"}
	}

	targetBuyPrice := *in.FirstEntryPrice * (1.0 - in.BuyStepPct/100.0*float64(nextLevel-1))
	if in.CurPrice <= targetBuyPrice {
		ticks := in.Ticks
		if ticks == nil {
			ticks = DefaultKRWTicks
		}
		sellPrice := ticks.Round(in.CurPrice * (1.0 + in.SellTPPct/100.0))
		return in.FirstEntryPrice, Plan{
			ShouldBuy:       true,
			BuyKRW:          in.SliceKRW,
			BuyReason:       fmt.Sprintf("price<=target_level(%d)", nextLevel),
			ShouldPlaceSell: true,
			SellPrice:       sellPrice,
		}
	}

	return in.FirstEntryPrice, Plan{BuyReason: "waiting_for_next_level"}
}

// TickBand maps the half-open price range [prev.Upper, Upper) to a price
// increment. The final band must have Upper set to +Inf.
type TickBand struct {
	Upper float64
	Unit  float64
}

// TickTable is an ordered list of tick bands for one quote currency.
// Markets outside KRW need their own table; the exchange rejects orders
// whose price is not a multiple of the band unit.
type TickTable []TickBand

// DefaultKRWTicks is the simplified KRW price unit table used by Upbit.
var DefaultKRWTicks = TickTable{
	{Upper: 10, Unit: 0.01},
	{Upper: 100, Unit: 0.1},
	{Upper: 1_000, Unit: 1},
	{Upper: 10_000, Unit: 5},
	{Upper: 100_000, Unit: 10},
	{Upper: 500_000, Unit: 50},
	{Upper: 1_000_000, Unit: 100},
	{Upper: 2_000_000, Unit: 500},
	{Upper: math.Inf(1), Unit: 1_000},
}

// Round floors price to the nearest valid tick. Rounding an already
// rounded price returns it unchanged, and the result never exceeds the
// input.
func (t TickTable) Round(price float64) float64 {
	for _, band := range t {
		if price < band.Upper {
			return math.Floor(price/band.Unit) * band.Unit
		}
	}
	// Unreachable with a well-formed table; fall back to whole units.
	return math.Floor(price)
}
