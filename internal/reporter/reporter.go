package reporter

import (
	"fmt"
	"strings"

	"upbit-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderStatus formats the bot state and the most recent lots as text
// tables for the periodic log report and the status CLI mode.
func RenderStatus(cfg *models.Config, state *models.BotState, price float64, lots []models.Lot) string {
	var sb strings.Builder

	summary := table.NewWriter()
	summary.SetStyle(table.StyleLight)
	summary.AppendHeader(table.Row{"Market", "Enabled", "Anchor", "Price", "Slices", "Slice KRW", "Dry Run"})
	summary.AppendRow(table.Row{
		cfg.Market,
		state.Enabled,
		anchorText(state.FirstEntryPrice),
		fmt.Sprintf("%.0f", price),
		fmt.Sprintf("%d/%d", state.SlicesBought, cfg.Slices),
		cfg.SliceKRW(),
		cfg.DryRun,
	})
	sb.WriteString(summary.Render())
	sb.WriteByte('\n')

	if len(lots) == 0 {
		sb.WriteString("no lots yet\n")
		return sb.String()
	}

	lt := table.NewWriter()
	lt.SetStyle(table.StyleLight)
	lt.AppendHeader(table.Row{"Lot", "Status", "Buy Price", "Qty", "KRW", "Sell Target", "Sell Order"})
	lt.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Buy Price", Align: text.AlignRight},
		{Name: "Qty", Align: text.AlignRight},
		{Name: "KRW", Align: text.AlignRight},
		{Name: "Sell Target", Align: text.AlignRight},
	})
	for _, lot := range lots {
		lt.AppendRow(table.Row{
			lot.ID,
			string(lot.Status),
			fmt.Sprintf("%.0f", lot.BuyPrice),
			fmt.Sprintf("%.8f", lot.BuyQty),
			lot.BuyKRW,
			fmt.Sprintf("%.0f", lot.SellTargetPrice),
			shorten(lot.SellOrderID),
		})
	}
	sb.WriteString(lt.Render())
	sb.WriteByte('\n')
	return sb.String()
}

func anchorText(p *float64) string {
	if p == nil {
		return "unset"
	}
	return fmt.Sprintf("%.0f", *p)
}

func shorten(id string) string {
	if len(id) > 13 {
		return id[:13] + "…"
	}
	return id
}
