package ledger

import (
	"fmt"
	"strings"

	"upbit-grid-bot-go/internal/models"
)

// Repository defines the interface for the position ledger. It abstracts
// the underlying storage mechanism (SQLite, BadgerDB) from the rest of
// the application. The runner is the single writer; the dashboard side
// only flips Enabled / resets the anchor through SaveState.
type Repository interface {
	// LoadState loads the singleton bot state.
	// If no state has been persisted yet, it returns (nil, nil).
	LoadState() (*models.BotState, error)

	// SaveState atomically creates or replaces the singleton bot state.
	SaveState(state *models.BotState) error

	// InsertLot persists a new lot and fills in its assigned ID.
	InsertLot(lot *models.Lot) error

	// RecordBuy persists a freshly bought lot and the updated bot state
	// in a single transaction, filling in the lot's assigned ID. Either
	// both writes land or neither does.
	RecordBuy(lot *models.Lot, state *models.BotState) error

	// UpdateLot rewrites an existing lot by ID.
	UpdateLot(lot *models.Lot) error

	// LotsByStatus returns all lots currently in the given status,
	// oldest first.
	LotsByStatus(status models.LotStatus) ([]models.Lot, error)

	// RecentLots returns up to limit lots, newest first.
	RecentLots(limit int) ([]models.Lot, error)

	// Close gracefully closes the connection to the database.
	Close() error
}

// Open selects a backend from the DB URL scheme:
//
//	sqlite://db/grid.db  (also the fallback for a bare path)
//	badger://db/grid
func Open(dbURL string) (Repository, error) {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		return NewSQLiteRepository(strings.TrimPrefix(dbURL, "sqlite://"))
	case strings.HasPrefix(dbURL, "badger://"):
		return NewBadgerRepository(strings.TrimPrefix(dbURL, "badger://"))
	case strings.Contains(dbURL, "://"):
		return nil, fmt.Errorf("不支持的存储地址: %s", dbURL)
	default:
		return NewSQLiteRepository(dbURL)
	}
}
