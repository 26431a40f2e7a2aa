package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"upbit-grid-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// sqliteRepository is the SQLite implementation of the Repository.
type sqliteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and if necessary creates) the SQLite database
// at path and ensures the schema exists.
func NewSQLiteRepository(path string) (Repository, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &sqliteRepository{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// BotState table holds the overall switch/anchor/progress state.
	// This table will only ever have one row.
	createBotStateTableSQL := `
	CREATE TABLE IF NOT EXISTS bot_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled BOOLEAN NOT NULL,
		first_entry_price REAL,
		slices_bought INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createBotStateTableSQL); err != nil {
		return err
	}

	// Lots table: append-mostly. Rows only ever mutate status, quantity
	// (fill correction) and the sell order reference.
	createLotsTableSQL := `
	CREATE TABLE IF NOT EXISTS lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		buy_price REAL NOT NULL,
		buy_qty REAL NOT NULL,
		buy_krw INTEGER NOT NULL,
		sell_target_price REAL NOT NULL,
		status TEXT NOT NULL,
		buy_order_id TEXT,
		sell_order_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createLotsTableSQL); err != nil {
		return err
	}

	return nil
}

// LoadState retrieves the bot state. It returns (nil, nil) when the
// singleton row does not exist yet.
func (r *sqliteRepository) LoadState() (*models.BotState, error) {
	query := `
	SELECT id, enabled, first_entry_price, slices_bought, updated_at
	FROM bot_state WHERE id = 1;`

	var state models.BotState
	var anchor sql.NullFloat64
	err := r.db.QueryRow(query).Scan(
		&state.ID,
		&state.Enabled,
		&anchor,
		&state.SlicesBought,
		&state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if anchor.Valid {
		state.FirstEntryPrice = &anchor.Float64
	}
	return &state, nil
}

const upsertStateSQL = `
	INSERT INTO bot_state (id, enabled, first_entry_price, slices_bought, updated_at)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		enabled = excluded.enabled,
		first_entry_price = excluded.first_entry_price,
		slices_bought = excluded.slices_bought,
		updated_at = excluded.updated_at;`

const insertLotSQL = `
	INSERT INTO lots (buy_price, buy_qty, buy_krw, sell_target_price, status, buy_order_id, sell_order_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// stateArgs flattens the singleton state into the upsert's bind order.
func stateArgs(state *models.BotState) []interface{} {
	var anchor sql.NullFloat64
	if state.FirstEntryPrice != nil {
		anchor = sql.NullFloat64{Float64: *state.FirstEntryPrice, Valid: true}
	}
	return []interface{}{state.Enabled, anchor, state.SlicesBought, state.UpdatedAt}
}

func lotArgs(lot *models.Lot) []interface{} {
	return []interface{}{
		lot.BuyPrice, lot.BuyQty, lot.BuyKRW, lot.SellTargetPrice,
		string(lot.Status), lot.BuyOrderID, lot.SellOrderID,
		lot.CreatedAt, lot.UpdatedAt,
	}
}

// SaveState creates or updates the single row in the bot_state table.
func (r *sqliteRepository) SaveState(state *models.BotState) error {
	if _, err := r.db.Exec(upsertStateSQL, stateArgs(state)...); err != nil {
		return fmt.Errorf("failed to save bot state: %w", err)
	}
	return nil
}

// InsertLot inserts a new lot and records the assigned row id.
func (r *sqliteRepository) InsertLot(lot *models.Lot) error {
	res, err := r.db.Exec(insertLotSQL, lotArgs(lot)...)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lot id: %w", err)
	}
	lot.ID = id
	return nil
}

// RecordBuy inserts the lot and rewrites the bot state in one
// transaction, so a crash can never leave a lot without its matching
// slices_bought increment.
func (r *sqliteRepository) RecordBuy(lot *models.Lot, state *models.BotState) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin buy transaction: %w", err)
	}

	res, err := tx.Exec(insertLotSQL, lotArgs(lot)...)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to read lot id: %w", err)
	}
	if _, err := tx.Exec(upsertStateSQL, stateArgs(state)...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save bot state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit buy transaction: %w", err)
	}

	lot.ID = id
	return nil
}

// UpdateLot updates an existing lot in the database.
func (r *sqliteRepository) UpdateLot(lot *models.Lot) error {
	query := `
	UPDATE lots
	SET buy_qty = ?, status = ?, sell_order_id = ?, updated_at = ?
	WHERE id = ?`

	_, err := r.db.Exec(query, lot.BuyQty, string(lot.Status), lot.SellOrderID, lot.UpdatedAt, lot.ID)
	if err != nil {
		return fmt.Errorf("failed to update lot %d: %w", lot.ID, err)
	}
	return nil
}

// LotsByStatus returns all lots in the given status, oldest first.
func (r *sqliteRepository) LotsByStatus(status models.LotStatus) ([]models.Lot, error) {
	query := `
	SELECT id, buy_price, buy_qty, buy_krw, sell_target_price, status, buy_order_id, sell_order_id, created_at, updated_at
	FROM lots WHERE status = ? ORDER BY id ASC`

	rows, err := r.db.Query(query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()
	return scanLots(rows)
}

// RecentLots returns up to limit lots, newest first.
func (r *sqliteRepository) RecentLots(limit int) ([]models.Lot, error) {
	query := `
	SELECT id, buy_price, buy_qty, buy_krw, sell_target_price, status, buy_order_id, sell_order_id, created_at, updated_at
	FROM lots ORDER BY id DESC LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent lots: %w", err)
	}
	defer rows.Close()
	return scanLots(rows)
}

func scanLots(rows *sql.Rows) ([]models.Lot, error) {
	var lots []models.Lot
	for rows.Next() {
		var lot models.Lot
		var status string
		var buyOrderID, sellOrderID sql.NullString
		if err := rows.Scan(
			&lot.ID, &lot.BuyPrice, &lot.BuyQty, &lot.BuyKRW, &lot.SellTargetPrice,
			&status, &buyOrderID, &sellOrderID, &lot.CreatedAt, &lot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lot row: %w", err)
		}
		lot.Status = models.LotStatus(status)
		lot.BuyOrderID = buyOrderID.String
		lot.SellOrderID = sellOrderID.String
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// Close gracefully closes the connection to the database.
func (r *sqliteRepository) Close() error {
	return r.db.Close()
}
