package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"upbit-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the Repository.
// State and lots are stored as JSON values; lot keys embed a
// zero-padded sequence number so key order equals insertion order.
type badgerRepository struct {
	db       *badger.DB
	seq      *badger.Sequence
	stateKey []byte
}

const lotKeyPrefix = "lot:"

// NewBadgerRepository creates and returns a new repository instance
// connected to a BadgerDB database at dir.
func NewBadgerRepository(dir string) (Repository, error) {
	opts := badger.DefaultOptions(dir)
	// Disable Badger's own logging to keep the app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte("lot_seq"), 64)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &badgerRepository{
		db:       db,
		seq:      seq,
		stateKey: []byte("bot_state"),
	}, nil
}

func lotKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%012d", lotKeyPrefix, id))
}

// LoadState loads the bot state. If the state key is not found, it
// returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState() (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState atomically saves the entire bot state.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// InsertLot assigns the next sequence number and persists the lot.
func (r *badgerRepository) InsertLot(lot *models.Lot) error {
	next, err := r.seq.Next()
	if err != nil {
		return err
	}
	lot.ID = int64(next) + 1 // sequences start at 0, lot ids at 1

	data, err := json.Marshal(lot)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lotKey(lot.ID), data)
	})
}

// RecordBuy writes the lot and the updated state in one Badger
// transaction, so a crash can never leave a lot without its matching
// slices_bought increment.
func (r *badgerRepository) RecordBuy(lot *models.Lot, state *models.BotState) error {
	next, err := r.seq.Next()
	if err != nil {
		return err
	}
	lot.ID = int64(next) + 1

	lotData, err := json.Marshal(lot)
	if err != nil {
		return err
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(lotKey(lot.ID), lotData); err != nil {
			return err
		}
		return txn.Set(r.stateKey, stateData)
	})
}

// UpdateLot rewrites an existing lot by ID.
func (r *badgerRepository) UpdateLot(lot *models.Lot) error {
	data, err := json.Marshal(lot)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(lotKey(lot.ID)); err != nil {
			return fmt.Errorf("lot %d not found: %w", lot.ID, err)
		}
		return txn.Set(lotKey(lot.ID), data)
	})
}

// LotsByStatus iterates all lots and filters by status, oldest first.
func (r *badgerRepository) LotsByStatus(status models.LotStatus) ([]models.Lot, error) {
	var lots []models.Lot
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(lotKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(lotKeyPrefix)); it.ValidForPrefix([]byte(lotKeyPrefix)); it.Next() {
			var lot models.Lot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &lot)
			})
			if err != nil {
				return err
			}
			if lot.Status == status {
				lots = append(lots, lot)
			}
		}
		return nil
	})
	return lots, err
}

// RecentLots iterates in reverse key order, newest first.
func (r *badgerRepository) RecentLots(limit int) ([]models.Lot, error) {
	var lots []models.Lot
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(lotKeyPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode the seek key must sort after every lot key.
		seek := append([]byte(lotKeyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(lotKeyPrefix)) && len(lots) < limit; it.Next() {
			var lot models.Lot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &lot)
			})
			if err != nil {
				return err
			}
			lots = append(lots, lot)
		}
		return nil
	})
	return lots, err
}

// Close releases the lot sequence and closes the database.
func (r *badgerRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
