package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/comfortillo/chat-relay/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltJournal implements the Journal interface using a BoltDB backend. It keeps one record per relay
// exchange, keyed by a bucket sequence so that iteration follows insertion order, plus an index from
// exchange ID to that key so a record can be finished after it began.
type BoltJournal struct {
	db *bolt.DB
}

var (
	exchangesBucket = []byte("exchanges")
	exchangeIDIndex = []byte("exchange-ids")
)

// NewBoltJournal creates a new BoltJournal instance with the specified file path. It initializes the
// database with required buckets and returns an error if the database cannot be opened or initialized.
// The database file is created with 0600 permissions if it doesn't exist.
func NewBoltJournal(path string) (BoltJournal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltJournal{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(exchangesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(exchangeIDIndex)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltJournal{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltJournal{db: db}, nil
}

// Close closes the underlying database file.
func (b BoltJournal) Close() error {
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Begin stores a new exchange record.
func (b BoltJournal) Begin(_ context.Context, ex models.Exchange) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		exchanges := tx.Bucket(exchangesBucket)
		index := tx.Bucket(exchangeIDIndex)

		if index.Get([]byte(ex.ID)) != nil {
			return fmt.Errorf("exchange %s already exists", ex.ID)
		}

		seq, err := exchanges.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key := sequenceKey(seq)

		v, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("failed to marshal exchange: %w", err)
		}

		if err := index.Put([]byte(ex.ID), key); err != nil {
			return err
		}
		return exchanges.Put(key, v)
	})
}

// Finish overwrites the record of an exchange that was begun earlier. Finishing an unknown exchange
// is an error.
func (b BoltJournal) Finish(_ context.Context, ex models.Exchange) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(exchangeIDIndex).Get([]byte(ex.ID))
		if key == nil {
			return fmt.Errorf("exchange %s not found", ex.ID)
		}

		v, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("failed to marshal exchange: %w", err)
		}

		return tx.Bucket(exchangesBucket).Put(key, v)
	})
}

// Recent returns up to limit exchanges, newest first. A non-positive limit returns every record.
func (b BoltJournal) Recent(_ context.Context, limit int) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(exchangesBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(exchanges) >= limit {
				break
			}
			var ex models.Exchange
			if err := json.Unmarshal(v, &ex); err != nil {
				return fmt.Errorf("failed to unmarshal exchange: %w", err)
			}
			exchanges = append(exchanges, ex)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exchanges, nil
}
