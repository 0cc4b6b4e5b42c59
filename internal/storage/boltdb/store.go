// Package boltdb is the embedded single-node store. Every write goes through
// one bolt read-write transaction at a time, so transactions are serialized
// and the capacity checks done inside them are authoritative.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

var (
	bucketResources   = []byte("resources")
	bucketOrders      = []byte("orders")
	bucketAssignments = []byte("assignments")
	bucketRefunds     = []byte("refund_requests")
	bucketDeliveries  = []byte("webhook_deliveries")
)

// Store implements every repository port plus the transactor.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketResources, bucketOrders, bucketAssignments, bucketRefunds, bucketDeliveries} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type txKey struct{}

// WithTx runs fn in a read-write transaction. Nested calls join the
// transaction carried by ctx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func txFromContext(ctx context.Context) *bolt.Tx {
	tx, _ := ctx.Value(txKey{}).(*bolt.Tx)
	return tx
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.View(fn)
}

func getJSON(b *bolt.Bucket, key string, out any) (bool, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return false, nil
	}
	return true, decode([]byte(key), v, out)
}

func decode(key, value []byte, out any) error {
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(b *bolt.Bucket, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrInvalidID
	}
	return nil
}

// Ping opens and closes a read transaction.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(*bolt.Tx) error { return nil })
}
