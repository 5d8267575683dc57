package inventory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	itemsBucketName = "items"
	plansBucketName = "plans"
)

// BoltStore implements Store and PlanStore using BoltDB. Each owner gets a
// nested bucket under items, keyed by the bucket sequence so iteration
// follows insertion order.
type BoltStore struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	return NewBoltStoreWithDeps(path, &uuidGenerator{}, &defaultTimeSource{})
}

// NewBoltStoreWithDeps opens the database with custom dependencies for testing
func NewBoltStoreWithDeps(path string, idGen IDGenerator, timeSrc TimeSource) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(plansBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, idGenerator: idGen, timeSource: timeSrc}, nil
}

// AddItem saves an item in the owner's bucket
func (b *BoltStore) AddItem(ctx context.Context, item *Item, ownerKey string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := prepare(item, ownerKey, b.idGenerator, b.timeSource)
	if err != nil {
		return nil, err
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(itemsBucketName)).CreateBucketIfNotExists([]byte(ownerKey))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListItems returns the owner's items in insertion order
func (b *BoltStore) ListItems(ctx context.Context, ownerKey string) ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemsBucketName)).Bucket([]byte(ownerKey))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CountItems returns the number of items in the owner's bucket
func (b *BoltStore) CountItems(ctx context.Context, ownerKey string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemsBucketName)).Bucket([]byte(ownerKey))
		if bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}

// GetPlan returns the owner's plan, or PlanFree when none is stored
func (b *BoltStore) GetPlan(ctx context.Context, ownerKey string) (Plan, error) {
	plan := PlanFree
	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(plansBucketName)).Get([]byte(ownerKey)); data != nil {
			plan = Plan(data)
		}
		return nil
	})
	return plan, err
}

// SetPlan stores the owner's plan
func (b *BoltStore) SetPlan(ctx context.Context, ownerKey string, plan Plan) error {
	if _, err := plan.Limit(ResourceInventoryItems); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(plansBucketName)).Put([]byte(ownerKey), []byte(plan))
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
