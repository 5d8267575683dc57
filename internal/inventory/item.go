// Package inventory persists inventory items, tracks plan quotas and commits
// reviewed receipt items in batches that tolerate partial failure.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/inventory-tracker/internal/parsing"
)

// Stock statuses derived from quantity
const (
	StatusOutOfStock   = "Out of Stock"
	StatusLimitedStock = "Limited Stock"
	StatusInStock      = "In Stock"
)

// DateLayout is the ISO-8601 date format of Item.DateAdded
const DateLayout = "2006-01-02"

// ErrItemNotFound is returned when an item does not exist for the owner
var ErrItemNotFound = errors.New("item not found")

// Item is a persisted inventory record
type Item struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	OwnerKey    string        `json:"owner_key" gorm:"index;not null"`
	Name        string        `json:"name" gorm:"not null"`
	Category    string        `json:"category"`
	Quantity    int           `json:"quantity"`
	UnitPrice   parsing.Money `json:"unit_price"` // minor units
	Description string        `json:"description,omitempty"`
	Status      string        `json:"status"`
	DateAdded   string        `json:"date_added"`
	CreatedAt   time.Time     `json:"created_at"`
}

// StatusForQuantity maps a quantity to its stock status
func StatusForQuantity(quantity int) string {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= 10:
		return StatusLimitedStock
	default:
		return StatusInStock
	}
}

// Store is the inventory store boundary
type Store interface {
	// AddItem persists item for ownerKey and returns the stored record
	AddItem(ctx context.Context, item *Item, ownerKey string) (*Item, error)

	// ListItems returns the owner's items in insertion order
	ListItems(ctx context.Context, ownerKey string) ([]*Item, error)

	// CountItems returns how many items the owner has
	CountItems(ctx context.Context, ownerKey string) (int, error)

	// Close closes the store
	Close() error
}

// IDGenerator generates unique IDs for items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// prepare fills in the fields a store owns before saving
func prepare(item *Item, ownerKey string, ids IDGenerator, clock TimeSource) (*Item, error) {
	if ownerKey == "" {
		return nil, fmt.Errorf("%w: owner key is required", ErrInvalidItem)
	}
	stored := *item
	if stored.ID == "" {
		stored.ID = ids.Generate()
	}
	now := clock.Now()
	stored.OwnerKey = ownerKey
	stored.Status = StatusForQuantity(stored.Quantity)
	if stored.DateAdded == "" {
		stored.DateAdded = now.Format(DateLayout)
	}
	stored.CreatedAt = now
	return &stored, nil
}
