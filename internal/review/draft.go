// Package review stages parsed line items so an operator can correct them
// before they are committed. A Draft lives in memory only.
package review

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zombor/inventory-tracker/internal/parsing"
)

var (
	// ErrIndexOutOfRange is returned for an index that does not name an entry
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownField is returned when Edit names a field entries do not have
	ErrUnknownField = errors.New("unknown field")
)

// Editable fields
const (
	FieldName        = "name"
	FieldQuantity    = "quantity"
	FieldUnitPrice   = "unit_price"
	FieldCategory    = "category"
	FieldDescription = "description"
)

// Item is one staged line item
type Item struct {
	Name        string        `json:"name"`
	Quantity    int           `json:"quantity"`
	UnitPrice   parsing.Money `json:"unit_price"`
	Category    string        `json:"category,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Subtotal returns quantity times unit price
func (e Item) Subtotal() parsing.Money {
	return e.UnitPrice.Mul(e.Quantity)
}

// Draft holds entries in parser order. It is not safe for concurrent use.
type Draft struct {
	entries []Item
}

// NewDraft copies items into a new Draft
func NewDraft(items []parsing.LineItem) *Draft {
	entries := make([]Item, 0, len(items))
	for _, item := range items {
		entries = append(entries, Item{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return &Draft{entries: entries}
}

// Len returns the number of entries
func (d *Draft) Len() int {
	return len(d.entries)
}

// Items returns a copy of the entries in order
func (d *Draft) Items() []Item {
	return append([]Item(nil), d.entries...)
}

// Total sums the entry subtotals in minor units
func (d *Draft) Total() parsing.Money {
	var total parsing.Money
	for _, e := range d.entries {
		total = total.Add(e.Subtotal())
	}
	return total
}

// Edit sets one field of the entry at index. Numeric values that cannot be
// read, or are negative, are stored as 0 rather than rejected.
func (d *Draft) Edit(index int, field, value string) error {
	if err := d.check(index); err != nil {
		return err
	}

	e := &d.entries[index]
	switch strings.ToLower(strings.TrimSpace(field)) {
	case FieldName:
		e.Name = strings.Join(strings.Fields(value), " ")
	case FieldQuantity, "qty":
		e.Quantity = coerceQuantity(value)
	case FieldUnitPrice, "price", "unitprice":
		e.UnitPrice = coerceMoney(value)
	case FieldCategory:
		e.Category = strings.TrimSpace(value)
	case FieldDescription:
		e.Description = strings.TrimSpace(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Remove deletes the entry at index, keeping the order of the rest
func (d *Draft) Remove(index int) error {
	if err := d.check(index); err != nil {
		return err
	}
	d.entries = append(d.entries[:index], d.entries[index+1:]...)
	return nil
}

func (d *Draft) check(index int) error {
	if index < 0 || index >= len(d.entries) {
		return fmt.Errorf("%w: %d (draft has %d entries)", ErrIndexOutOfRange, index, len(d.entries))
	}
	return nil
}

// coerceQuantity reads an integer quantity; fractions truncate and values
// above the parser's limit are clamped to it
func coerceQuantity(value string) int {
	value = strings.TrimSpace(value)
	if q, err := strconv.Atoi(value); err == nil {
		return min(max(q, 0), parsing.MaxQuantity)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int(min(f, parsing.MaxQuantity))
}

// coerceMoney reads a price the way the parser does
func coerceMoney(value string) parsing.Money {
	m, err := parsing.ParseMoney(value)
	if err != nil || m < 0 {
		return 0
	}
	return m
}
