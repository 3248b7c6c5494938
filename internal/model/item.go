package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Item is one pantry record owned by a single user.
type Item struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Count          int       `json:"count"`
	ExpirationDate string    `json:"expirationDate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Draft holds the fields of an item that has not been persisted yet.
type Draft struct {
	Name           string `json:"name"`
	Count          int    `json:"count"`
	ExpirationDate string `json:"expirationDate"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name           *string `json:"name,omitempty"`
	Count          *int    `json:"count,omitempty"`
	ExpirationDate *string `json:"expirationDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Count == nil && p.ExpirationDate == nil
}

// Apply returns a copy of item with the patch merged in.
func (p Patch) Apply(item Item) Item {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Count != nil {
		item.Count = *p.Count
	}
	if p.ExpirationDate != nil {
		item.ExpirationDate = *p.ExpirationDate
	}
	return item
}

// Stock thresholds.
const (
	LowStockThreshold = 5
)

// IsOutOfStock reports whether count means the item is gone.
func IsOutOfStock(count int) bool {
	return count <= 0
}

// IsLowStock reports whether count is positive but at or below the low-stock threshold.
func IsLowStock(count int) bool {
	return count > 0 && count <= LowStockThreshold
}

// Summary counts items per stock bucket. LowStock counts every item at or
// below the threshold, so it includes OutOfStock.
type Summary struct {
	Total      int `json:"total"`
	LowStock   int `json:"lowStock"`
	OutOfStock int `json:"outOfStock"`
}

// Summarize computes the stock summary of items.
func Summarize(items []Item) Summary {
	s := Summary{Total: len(items)}
	for _, it := range items {
		if it.Count <= LowStockThreshold {
			s.LowStock++
		}
		if IsOutOfStock(it.Count) {
			s.OutOfStock++
		}
	}
	return s
}

// OpKind is the kind of a batched write.
type OpKind string

// Batch operation kinds.
const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one entry in an atomic batch write.
type Operation struct {
	Kind   OpKind
	ItemID string
	Draft  Draft
	Patch  Patch
}

// CreateOp builds a create operation.
func CreateOp(d Draft) Operation {
	return Operation{Kind: OpCreate, Draft: d}
}

// DeleteOp builds a delete operation.
func DeleteOp(itemID string) Operation {
	return Operation{Kind: OpDelete, ItemID: itemID}
}

// UpdateOp builds an update operation.
func UpdateOp(itemID string, p Patch) Operation {
	return Operation{Kind: OpUpdate, ItemID: itemID, Patch: p}
}

// DateLayout is the only representation stored for expiration dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned when an expiration date cannot be parsed.
var ErrInvalidDate = errors.New("invalid expiration date")

// dayFirstLayouts are the day-month-year forms accepted on input.
var dayFirstLayouts = []string{
	"02-01-2006", "2-1-2006",
	"02/01/2006", "2/1/2006",
	"02.01.2006", "2.1.2006",
}

// NormalizeDate converts an expiration date to YYYY-MM-DD. Empty input stays
// empty. Day-first input such as 01-06-2024 becomes 2024-06-01.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
