package model

import (
	"cmp"
	"fmt"
)

// Bucket is a stock filter over the collection.
type Bucket string

// Stock buckets.
const (
	BucketAll        Bucket = "all"
	BucketLowStock   Bucket = "lowStock"
	BucketOutOfStock Bucket = "outOfStock"
)

// ParseBucket validates a bucket name.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(s); b {
	case BucketAll, BucketLowStock, BucketOutOfStock:
		return b, nil
	}
	return "", fmt.Errorf("unknown bucket %q", s)
}

// Match reports whether an item with count belongs in the bucket.
func (b Bucket) Match(count int) bool {
	switch b {
	case BucketLowStock:
		return IsLowStock(count)
	case BucketOutOfStock:
		return IsOutOfStock(count)
	}
	return true
}

// SortColumn names a sortable item field.
type SortColumn string

// Sortable columns.
const (
	SortByName           SortColumn = "name"
	SortByCount          SortColumn = "count"
	SortByExpirationDate SortColumn = "expirationDate"
)

// ParseSortColumn validates a column name.
func ParseSortColumn(s string) (SortColumn, error) {
	switch c := SortColumn(s); c {
	case SortByName, SortByCount, SortByExpirationDate:
		return c, nil
	}
	return "", fmt.Errorf("unknown sort column %q", s)
}

// Compare orders a and b by the column. It returns a negative number when
// a sorts first, zero when equal and a positive number otherwise.
func (c SortColumn) Compare(a, b Item) int {
	switch c {
	case SortByCount:
		return cmp.Compare(a.Count, b.Count)
	case SortByExpirationDate:
		return cmp.Compare(a.ExpirationDate, b.ExpirationDate)
	}
	return cmp.Compare(a.Name, b.Name)
}

// SortDirection is ascending or descending.
type SortDirection string

// Sort directions.
const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// Sort is the active ordering of the visible list.
type Sort struct {
	Column    SortColumn    `json:"column"`
	Direction SortDirection `json:"direction"`
}
