package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/model"
)

// ErrNotFound is returned when an item does not exist in the user's collection.
var ErrNotFound = errors.New("item not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemCols = `id, name, count, expiration_date, created_at, updated_at`

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var item model.Item
	err := scanner.Scan(&item.ID, &item.Name, &item.Count, &item.ExpirationDate, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts a new item into a user's collection and returns it with its assigned ID.
func CreateItem(ctx context.Context, db querier, userID string, d model.Draft) (*model.Item, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, user_id, name, count, expiration_date) VALUES (?, ?, ?, ?, ?)`,
		id, userID, d.Name, d.Count, d.ExpirationDate,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	item, err := GetItem(ctx, db, userID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("creating item: %w", ErrNotFound)
	}
	return item, nil
}

// GetItem returns one item, or nil if the user has no item with that ID.
func GetItem(ctx context.Context, db querier, userID, id string) (*model.Item, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM items WHERE user_id = ? AND id = ?`, userID, id,
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns every item in a user's collection in insertion order.
func ListItems(ctx context.Context, db querier, userID string) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemCols+` FROM items WHERE user_id = ? ORDER BY rowid`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem merges a patch into an item. Nil patch fields keep their value.
func UpdateItem(ctx context.Context, db querier, userID, id string, p model.Patch) error {
	var name, date sql.NullString
	var count sql.NullInt64
	if p.Name != nil {
		name = sql.NullString{String: *p.Name, Valid: true}
	}
	if p.Count != nil {
		count = sql.NullInt64{Int64: int64(*p.Count), Valid: true}
	}
	if p.ExpirationDate != nil {
		date = sql.NullString{String: *p.ExpirationDate, Valid: true}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE items SET
		     name = COALESCE(?, name),
		     count = COALESCE(?, count),
		     expiration_date = COALESCE(?, expiration_date),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND id = ?`,
		name, count, date, userID, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return requireOneRow(result, "updating item")
}

// DeleteItem permanently removes an item.
func DeleteItem(ctx context.Context, db querier, userID, id string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM items WHERE user_id = ? AND id = ?`, userID, id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return requireOneRow(result, "deleting item")
}

// ApplyBatch runs all operations in a single transaction. Either every
// operation is applied or none is.
func ApplyBatch(ctx context.Context, db *sql.DB, userID string, ops []model.Operation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		switch op.Kind {
		case model.OpCreate:
			_, err = CreateItem(ctx, tx, userID, op.Draft)
		case model.OpUpdate:
			err = UpdateItem(ctx, tx, userID, op.ItemID, op.Patch)
		case model.OpDelete:
			err = DeleteItem(ctx, tx, userID, op.ItemID)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch operation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func requireOneRow(result sql.Result, action string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", action, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	}
	return nil
}

// Collection adapts the item functions to the per-user document collection
// used by the inventory controller.
type Collection struct {
	DB *sql.DB
}

// NewCollection returns a Collection backed by db.
func NewCollection(db *sql.DB) *Collection {
	return &Collection{DB: db}
}

// ListAll returns the user's full collection.
func (c *Collection) ListAll(ctx context.Context, userID string) ([]model.Item, error) {
	return ListItems(ctx, c.DB, userID)
}

// Create adds a document and returns it with its assigned ID.
func (c *Collection) Create(ctx context.Context, userID string, d model.Draft) (model.Item, error) {
	item, err := CreateItem(ctx, c.DB, userID, d)
	if err != nil {
		return model.Item{}, err
	}
	return *item, nil
}

// Update patches a document.
func (c *Collection) Update(ctx context.Context, userID, itemID string, p model.Patch) error {
	return UpdateItem(ctx, c.DB, userID, itemID, p)
}

// Delete removes a document.
func (c *Collection) Delete(ctx context.Context, userID, itemID string) error {
	return DeleteItem(ctx, c.DB, userID, itemID)
}

// BatchWrite applies ops atomically.
func (c *Collection) BatchWrite(ctx context.Context, userID string, ops []model.Operation) error {
	return ApplyBatch(ctx, c.DB, userID, ops)
}
