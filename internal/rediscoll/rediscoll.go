// Package rediscoll stores pantry collections in Redis. Each item is a JSON
// document under its own key; a per-user set indexes the document IDs.
package rediscoll

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/model"
)

// ErrNotFound is returned when an item does not exist in the user's collection.
var ErrNotFound = errors.New("item not found")

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "shramba"

// Store is a Redis-backed document collection.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New creates a Store on client. An empty prefix selects DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) itemKey(userID, id string) string {
	return fmt.Sprintf("%s:%s:item:%s", s.prefix, userID, id)
}

func (s *Store) setKey(userID string) string {
	return fmt.Sprintf("%s:%s:items", s.prefix, userID)
}

// ListAll returns the user's items ordered by creation time.
func (s *Store) ListAll(ctx context.Context, userID string) ([]model.Item, error) {
	ids, err := s.client.SMembers(ctx, s.setKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing item ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.itemKey(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}

	items := make([]model.Item, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading item: %w", err)
		}
		var item model.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("decoding item: %w", err)
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b model.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

// Create stores a new document and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, userID string, d model.Draft) (model.Item, error) {
	item := s.newItem(d, s.now().UTC())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.queueSave(ctx, pipe, userID, item)
	})
	if err != nil {
		return model.Item{}, fmt.Errorf("creating item: %w", err)
	}
	return item, nil
}

// Update merges p into an existing document.
func (s *Store) Update(ctx context.Context, userID, itemID string, p model.Patch) error {
	return s.BatchWrite(ctx, userID, []model.Operation{model.UpdateOp(itemID, p)})
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, userID, itemID string) error {
	return s.BatchWrite(ctx, userID, []model.Operation{model.DeleteOp(itemID)})
}

// BatchWrite applies ops in one MULTI/EXEC transaction. Documents touched by
// updates and deletes are watched, so a concurrent change aborts the batch.
func (s *Store) BatchWrite(ctx context.Context, userID string, ops []model.Operation) error {
	var watched []string
	for _, op := range ops {
		if op.Kind != model.OpCreate {
			watched = append(watched, s.itemKey(userID, op.ItemID))
		}
	}

	txf := func(tx *redis.Tx) error {
		existing := make(map[string]model.Item)
		for _, op := range ops {
			if op.Kind == model.OpCreate {
				continue
			}
			if _, seen := existing[op.ItemID]; seen {
				continue
			}
			item, err := s.get(ctx, tx, userID, op.ItemID)
			if err != nil {
				return err
			}
			existing[op.ItemID] = item
		}

		now := s.now().UTC()
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, op := range ops {
				switch op.Kind {
				case model.OpCreate:
					item := s.newItem(op.Draft, now.Add(time.Duration(i)))
					if err := s.queueSave(ctx, pipe, userID, item); err != nil {
						return err
					}
				case model.OpUpdate:
					item := op.Patch.Apply(existing[op.ItemID])
					item.UpdatedAt = now
					existing[op.ItemID] = item
					if err := s.queueSave(ctx, pipe, userID, item); err != nil {
						return err
					}
				case model.OpDelete:
					pipe.Del(ctx, s.itemKey(userID, op.ItemID))
					pipe.SRem(ctx, s.setKey(userID), op.ItemID)
				default:
					return fmt.Errorf("unknown operation kind %q", op.Kind)
				}
			}
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, watched...); err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, tx *redis.Tx, userID, id string) (model.Item, error) {
	data, err := tx.Get(ctx, s.itemKey(userID, id)).Bytes()
	if err == redis.Nil {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("getting item: %w", err)
	}
	var item model.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return model.Item{}, fmt.Errorf("decoding item: %w", err)
	}
	return item, nil
}

func (s *Store) newItem(d model.Draft, at time.Time) model.Item {
	return model.Item{
		ID:             uuid.NewString(),
		Name:           d.Name,
		Count:          d.Count,
		ExpirationDate: d.ExpirationDate,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func (s *Store) queueSave(ctx context.Context, pipe redis.Pipeliner, userID string, item model.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding item: %w", err)
	}
	pipe.Set(ctx, s.itemKey(userID, item.ID), data, 0)
	pipe.SAdd(ctx, s.setKey(userID), item.ID)
	return nil
}
