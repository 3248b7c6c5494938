// Package inventory keeps an in-memory mirror of each user's pantry
// collection and derives the filtered, sorted view shown to the user.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/erazemk/shramba/internal/classify"
	"github.com/erazemk/shramba/internal/csvimport"
	"github.com/erazemk/shramba/internal/model"
)

// Collection is the remote document store holding every user's items.
type Collection interface {
	ListAll(ctx context.Context, userID string) ([]model.Item, error)
	Create(ctx context.Context, userID string, d model.Draft) (model.Item, error)
	Update(ctx context.Context, userID, itemID string, p model.Patch) error
	Delete(ctx context.Context, userID, itemID string) error
	BatchWrite(ctx context.Context, userID string, ops []model.Operation) error
}

// Notifier receives a change event after every successful mutation.
type Notifier interface {
	Notify(userID string, ev model.ChangeEvent)
}

// ConfirmFunc is asked before a destructive bulk operation with the number
// of items about to be removed.
type ConfirmFunc func(n int) bool

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier publishes change events to n.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithClassifier enables SuggestName.
func WithClassifier(cl classify.Classifier) Option {
	return func(c *Controller) { c.classifier = cl }
}

// View is a snapshot of what the user currently sees.
type View struct {
	Items   []model.Item  `json:"items"`
	Search  string        `json:"search"`
	Filter  model.Bucket  `json:"filter"`
	Sort    *model.Sort   `json:"sort"`
	Summary model.Summary `json:"summary"`
}

// ImportResult reports the outcome of a CSV import.
type ImportResult struct {
	Imported int                  `json:"imported"`
	Rejected []csvimport.RowError `json:"rejected"`
}

// Controller owns one user's mirror. All methods are safe for concurrent use
// and are serialised, remote calls included.
type Controller struct {
	coll       Collection
	notifier   Notifier
	classifier classify.Classifier

	mu      sync.Mutex
	userID  string
	all     []model.Item
	visible []model.Item
	search  string
	filter  model.Bucket
	sort    *model.Sort
}

// New returns an empty controller. Call Load before editing.
func New(coll Collection, opts ...Option) *Controller {
	c := &Controller{coll: coll, filter: model.BucketAll}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the mirror with the user's remote collection. On failure the
// previous state is kept.
func (c *Controller) Load(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, userID)
}

// EnsureLoaded loads the collection unless it is already loaded for userID.
func (c *Controller) EnsureLoaded(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == userID && userID != "" {
		return nil
	}
	return c.load(ctx, userID)
}

func (c *Controller) load(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNotSignedIn
	}
	items, err := c.coll.ListAll(ctx, userID)
	if err != nil {
		slog.Error("failed to load inventory", "user", userID, "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	c.userID = userID
	c.all = items
	c.recompute()
	c.notify(model.ChangeEvent{Type: model.EventInventoryLoaded, Count: len(items)})
	return nil
}

// UserID returns the user whose collection is loaded, or "".
func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SetSearchText shows items whose name contains text, ignoring case. A
// non-empty search resets the bucket filter to all.
func (c *Controller) SetSearchText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search = text
	if text != "" {
		c.filter = model.BucketAll
	}
	c.recompute()
}

// SetFilter shows only items in bucket and clears the search text.
func (c *Controller) SetFilter(bucket model.Bucket) error {
	b, err := model.ParseBucket(string(bucket))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownFilter, bucket)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = b
	c.search = ""
	c.recompute()
	return nil
}

// SetSort orders the view by column. Selecting the active column again flips
// the direction; a new column starts ascending.
func (c *Controller) SetSort(column model.SortColumn) error {
	col, err := model.ParseSortColumn(string(column))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownSortColumn, column)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := model.Sort{Column: col, Direction: model.Ascending}
	if c.sort != nil && c.sort.Column == col && c.sort.Direction == model.Ascending {
		next.Direction = model.Descending
	}
	c.sort = &next
	c.recompute()
	return nil
}

// AddItem creates an item remotely and adds it to the mirror.
func (c *Controller) AddItem(ctx context.Context, d model.Draft) (model.Item, error) {
	date, err := model.NormalizeDate(d.ExpirationDate)
	if err != nil {
		return model.Item{}, err
	}
	d.ExpirationDate = date

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return model.Item{}, ErrNotSignedIn
	}

	item, err := c.coll.Create(ctx, c.userID, d)
	if err != nil {
		slog.Error("failed to create item", "user", c.userID, "name", d.Name, "error", err)
		return model.Item{}, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}
	c.all = append(c.all, item)
	c.recompute()
	c.notify(model.ChangeEvent{Type: model.EventItemCreated, ItemID: item.ID, Item: &item})
	return item, nil
}

// UpdateItem applies p to the mirror first and then remotely. If the remote
// update fails the local item is restored.
func (c *Controller) UpdateItem(ctx context.Context, id string, p model.Patch) (model.Item, error) {
	if p.ExpirationDate != nil {
		date, err := model.NormalizeDate(*p.ExpirationDate)
		if err != nil {
			return model.Item{}, err
		}
		p.ExpirationDate = &date
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return model.Item{}, ErrNotSignedIn
	}

	i := c.indexOf(id)
	if i < 0 {
		return model.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	original := c.all[i]
	if p.Empty() {
		return original, nil
	}

	updated := p.Apply(original)
	c.all[i] = updated
	c.recompute()

	if err := c.coll.Update(ctx, c.userID, id, p); err != nil {
		slog.Error("failed to update item", "user", c.userID, "item", id, "error", err)
		c.all[i] = original
		c.recompute()
		return model.Item{}, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}

	updated.UpdatedAt = time.Now().UTC()
	c.all[i] = updated
	c.recompute()
	c.notify(model.ChangeEvent{Type: model.EventItemUpdated, ItemID: id, Item: &updated})
	return updated, nil
}

// DeleteItem removes an item remotely and then from the mirror.
func (c *Controller) DeleteItem(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return ErrNotSignedIn
	}

	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err := c.coll.Delete(ctx, c.userID, id); err != nil {
		slog.Error("failed to delete item", "user", c.userID, "item", id, "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}

	c.all = slices.Delete(c.all, i, i+1)
	c.recompute()
	c.notify(model.ChangeEvent{Type: model.EventItemDeleted, ItemID: id})
	return nil
}

// DeleteAll removes every item in the remote collection in one batch once
// confirm agrees. It returns the number of documents deleted.
func (c *Controller) DeleteAll(ctx context.Context, confirm ConfirmFunc) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return 0, ErrNotSignedIn
	}
	if confirm == nil || !confirm(len(c.all)) {
		return 0, ErrConfirmationDeclined
	}

	remote, err := c.coll.ListAll(ctx, c.userID)
	if err != nil {
		slog.Error("failed to list inventory for delete", "user", c.userID, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	if len(remote) > 0 {
		ops := make([]model.Operation, 0, len(remote))
		for _, it := range remote {
			ops = append(ops, model.DeleteOp(it.ID))
		}
		if err := c.coll.BatchWrite(ctx, c.userID, ops); err != nil {
			slog.Error("failed to delete inventory", "user", c.userID, "error", err)
			return 0, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
		}
	}

	c.all = nil
	c.recompute()
	c.notify(model.ChangeEvent{Type: model.EventInventoryCleared, Count: len(remote)})
	return len(remote), nil
}

// ImportCSV creates one item per accepted CSV row in a single batch and then
// reloads the collection. Rejected rows are returned, not fatal.
func (c *Controller) ImportCSV(ctx context.Context, raw string) (ImportResult, error) {
	if strings.TrimSpace(raw) == "" {
		return ImportResult{}, ErrEmptyInput
	}

	drafts, rejected, err := csvimport.Normalize(raw)
	if err != nil {
		return ImportResult{}, err
	}
	result := ImportResult{Rejected: rejected}
	if len(drafts) == 0 {
		return result, ErrNoValidRecords
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return ImportResult{}, ErrNotSignedIn
	}

	ops := make([]model.Operation, 0, len(drafts))
	for _, d := range drafts {
		ops = append(ops, model.CreateOp(d))
	}
	if err := c.coll.BatchWrite(ctx, c.userID, ops); err != nil {
		slog.Error("failed to import items", "user", c.userID, "rows", len(ops), "error", err)
		return result, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}
	result.Imported = len(ops)
	c.notify(model.ChangeEvent{Type: model.EventInventoryImported, Count: result.Imported})

	items, err := c.coll.ListAll(ctx, c.userID)
	if err != nil {
		slog.Error("failed to reload inventory after import", "user", c.userID, "error", err)
		return result, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	c.all = items
	c.recompute()
	return result, nil
}

// View returns a copy of the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Items:   slices.Clone(c.visible),
		Search:  c.search,
		Filter:  c.filter,
		Summary: model.Summarize(c.all),
	}
	if v.Items == nil {
		v.Items = []model.Item{}
	}
	if c.sort != nil {
		s := *c.sort
		v.Sort = &s
	}
	return v
}

// Summary counts the whole collection per stock bucket.
func (c *Controller) Summary() model.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Summarize(c.all)
}

// SuggestName returns the classifier's best label for image. It reports
// false when no classifier is configured or classification fails.
func (c *Controller) SuggestName(ctx context.Context, image []byte) (string, bool) {
	if c.classifier == nil {
		return "", false
	}
	preds, err := c.classifier.Classify(ctx, image)
	if err != nil {
		slog.Warn("image classification failed", "error", err)
		return "", false
	}
	top, ok := classify.Top(preds)
	if !ok {
		return "", false
	}
	return top.Label, true
}

// Reset forgets the user and every derived value.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.all = nil
	c.visible = nil
	c.search = ""
	c.filter = model.BucketAll
	c.sort = nil
}

func (c *Controller) indexOf(id string) int {
	return slices.IndexFunc(c.all, func(it model.Item) bool { return it.ID == id })
}

// recompute rebuilds visible from all. Must be called with mu held.
func (c *Controller) recompute() {
	visible := make([]model.Item, 0, len(c.all))
	if c.search != "" {
		q := strings.ToLower(c.search)
		for _, it := range c.all {
			if strings.Contains(strings.ToLower(it.Name), q) {
				visible = append(visible, it)
			}
		}
	} else {
		for _, it := range c.all {
			if c.filter.Match(it.Count) {
				visible = append(visible, it)
			}
		}
	}

	if c.sort != nil {
		col, desc := c.sort.Column, c.sort.Direction == model.Descending
		slices.SortStableFunc(visible, func(a, b model.Item) int {
			if desc {
				return col.Compare(b, a)
			}
			return col.Compare(a, b)
		})
	}
	c.visible = visible
}

func (c *Controller) notify(ev model.ChangeEvent) {
	if c.notifier != nil {
		c.notifier.Notify(c.userID, ev)
	}
}
