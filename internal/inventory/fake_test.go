package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/erazemk/shramba/internal/classify"
	"github.com/erazemk/shramba/internal/model"
)

var errBoom = errors.New("boom")

// fakeCollection is an in-memory Collection with failure injection.
type fakeCollection struct {
	mu     sync.Mutex
	items  map[string][]model.Item
	nextID int

	failList, failCreate, failUpdate, failDelete, failBatch bool

	lists, deletes, batches int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{items: make(map[string][]model.Item)}
}

func (f *fakeCollection) seed(userID string, drafts ...model.Draft) {
	for _, d := range drafts {
		f.Create(context.Background(), userID, d)
	}
}

func (f *fakeCollection) ListAll(_ context.Context, userID string) ([]model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.failList {
		return nil, errBoom
	}
	return slices.Clone(f.items[userID]), nil
}

func (f *fakeCollection) Create(_ context.Context, userID string, d model.Draft) (model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return model.Item{}, errBoom
	}
	return f.create(userID, d), nil
}

func (f *fakeCollection) create(userID string, d model.Draft) model.Item {
	f.nextID++
	item := model.Item{
		ID:             fmt.Sprintf("doc-%d", f.nextID),
		Name:           d.Name,
		Count:          d.Count,
		ExpirationDate: d.ExpirationDate,
	}
	f.items[userID] = append(f.items[userID], item)
	return item
}

func (f *fakeCollection) Update(_ context.Context, userID, itemID string, p model.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return errBoom
	}
	items := f.items[userID]
	for i := range items {
		if items[i].ID == itemID {
			items[i] = p.Apply(items[i])
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeCollection) Delete(_ context.Context, userID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failDelete {
		return errBoom
	}
	return f.remove(userID, itemID)
}

func (f *fakeCollection) remove(userID, itemID string) error {
	items := f.items[userID]
	i := slices.IndexFunc(items, func(it model.Item) bool { return it.ID == itemID })
	if i < 0 {
		return errors.New("not found")
	}
	f.items[userID] = slices.Delete(items, i, i+1)
	return nil
}

func (f *fakeCollection) BatchWrite(_ context.Context, userID string, ops []model.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.failBatch {
		return errBoom
	}
	for _, op := range ops {
		switch op.Kind {
		case model.OpCreate:
			f.create(userID, op.Draft)
		case model.OpDelete:
			f.deletes++
			f.remove(userID, op.ItemID)
		}
	}
	return nil
}

func (f *fakeCollection) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[userID])
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (n *recordingNotifier) Notify(_ string, ev model.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type stubClassifier struct {
	preds []classify.Prediction
	err   error
}

func (s stubClassifier) Classify(context.Context, []byte) ([]classify.Prediction, error) {
	return s.preds, s.err
}
