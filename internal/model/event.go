package model

// Change event types published after inventory mutations.
const (
	EventItemCreated       = "item.created"
	EventItemUpdated       = "item.updated"
	EventItemDeleted       = "item.deleted"
	EventInventoryCleared  = "inventory.cleared"
	EventInventoryImported = "inventory.imported"
	EventInventoryLoaded   = "inventory.loaded"
)

// ChangeEvent describes one change to a user's inventory.
type ChangeEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId,omitempty"`
	Item   *Item  `json:"item,omitempty"`
	Count  int    `json:"count,omitempty"`
}
