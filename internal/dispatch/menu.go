package dispatch

import (
	"fmt"
	"sync"

	"subjectfix/internal/domain"
)

const MenuID = "remove-extern-selected"

// Menu is the context menu entry offered on message lists.
var Menu = domain.MenuItem{
	ID:       MenuID,
	Title:    "Remove [EXTERN] prefix",
	Contexts: []string{"message_list"},
}

// Registry holds the menu entries registered at process start.
type Registry struct {
	mu    sync.RWMutex
	items []domain.MenuItem
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(item domain.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == "" {
		return fmt.Errorf("menu item without id")
	}
	for _, it := range r.items {
		if it.ID == item.ID {
			return fmt.Errorf("menu item %q already registered", item.ID)
		}
	}
	r.items = append(r.items, item)
	return nil
}

func (r *Registry) Items() []domain.MenuItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.MenuItem(nil), r.items...)
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it.ID == id {
			return true
		}
	}
	return false
}
