package shopping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"shopassist/internal/gateway"

	"github.com/sirupsen/logrus"
)

// ErrEmptyName is returned when creating a list without a name.
var ErrEmptyName = errors.New("list name must not be empty")

// ListBackend is the part of the gateway Lists uses.
type ListBackend interface {
	ShoppingLists(ctx context.Context, userID string) ([]gateway.ShoppingList, error)
	CreateShoppingList(ctx context.Context, name, userID string) (*gateway.ShoppingList, error)
	DeleteShoppingList(ctx context.Context, listID string) error
}

// UserSource yields the signed-in user id.
type UserSource interface {
	UserID() string
}

// Lists is the signed-in user's collection of shopping lists.
type Lists struct {
	backend ListBackend
	users   UserSource
	logger  *logrus.Logger

	mu    sync.RWMutex
	lists []gateway.ShoppingList
}

func NewLists(backend ListBackend, users UserSource, logger *logrus.Logger) *Lists {
	return &Lists{backend: backend, users: users, logger: logger}
}

// Load replaces the collection with the backend's. Without a session the
// collection is emptied and no request is made.
func (l *Lists) Load(ctx context.Context) ([]gateway.ShoppingList, error) {
	userID := l.users.UserID()
	if userID == "" {
		l.logger.Warn("No session, skipping shopping list fetch")
		l.set(nil)
		return nil, nil
	}

	lists, err := l.backend.ShoppingLists(ctx, userID)
	if err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Error("Failed to fetch shopping lists")
		return nil, fmt.Errorf("failed to fetch shopping lists: %w", err)
	}
	l.set(lists)
	return l.All(), nil
}

func (l *Lists) Create(ctx context.Context, name string) (*gateway.ShoppingList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	userID := l.users.UserID()
	if userID == "" {
		return nil, gateway.ErrNoSession
	}

	list, err := l.backend.CreateShoppingList(ctx, name, userID)
	if err != nil {
		l.logger.WithError(err).WithField("name", name).Error("Failed to create shopping list")
		return nil, fmt.Errorf("failed to create shopping list: %w", err)
	}

	l.mu.Lock()
	l.lists = append(l.lists, *list)
	l.mu.Unlock()
	l.logger.WithFields(logrus.Fields{"list_id": list.ID, "name": list.Name}).Info("Shopping list created")
	return list, nil
}

func (l *Lists) Delete(ctx context.Context, listID string) error {
	if err := l.backend.DeleteShoppingList(ctx, listID); err != nil {
		l.logger.WithError(err).WithField("list_id", listID).Error("Failed to delete shopping list")
		return fmt.Errorf("failed to delete shopping list: %w", err)
	}

	l.mu.Lock()
	kept := l.lists[:0]
	for _, list := range l.lists {
		if list.ID != listID {
			kept = append(kept, list)
		}
	}
	l.lists = kept
	l.mu.Unlock()
	return nil
}

// All returns a copy of the collection.
func (l *Lists) All() []gateway.ShoppingList {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]gateway.ShoppingList, len(l.lists))
	copy(out, l.lists)
	return out
}

// Find returns the list with id.
func (l *Lists) Find(listID string) (gateway.ShoppingList, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, list := range l.lists {
		if list.ID == listID {
			return list, true
		}
	}
	return gateway.ShoppingList{}, false
}

func (l *Lists) set(lists []gateway.ShoppingList) {
	l.mu.Lock()
	l.lists = append([]gateway.ShoppingList(nil), lists...)
	l.mu.Unlock()
}
