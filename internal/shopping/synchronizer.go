package shopping

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shopassist/internal/gateway"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoListSelected is returned by mutations before SelectList.
	ErrNoListSelected = errors.New("no shopping list selected")
	// ErrStaleList is returned when the selected list changed while a
	// request was in flight; its result was dropped.
	ErrStaleList = errors.New("shopping list changed during request")
)

// Backend is the part of the gateway the synchronizer uses.
type Backend interface {
	ShoppingListItems(ctx context.Context, listID string) ([]gateway.ShoppingListItem, error)
	AddShoppingListItem(ctx context.Context, listID string, delta gateway.ItemDelta) (*gateway.ShoppingListItem, error)
	Product(ctx context.Context, productID string) (*gateway.Product, error)
}

// Snapshot is the committed state handed to subscribers.
type Snapshot struct {
	ListID     string
	Version    uint64
	Quantities map[string]int
}

// Line is one product row of the selected list.
type Line struct {
	ProductID string
	Quantity  int
	Product   *gateway.Product
}

// Synchronizer owns the product quantities of the selected list. Local state
// only changes after the backend acknowledged a mutation.
type Synchronizer struct {
	backend Backend
	logger  *logrus.Logger

	mu          sync.Mutex
	list        *gateway.ShoppingList
	generation  uint64
	ready       chan struct{}
	version     uint64
	quantities  map[string]int
	order       []string
	products    map[string]*gateway.Product
	locks       map[string]*sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

func NewSynchronizer(backend Backend, logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		backend:     backend,
		logger:      logger,
		quantities:  map[string]int{},
		products:    map[string]*gateway.Product{},
		locks:       map[string]*sync.Mutex{},
		subscribers: map[int]func(Snapshot){},
	}
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *Synchronizer) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// SelectList discards the working set and loads the items of list. When the
// fetch fails the selection still switches, with an empty map. Mutations wait
// until the fetch has been committed.
func (s *Synchronizer) SelectList(ctx context.Context, list gateway.ShoppingList) error {
	ready := make(chan struct{})
	defer close(ready)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.ready = ready
	s.list = &list
	s.quantities = map[string]int{}
	s.order = nil
	s.products = map[string]*gateway.Product{}
	s.locks = map[string]*sync.Mutex{}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)

	log := s.logger.WithField("list_id", list.ID)

	items, err := s.backend.ShoppingListItems(ctx, list.ID)
	if err != nil {
		log.WithError(err).Error("Failed to fetch shopping list items")
		return fmt.Errorf("failed to fetch items for list %s: %w", list.ID, err)
	}
	items = EnrichItems(ctx, s.backend, items, s.logger)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug("Dropping items of a list that is no longer selected")
		return ErrStaleList
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if _, seen := s.quantities[item.ProductID]; !seen {
			s.order = append(s.order, item.ProductID)
		}
		s.quantities[item.ProductID] += item.Quantity
		if item.Product != nil {
			s.products[item.ProductID] = item.Product
		}
	}
	snap, subs = s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)

	log.WithField("products", len(snap.Quantities)).Info("Shopping list selected")
	return nil
}

// Increment adds one unit of productID and returns the committed quantity.
func (s *Synchronizer) Increment(ctx context.Context, productID string) (int, error) {
	qty, _, err := s.mutate(ctx, productID, 1)
	return qty, err
}

// Decrement removes one unit of productID. It returns false without calling
// the backend when the product is not on the list.
func (s *Synchronizer) Decrement(ctx context.Context, productID string) (bool, error) {
	_, applied, err := s.mutate(ctx, productID, -1)
	return applied, err
}

func (s *Synchronizer) mutate(ctx context.Context, productID string, delta int) (int, bool, error) {
	s.mu.Lock()
	if s.list == nil {
		s.mu.Unlock()
		return 0, false, ErrNoListSelected
	}
	gen := s.generation
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return 0, false, ErrStaleList
	}
	listID := s.list.ID
	lock, ok := s.locks[productID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[productID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if delta < 0 {
		s.mu.Lock()
		_, present := s.quantities[productID]
		stale := gen != s.generation
		s.mu.Unlock()
		if stale {
			return 0, false, ErrStaleList
		}
		if !present {
			return 0, false, nil
		}
	}

	log := s.logger.WithFields(logrus.Fields{"list_id": listID, "product_id": productID, "delta": delta})

	item, err := s.backend.AddShoppingListItem(ctx, listID, gateway.ItemDelta{ProductID: productID, Quantity: delta})
	if err != nil {
		log.WithError(err).Error("Failed to update shopping list item")
		return 0, false, fmt.Errorf("failed to update quantity of %s: %w", productID, err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug("Dropping mutation result for a list that is no longer selected")
		return 0, false, ErrStaleList
	}
	current, present := s.quantities[productID]
	next := current + delta
	if item != nil && item.ProductID == productID {
		next = item.Quantity
	}
	if next <= 0 {
		delete(s.quantities, productID)
		s.removeFromOrderLocked(productID)
	} else {
		if !present {
			s.order = append(s.order, productID)
		}
		s.quantities[productID] = next
	}
	if next < 0 {
		next = 0
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)

	log.WithField("quantity", next).Debug("Quantity committed")
	return next, true, nil
}

func (s *Synchronizer) removeFromOrderLocked(productID string) {
	for i, id := range s.order {
		if id == productID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Synchronizer) snapshotLocked() (Snapshot, []func(Snapshot)) {
	s.version++
	snap := Snapshot{Version: s.version, Quantities: make(map[string]int, len(s.quantities))}
	if s.list != nil {
		snap.ListID = s.list.ID
	}
	for k, v := range s.quantities {
		snap.Quantities[k] = v
	}
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return snap, subs
}

func publish(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Quantities returns a copy of the committed quantity map.
func (s *Synchronizer) Quantities() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.quantities))
	for k, v := range s.quantities {
		out[k] = v
	}
	return out
}

// Quantity returns the committed quantity of productID.
func (s *Synchronizer) Quantity(productID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quantities[productID]
	return q, ok
}

// Selected returns the selected list.
func (s *Synchronizer) Selected() (gateway.ShoppingList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		return gateway.ShoppingList{}, false
	}
	return *s.list, true
}

// Lines returns the products on the selected list in the order they were
// first seen.
func (s *Synchronizer) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]Line, 0, len(s.order))
	for _, id := range s.order {
		lines = append(lines, Line{ProductID: id, Quantity: s.quantities[id], Product: s.products[id]})
	}
	return lines
}
