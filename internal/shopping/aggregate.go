package shopping

import (
	"context"
	"fmt"
	"math"
	"sync"

	"shopassist/internal/gateway"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// UnassignedStore groups items that have no store.
const UnassignedStore = "unassigned"

const maxConcurrentLookups = 8

// Cents is an amount of money in hundredths.
type Cents int64

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// StoreGroup is the part of a list bought at one store.
type StoreGroup struct {
	StoreID  string
	Name     string
	Items    []gateway.ShoppingListItem
	Subtotal Cents
}

// ItemCost returns price × quantity; ok is false when the item has no price.
func ItemCost(item gateway.ShoppingListItem) (Cents, bool) {
	if item.Product == nil || item.Product.Price == nil {
		return 0, false
	}
	unit := Cents(math.Round(*item.Product.Price * 100))
	return unit * Cents(item.Quantity), true
}

// GroupByStore partitions items by preferred store. Groups appear in the
// order their store is first seen and keep the item order.
func GroupByStore(items []gateway.ShoppingListItem) []StoreGroup {
	var groups []StoreGroup
	index := map[string]int{}
	for _, item := range items {
		key := item.PreferredStoreID
		if key == "" {
			key = UnassignedStore
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, StoreGroup{StoreID: key})
		}
		groups[i].Items = append(groups[i].Items, item)
		if cost, ok := ItemCost(item); ok {
			groups[i].Subtotal += cost
		}
	}
	return groups
}

// Total sums the priced items of all groups. Items without a price are skipped.
func Total(groups []StoreGroup) Cents {
	var total Cents
	for _, g := range groups {
		for _, item := range g.Items {
			if cost, ok := ItemCost(item); ok {
				total += cost
			}
		}
	}
	return total
}

// StoreSource looks up stores by id.
type StoreSource interface {
	Store(ctx context.Context, storeID string) (*gateway.Store, error)
}

// ResolveStoreNames looks the stores up concurrently. Failed lookups get a
// "Store <id>" placeholder.
func ResolveStoreNames(ctx context.Context, source StoreSource, storeIDs []string, logger *logrus.Logger) map[string]string {
	names := make(map[string]string, len(storeIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for _, id := range storeIDs {
		if id == UnassignedStore {
			mu.Lock()
			names[id] = "Unassigned"
			mu.Unlock()
			continue
		}
		id := id
		g.Go(func() error {
			name := "Store " + id
			store, err := source.Store(gctx, id)
			if err != nil {
				logger.WithError(err).WithField("store_id", id).Warn("Could not fetch store, using placeholder name")
			} else if store.Name != "" {
				name = store.Name
			}
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return names
}

// ProductSource looks products up by id.
type ProductSource interface {
	Product(ctx context.Context, productID string) (*gateway.Product, error)
}

// EnrichItems fills in the product of items that arrived without one.
// Failures are logged and leave the item as it was.
func EnrichItems(ctx context.Context, source ProductSource, items []gateway.ShoppingListItem, logger *logrus.Logger) []gateway.ShoppingListItem {
	out := make([]gateway.ShoppingListItem, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i := range out {
		if out[i].Product != nil || out[i].ProductID == "" {
			continue
		}
		i := i
		g.Go(func() error {
			p, err := source.Product(gctx, out[i].ProductID)
			if err != nil {
				logger.WithError(err).WithField("product_id", out[i].ProductID).Warn("Failed to fetch product")
				return nil
			}
			out[i].Product = p
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// AggregateBackend is what the Aggregator needs from the gateway.
type AggregateBackend interface {
	StoreSource
	ProductSource
	OptimizedItems(ctx context.Context, listID string) ([]gateway.StoreItems, error)
}

// Aggregator builds the per-store view of a list from the backend's
// optimized-items grouping.
type Aggregator struct {
	backend AggregateBackend
	logger  *logrus.Logger
}

func NewAggregator(backend AggregateBackend, logger *logrus.Logger) *Aggregator {
	return &Aggregator{backend: backend, logger: logger}
}

// Summary is the aggregated view of one list.
type Summary struct {
	Groups []StoreGroup
	Total  Cents
}

// Load fetches the optimized grouping of listID, names the stores and totals it.
func (a *Aggregator) Load(ctx context.Context, listID string) (*Summary, error) {
	grouped, err := a.backend.OptimizedItems(ctx, listID)
	if err != nil {
		a.logger.WithError(err).WithField("list_id", listID).Error("Failed to fetch optimized items")
		return nil, fmt.Errorf("failed to load store groups for list %s: %w", listID, err)
	}

	var flat []gateway.ShoppingListItem
	for _, g := range grouped {
		for _, item := range g.Items {
			item.PreferredStoreID = g.StoreID
			flat = append(flat, item)
		}
	}
	flat = EnrichItems(ctx, a.backend, flat, a.logger)

	groups := GroupByStore(flat)
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.StoreID
	}
	names := ResolveStoreNames(ctx, a.backend, ids, a.logger)
	for i := range groups {
		groups[i].Name = names[groups[i].StoreID]
	}

	return &Summary{Groups: groups, Total: Total(groups)}, nil
}
