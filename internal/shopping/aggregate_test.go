package shopping

import (
	"context"
	"errors"
	"testing"

	"shopassist/internal/gateway"
	"shopassist/internal/logger"
)

func price(v float64) *float64 { return &v }

func pricedItem(store, productID string, p float64, qty int) gateway.ShoppingListItem {
	return gateway.ShoppingListItem{
		ProductID:        productID,
		Quantity:         qty,
		PreferredStoreID: store,
		Product:          &gateway.Product{ProductID: productID, Price: price(p)},
	}
}

func TestGroupByStoreAndTotal(t *testing.T) {
	items := []gateway.ShoppingListItem{
		pricedItem("S1", "p1", 2.00, 3),
		pricedItem("S1", "p2", 1.50, 2),
		pricedItem("S2", "p3", 5.00, 1),
	}

	groups := GroupByStore(items)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[0].StoreID != "S1" || len(groups[0].Items) != 2 {
		t.Errorf("Expected S1 with 2 items, got %s with %d", groups[0].StoreID, len(groups[0].Items))
	}
	if groups[1].StoreID != "S2" || len(groups[1].Items) != 1 {
		t.Errorf("Expected S2 with 1 item, got %s with %d", groups[1].StoreID, len(groups[1].Items))
	}
	if groups[0].Subtotal.String() != "9.00" {
		t.Errorf("Expected S1 subtotal 9.00, got %s", groups[0].Subtotal)
	}

	total := Total(groups)
	if total.String() != "14.00" {
		t.Errorf("Expected total 14.00, got %s", total)
	}

	t.Run("OrderIndependent", func(t *testing.T) {
		reversed := []gateway.ShoppingListItem{items[2], items[1], items[0]}
		if got := Total(GroupByStore(reversed)); got != total {
			t.Errorf("Expected %s, got %s", total, got)
		}
	})

	t.Run("UnpricedAndUnassigned", func(t *testing.T) {
		items := []gateway.ShoppingListItem{
			{ProductID: "p9", Quantity: 4},
			pricedItem("", "p8", 0.10, 3),
		}
		groups := GroupByStore(items)
		if len(groups) != 1 || groups[0].StoreID != UnassignedStore {
			t.Fatalf("Expected a single unassigned group, got %+v", groups)
		}
		if got := Total(groups).String(); got != "0.30" {
			t.Errorf("Expected 0.30, got %s", got)
		}
	})

	t.Run("CentsFormatting", func(t *testing.T) {
		cases := map[Cents]string{0: "0.00", 5: "0.05", 1999: "19.99", -250: "-2.50"}
		for c, want := range cases {
			if c.String() != want {
				t.Errorf("Expected %s, got %s", want, c.String())
			}
		}
	})
}

type mockStores struct {
	stores   map[string]gateway.Store
	products map[string]gateway.Product
	grouped  []gateway.StoreItems
}

func (m *mockStores) Store(ctx context.Context, storeID string) (*gateway.Store, error) {
	s, ok := m.stores[storeID]
	if !ok {
		return nil, &gateway.StatusError{StatusCode: 404}
	}
	return &s, nil
}

func (m *mockStores) Product(ctx context.Context, productID string) (*gateway.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return nil, errors.New("unknown product")
	}
	return &p, nil
}

func (m *mockStores) OptimizedItems(ctx context.Context, listID string) ([]gateway.StoreItems, error) {
	if listID != "L1" {
		return nil, &gateway.StatusError{StatusCode: 404}
	}
	return m.grouped, nil
}

func TestResolveStoreNames(t *testing.T) {
	source := &mockStores{stores: map[string]gateway.Store{"S1": {StoreID: "S1", Name: "Corner Shop"}}}

	names := ResolveStoreNames(context.Background(), source, []string{"S1", "S2", UnassignedStore}, logger.Discard())
	if names["S1"] != "Corner Shop" {
		t.Errorf("Expected 'Corner Shop', got '%s'", names["S1"])
	}
	if names["S2"] != "Store S2" {
		t.Errorf("Expected placeholder 'Store S2', got '%s'", names["S2"])
	}
	if names[UnassignedStore] != "Unassigned" {
		t.Errorf("Expected 'Unassigned', got '%s'", names[UnassignedStore])
	}
}

func TestAggregatorLoad(t *testing.T) {
	backend := &mockStores{
		stores:   map[string]gateway.Store{"S1": {StoreID: "S1", Name: "Corner Shop"}},
		products: map[string]gateway.Product{"p3": {ProductID: "p3", Price: price(5.00)}},
		grouped: []gateway.StoreItems{
			{StoreID: "S1", Items: []gateway.ShoppingListItem{
				pricedItem("ignored", "p1", 2.00, 3),
				pricedItem("", "p2", 1.50, 2),
			}},
			{StoreID: "S2", Items: []gateway.ShoppingListItem{
				{ProductID: "p3", Quantity: 1},
			}},
		},
	}
	agg := NewAggregator(backend, logger.Discard())

	summary, err := agg.Load(context.Background(), "L1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(summary.Groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(summary.Groups))
	}
	if summary.Groups[0].Name != "Corner Shop" || summary.Groups[1].Name != "Store S2" {
		t.Errorf("Unexpected names %s, %s", summary.Groups[0].Name, summary.Groups[1].Name)
	}
	if summary.Groups[0].Items[0].PreferredStoreID != "S1" {
		t.Error("Expected the server grouping key to override the item store")
	}
	if summary.Total.String() != "14.00" {
		t.Errorf("Expected total 14.00 after enrichment, got %s", summary.Total)
	}

	if _, err := agg.Load(context.Background(), "missing"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
