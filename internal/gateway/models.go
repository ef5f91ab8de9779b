package gateway

import "time"

// Credentials are sent to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is sent to the register endpoint.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Product is a catalog entry as returned by the backend.
type Product struct {
	ProductID           string   `json:"productId,omitempty"`
	Barcode             string   `json:"barcode"`
	Name                string   `json:"name"`
	Brand               string   `json:"brand"`
	BrandOwner          string   `json:"brandOwner,omitempty"`
	Category            string   `json:"category"`
	Ingredients         string   `json:"ingredients,omitempty"`
	NutriScore          string   `json:"nutriScore,omitempty"`
	EnergyKcal          *float64 `json:"energyKcal,omitempty"`
	Salt                *float64 `json:"salt,omitempty"`
	Sugar               *float64 `json:"sugar,omitempty"`
	Price               *float64 `json:"price,omitempty"`
	ImageURL            string   `json:"imageUrl,omitempty"`
	ImageFrontURL       string   `json:"imageFrontUrl,omitempty"`
	ImageIngredientsURL string   `json:"imageIngredientsUrl,omitempty"`
	ImageNutritionURL   string   `json:"imageNutritionUrl,omitempty"`
	IngredientTags      []string `json:"ingredientTags,omitempty"`
}

// ID returns the product id, falling back to the barcode for products the
// backend has not assigned an id to.
func (p Product) ID() string {
	if p.ProductID != "" {
		return p.ProductID
	}
	return p.Barcode
}

// ShoppingList is a named list owned by a user.
type ShoppingList struct {
	ID     string `json:"shoppingListId"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

// ShoppingListItem is one product line of a list.
type ShoppingListItem struct {
	ID               string   `json:"shoppingListItemId"`
	ListID           string   `json:"shoppingListId"`
	ProductID        string   `json:"productId"`
	Quantity         int      `json:"quantity"`
	PreferredStoreID string   `json:"preferredStoreId,omitempty"`
	Product          *Product `json:"product,omitempty"`
}

// StoreItems is one entry of the optimized-items response.
type StoreItems struct {
	StoreID string
	Items   []ShoppingListItem
}

// ItemDelta adjusts the quantity of a product on a list.
type ItemDelta struct {
	ProductID        string  `json:"productId"`
	Quantity         int     `json:"quantity"`
	PreferredStoreID *string `json:"preferredStoreId"`
}

// GeoPoint is a GeoJSON point; coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Store is a physical shop.
type Store struct {
	StoreID   string     `json:"storeId"`
	Name      string     `json:"name"`
	Vicinity  string     `json:"vicinity,omitempty"`
	Rating    *float64   `json:"rating,omitempty"`
	Location  *GeoPoint  `json:"location,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ScanObservation is a priced sighting of a product in a store.
type ScanObservation struct {
	UserID       string  `json:"userId"`
	StoreID      string  `json:"storeId"`
	ProductID    string  `json:"productId"`
	ScannedPrice float64 `json:"scannedPrice"`
}
