// Package backendtest provides an in-memory implementation of the shopping
// backend's REST API for tests.
package backendtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"shopassist/internal/gateway"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

type user struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
}

type contextKey string

const userIDKey contextKey = "userID"

// Server is a fake backend listening on a local port.
type Server struct {
	*httptest.Server

	secret []byte

	mu       sync.Mutex
	users    map[string]*user
	products map[string]gateway.Product
	barcodes map[string]string
	stores   []gateway.Store
	lists    map[string]gateway.ShoppingList
	items    map[string][]gateway.ShoppingListItem
	scans    []gateway.ScanObservation
	preloads int
	failNext map[string]int
	requests map[string]int
}

// New starts a fake backend. Callers must Close it.
func New() *Server {
	s := &Server{
		secret:   []byte(uuid.NewString()),
		users:    map[string]*user{},
		products: map[string]gateway.Product{},
		barcodes: map[string]string{},
		lists:    map[string]gateway.ShoppingList{},
		items:    map[string][]gateway.ShoppingListItem{},
		failNext: map[string]int{},
		requests: map[string]int{},
	}
	s.Server = httptest.NewServer(s.Router())
	return s
}

// Router builds the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.faultInjection)

	r.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/products", s.handleProducts).Methods("GET")
	api.HandleFunc("/products/compare/ai", s.handleCompareAI).Methods("POST")
	api.HandleFunc("/products/compare/{barcode}", s.handleProductByBarcode).Methods("GET")
	api.HandleFunc("/products/{id}", s.handleProduct).Methods("GET")

	api.HandleFunc("/shopping-lists", s.handleCreateList).Methods("POST")
	api.HandleFunc("/shopping-lists/user/{userId}", s.handleUserLists).Methods("GET")
	api.HandleFunc("/shopping-lists/{id}", s.handleDeleteList).Methods("DELETE")
	api.HandleFunc("/shopping-lists/{id}/items", s.handleListItems).Methods("GET")
	api.HandleFunc("/shopping-lists/{id}/items", s.handleAddItem).Methods("POST")
	api.HandleFunc("/shopping-lists/{id}/optimized-items", s.handleOptimizedItems).Methods("GET")

	api.HandleFunc("/stores", s.handleNearbyStores).Methods("GET")
	api.HandleFunc("/stores", s.handlePreloadStores).Methods("POST")
	api.HandleFunc("/stores/{id}", s.handleStore).Methods("GET")

	api.HandleFunc("/barcode-scans/track", s.handleTrackScan).Methods("POST")
	return r
}

// AddUser registers an account directly and returns its id.
func (s *Server) AddUser(name, email, password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{ID: uuid.NewString(), Name: name, Email: email, PasswordHash: hash}
	s.users[email] = u
	return u.ID
}

// AddProduct stores p; an empty ProductID gets a generated one.
func (s *Server) AddProduct(p gateway.Product) gateway.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ProductID == "" {
		p.ProductID = uuid.NewString()
	}
	s.products[p.ProductID] = p
	if p.Barcode != "" {
		s.barcodes[p.Barcode] = p.ProductID
	}
	return p
}

func (s *Server) AddStore(st gateway.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	st.CreatedAt, st.UpdatedAt = &now, &now
	s.stores = append(s.stores, st)
}

// AddList creates a list owned by userID.
func (s *Server) AddList(userID, name string) gateway.ShoppingList {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := gateway.ShoppingList{ID: uuid.NewString(), Name: name, UserID: userID}
	s.lists[list.ID] = list
	return list
}

// FailNext makes the next request matching method and route template
// answer with status.
func (s *Server) FailNext(method, route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method+" "+route] = status
}

// Requests returns how many requests hit method and route template.
func (s *Server) Requests(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+route]
}

func (s *Server) Scans() []gateway.ScanObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.ScanObservation(nil), s.scans...)
}

func (s *Server) Preloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preloads
}

// Quantity returns the server-side quantity of productID on listID.
func (s *Server) Quantity(listID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items[listID] {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// SetItemStore pins productID on listID to a store.
func (s *Server) SetItemStore(listID, productID, storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items[listID] {
		if item.ProductID == productID {
			s.items[listID][i].PreferredStoreID = storeID
		}
	}
}

// IssueToken signs a session token for userID.
func (s *Server) IssueToken(userID string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"sub":    userID,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

func (s *Server) faultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				key = r.Method + " " + tpl
			}
		}

		s.mu.Lock()
		s.requests[key]++
		status, fail := s.failNext[key]
		delete(s.failNext, key)
		s.mu.Unlock()

		if fail {
			http.Error(w, "injected failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID, _ := claims["userId"].(string)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func currentUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds gateway.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	u, ok := s.users[creds.Email]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(creds.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, s.IssueToken(u.ID))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg gateway.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil || reg.Email == "" || reg.Password == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	_, exists := s.users[reg.Email]
	s.mu.Unlock()
	if exists {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	s.AddUser(reg.Name, reg.Email, reg.Password)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	products := make([]gateway.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleProductByBarcode(w http.ResponseWriter, r *http.Request) {
	barcode := mux.Vars(r)["barcode"]
	s.mu.Lock()
	id, ok := s.barcodes[barcode]
	p := s.products[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.products[mux.Vars(r)["id"]]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCompareAI(w http.ResponseWriter, r *http.Request) {
	var pair []gateway.Product
	if err := json.NewDecoder(r.Body).Decode(&pair); err != nil || len(pair) != 2 {
		http.Error(w, "expected two products", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf("%s and %s are comparable.", pair[0].Name, pair[1].Name))
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.UserID != currentUser(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusCreated, s.AddList(body.UserID, body.Name))
}

func (s *Server) handleUserLists(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID != currentUser(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.mu.Lock()
	lists := []gateway.ShoppingList{}
	for _, l := range s.lists {
		if l.UserID == userID {
			lists = append(lists, l)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lists)
}

// ownedList returns the list if the caller owns it, writing an error otherwise.
func (s *Server) ownedList(w http.ResponseWriter, r *http.Request) (gateway.ShoppingList, bool) {
	s.mu.Lock()
	list, ok := s.lists[mux.Vars(r)["id"]]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "list not found", http.StatusNotFound)
		return list, false
	}
	if list.UserID != currentUser(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return list, false
	}
	return list, true
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	list, ok := s.ownedList(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.lists, list.ID)
	delete(s.items, list.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	list, ok := s.ownedList(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	items := append([]gateway.ShoppingListItem{}, s.items[list.ID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	list, ok := s.ownedList(w, r)
	if !ok {
		return
	}
	var delta gateway.ItemDelta
	if err := json.NewDecoder(r.Body).Decode(&delta); err != nil || delta.ProductID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.products[delta.ProductID]; !known {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}

	items := s.items[list.ID]
	idx := -1
	for i, item := range items {
		if item.ProductID == delta.ProductID {
			idx = i
			break
		}
	}
	if idx < 0 {
		items = append(items, gateway.ShoppingListItem{
			ID:        uuid.NewString(),
			ListID:    list.ID,
			ProductID: delta.ProductID,
		})
		idx = len(items) - 1
	}
	items[idx].Quantity += delta.Quantity
	if delta.PreferredStoreID != nil {
		items[idx].PreferredStoreID = *delta.PreferredStoreID
	}
	result := items[idx]
	if result.Quantity <= 0 {
		result.Quantity = 0
		items = append(items[:idx], items[idx+1:]...)
	}
	s.items[list.ID] = items

	writeJSON(w, http.StatusOK, result)
}

// handleOptimizedItems assigns each item to the store with the lowest
// tracked price, falling back to its preferred store. Keys keep the order in
// which stores are first assigned.
func (s *Server) handleOptimizedItems(w http.ResponseWriter, r *http.Request) {
	list, ok := s.ownedList(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	var order []string
	grouped := map[string][]gateway.ShoppingListItem{}
	for _, item := range s.items[list.ID] {
		p := s.products[item.ProductID]
		storeID, price := s.cheapestLocked(item.ProductID)
		if storeID == "" {
			storeID = item.PreferredStoreID
		} else {
			p.Price = &price
		}
		if storeID == "" {
			storeID = "unassigned"
		}
		item.Product = &p
		if _, seen := grouped[storeID]; !seen {
			order = append(order, storeID)
		}
		grouped[storeID] = append(grouped[storeID], item)
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, storeID := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(storeID)
		val, _ := json.Marshal(grouped[storeID])
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func (s *Server) cheapestLocked(productID string) (string, float64) {
	var (
		best  string
		price float64
	)
	for _, scan := range s.scans {
		if scan.ProductID != productID {
			continue
		}
		if best == "" || scan.ScannedPrice < price {
			best, price = scan.StoreID, scan.ScannedPrice
		}
	}
	return best, price
}

func (s *Server) handleNearbyStores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("latitude") == "" || q.Get("longitude") == "" {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	stores := append([]gateway.Store{}, s.stores...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handlePreloadStores(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.preloads++
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stores {
		if st.StoreID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	http.Error(w, "store not found", http.StatusNotFound)
}

func (s *Server) handleTrackScan(w http.ResponseWriter, r *http.Request) {
	var obs gateway.ScanObservation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if obs.UserID != currentUser(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.mu.Lock()
	s.scans = append(s.scans, obs)
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}
