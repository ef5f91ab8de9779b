package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"shopassist/internal/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSession is returned by authenticated calls when no token is armed.
	ErrNoSession = errors.New("no active session")
	// ErrNotFound matches any 404 response.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized matches 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets callers match status errors against ErrNotFound and ErrUnauthorized.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Observer receives one call per completed request. status is 0 when no
// response was received.
type Observer interface {
	ObserveRequest(method, route string, status int, latency time.Duration)
}

// Client is the backend REST API.
type Client interface {
	SetToken(token string)
	Token() string

	Login(ctx context.Context, creds Credentials) (string, error)
	Register(ctx context.Context, reg Registration) error

	ProductByBarcode(ctx context.Context, barcode string) (*Product, error)
	Products(ctx context.Context) ([]Product, error)
	Product(ctx context.Context, productID string) (*Product, error)
	CompareAI(ctx context.Context, a, b Product) (string, error)

	ShoppingLists(ctx context.Context, userID string) ([]ShoppingList, error)
	CreateShoppingList(ctx context.Context, name, userID string) (*ShoppingList, error)
	DeleteShoppingList(ctx context.Context, listID string) error
	ShoppingListItems(ctx context.Context, listID string) ([]ShoppingListItem, error)
	AddShoppingListItem(ctx context.Context, listID string, delta ItemDelta) (*ShoppingListItem, error)
	OptimizedItems(ctx context.Context, listID string) ([]StoreItems, error)

	Store(ctx context.Context, storeID string) (*Store, error)
	NearbyStores(ctx context.Context, latitude, longitude float64) ([]Store, error)
	PreloadStores(ctx context.Context, latitude, longitude float64) error
	TrackScan(ctx context.Context, obs ScanObservation) error
}

// restClient is the concrete HTTP implementation of Client.
type restClient struct {
	httpClient *http.Client
	baseURL    string
	observer   Observer
	logger     *logrus.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a new backend client. observer may be nil.
func NewClient(cfg *config.Config, observer Observer, logger *logrus.Logger) Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &restClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		observer:   observer,
		logger:     logger,
	}
}

// SetToken arms (or, with "", disarms) the bearer token for later requests.
func (c *restClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *restClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type request struct {
	method string
	route  string // path template used as metrics label
	path   string
	query  url.Values
	body   any
	auth   bool
}

// do executes req and returns the raw response body of a 2xx response.
func (c *restClient) do(ctx context.Context, req request) ([]byte, error) {
	var token string
	if req.auth {
		token = c.Token()
		if token == "" {
			return nil, ErrNoSession
		}
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(req, 0, time.Since(start))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	c.observe(req, resp.StatusCode, latency)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     req.method,
		"route":      req.route,
		"status":     resp.StatusCode,
		"latency_ms": latency.Milliseconds(),
	}).Debug("Backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

func (c *restClient) observe(req request, status int, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(req.method, req.route, status, latency)
	}
}

func (c *restClient) doJSON(ctx context.Context, req request, out any) error {
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Login exchanges credentials for a session token.
func (c *restClient) Login(ctx context.Context, creds Credentials) (string, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/auth/login",
		path:   "/api/auth/login",
		body:   creds,
	})
	if err != nil {
		return "", err
	}
	token, err := parseToken(data)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Register creates an account. It does not sign in.
func (c *restClient) Register(ctx context.Context, reg Registration) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/auth/register",
		path:   "/api/auth/register",
		body:   reg,
	})
	return err
}

// parseToken accepts a bare token, a JSON string or a {"token": ...} object.
func parseToken(data []byte) (string, error) {
	raw := bytes.TrimSpace(data)
	var token string
	switch {
	case len(raw) == 0:
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &token); err != nil {
			return "", fmt.Errorf("failed to decode token: %w", err)
		}
	case raw[0] == '{':
		var obj struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("failed to decode token: %w", err)
		}
		token = obj.Token
	default:
		token = string(raw)
	}
	if token == "" {
		return "", errors.New("login response did not contain a token")
	}
	return token, nil
}

// ProductByBarcode looks up a product for a scanned barcode.
func (c *restClient) ProductByBarcode(ctx context.Context, barcode string) (*Product, error) {
	var p Product
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/products/compare/{barcode}",
		path:   "/api/products/compare/" + url.PathEscape(barcode),
		auth:   true,
	}, &p)
	if err != nil {
		return nil, err
	}
	if p.Barcode == "" {
		p.Barcode = barcode
	}
	return &p, nil
}

func (c *restClient) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/products",
		path:   "/api/products",
		auth:   true,
	}, &products)
	return products, err
}

func (c *restClient) Product(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/products/{id}",
		path:   "/api/products/" + url.PathEscape(productID),
		auth:   true,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompareAI asks the backend for a textual comparison of two products.
func (c *restClient) CompareAI(ctx context.Context, a, b Product) (string, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/products/compare/ai",
		path:   "/api/products/compare/ai",
		body:   []Product{a, b},
		auth:   true,
	})
	if err != nil {
		return "", err
	}
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("failed to decode comparison: %w", err)
		}
		return text, nil
	}
	return string(raw), nil
}

func (c *restClient) ShoppingLists(ctx context.Context, userID string) ([]ShoppingList, error) {
	var lists []ShoppingList
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/shopping-lists/user/{userId}",
		path:   "/api/shopping-lists/user/" + url.PathEscape(userID),
		auth:   true,
	}, &lists)
	return lists, err
}

func (c *restClient) CreateShoppingList(ctx context.Context, name, userID string) (*ShoppingList, error) {
	var list ShoppingList
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		route:  "/api/shopping-lists",
		path:   "/api/shopping-lists",
		body:   map[string]string{"name": name, "userId": userID},
		auth:   true,
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *restClient) DeleteShoppingList(ctx context.Context, listID string) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/shopping-lists/{id}",
		path:   "/api/shopping-lists/" + url.PathEscape(listID),
		auth:   true,
	})
	return err
}

func (c *restClient) ShoppingListItems(ctx context.Context, listID string) ([]ShoppingListItem, error) {
	var items []ShoppingListItem
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/shopping-lists/{id}/items",
		path:   "/api/shopping-lists/" + url.PathEscape(listID) + "/items",
		auth:   true,
	}, &items)
	return items, err
}

// AddShoppingListItem applies a quantity delta. The returned item is nil when
// the backend answers without a body.
func (c *restClient) AddShoppingListItem(ctx context.Context, listID string, delta ItemDelta) (*ShoppingListItem, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/shopping-lists/{id}/items",
		path:   "/api/shopping-lists/" + url.PathEscape(listID) + "/items",
		body:   delta,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var item ShoppingListItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	if item.ProductID == "" {
		return nil, nil
	}
	return &item, nil
}

// OptimizedItems returns the list items grouped by store, in the order the
// backend sent the stores.
func (c *restClient) OptimizedItems(ctx context.Context, listID string) ([]StoreItems, error) {
	data, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/shopping-lists/{id}/optimized-items",
		path:   "/api/shopping-lists/" + url.PathEscape(listID) + "/optimized-items",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	groups, err := decodeStoreItems(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode optimized items: %w", err)
	}
	return groups, nil
}

// decodeStoreItems walks a JSON object keyed by store id, keeping key order.
func decodeStoreItems(data []byte) ([]StoreItems, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var groups []StoreItems
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}
		var items []ShoppingListItem
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("store %s: %w", key, err)
		}
		groups = append(groups, StoreItems{StoreID: key, Items: items})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *restClient) Store(ctx context.Context, storeID string) (*Store, error) {
	var s Store
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/stores/{id}",
		path:   "/api/stores/" + url.PathEscape(storeID),
		auth:   true,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func coordinates(latitude, longitude float64) url.Values {
	return url.Values{
		"latitude":  {strconv.FormatFloat(latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(longitude, 'f', -1, 64)},
	}
}

func (c *restClient) NearbyStores(ctx context.Context, latitude, longitude float64) ([]Store, error) {
	var stores []Store
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		route:  "/api/stores",
		path:   "/api/stores",
		query:  coordinates(latitude, longitude),
		auth:   true,
	}, &stores)
	return stores, err
}

// PreloadStores asks the backend to import stores around a position.
func (c *restClient) PreloadStores(ctx context.Context, latitude, longitude float64) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/stores",
		path:   "/api/stores",
		query:  coordinates(latitude, longitude),
		body:   struct{}{},
		auth:   true,
	})
	return err
}

func (c *restClient) TrackScan(ctx context.Context, obs ScanObservation) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/barcode-scans/track",
		path:   "/api/barcode-scans/track",
		body:   obs,
		auth:   true,
	})
	return err
}
