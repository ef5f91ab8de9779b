package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shopassist/internal/gateway"
	"shopassist/internal/location"

	"github.com/sirupsen/logrus"
)

var (
	// ErrStale is returned when the gate was reset while the lookup ran.
	ErrStale = errors.New("scan result discarded")
	// ErrIncomplete is returned when an action lacks a scanned product, store or price.
	ErrIncomplete = errors.New("scan incomplete")
)

// Backend is the part of the gateway the scanner uses.
type Backend interface {
	ProductByBarcode(ctx context.Context, barcode string) (*gateway.Product, error)
	NearbyStores(ctx context.Context, latitude, longitude float64) ([]gateway.Store, error)
	PreloadStores(ctx context.Context, latitude, longitude float64) error
	TrackScan(ctx context.Context, obs gateway.ScanObservation) error
}

// Comparer produces a textual comparison of two products.
type Comparer interface {
	Compare(ctx context.Context, a, b gateway.Product) (string, error)
}

// Observer counts scan outcomes. It may be nil.
type Observer interface {
	ObserveScan(outcome string)
}

// UserSource yields the signed-in user id.
type UserSource interface {
	UserID() string
}

// Result is the outcome of one accepted barcode event.
type Result struct {
	Target  Target
	Product *gateway.Product
	// Found is false for capture placeholders of unknown barcodes.
	Found bool
}

// Scanner feeds decoded barcodes through the gate and keeps the scanned
// products for the capture and comparison screens.
type Scanner struct {
	gate     *Gate
	backend  Backend
	users    UserSource
	location *location.Cache
	provider location.Provider
	observer Observer
	logger   *logrus.Logger

	mu          sync.RWMutex
	compareMode bool
	captured    *gateway.Product
	slots       [2]*gateway.Product
}

func NewScanner(gate *Gate, backend Backend, users UserSource, loc *location.Cache, provider location.Provider, observer Observer, logger *logrus.Logger) *Scanner {
	return &Scanner{
		gate:     gate,
		backend:  backend,
		users:    users,
		location: loc,
		provider: provider,
		observer: observer,
		logger:   logger,
	}
}

// SetCompareMode switches between the capture screen and the A/B comparison
// screen. Switching resets the gate.
func (s *Scanner) SetCompareMode(on bool) {
	s.mu.Lock()
	s.compareMode = on
	s.mu.Unlock()
	s.gate.Reset()
}

// Arm selects the comparison slot for the next barcode.
func (s *Scanner) Arm(target Target) {
	s.gate.Arm(target)
}

// HandleBarcode processes one decoded barcode. Events arriving while a lookup
// runs or during the cool-down return ErrDropped without touching the backend.
func (s *Scanner) HandleBarcode(ctx context.Context, code string) (*Result, error) {
	target := TargetCapture
	s.mu.RLock()
	compareMode := s.compareMode
	s.mu.RUnlock()
	if compareMode {
		armed, ok := s.gate.Armed()
		if !ok {
			s.observe("dropped")
			return nil, ErrDropped
		}
		target = armed
	}

	ticket, err := s.gate.Begin(target)
	if err != nil {
		s.observe("dropped")
		return nil, err
	}
	s.observe("accepted")

	log := s.logger.WithFields(logrus.Fields{"barcode": code, "target": target.String()})
	product, lookupErr := s.backend.ProductByBarcode(ctx, code)

	if !s.gate.Finish(ticket) {
		log.Debug("Discarding scan result after reset")
		return nil, ErrStale
	}

	if lookupErr != nil {
		if errors.Is(lookupErr, gateway.ErrNotFound) {
			s.observe("not_found")
			if target == TargetCapture {
				placeholder := &gateway.Product{Barcode: code}
				s.store(target, placeholder)
				log.Info("Unknown barcode, captured placeholder")
				return &Result{Target: target, Product: placeholder}, nil
			}
			log.Warn("Product not found")
			return nil, fmt.Errorf("product %s: %w", code, lookupErr)
		}
		s.observe("failed")
		log.WithError(lookupErr).Error("Product lookup failed")
		return nil, fmt.Errorf("failed to look up product %s: %w", code, lookupErr)
	}

	s.observe("found")
	s.store(target, product)
	log.WithField("product", product.Name).Info("Product scanned")
	return &Result{Target: target, Product: product, Found: true}, nil
}

func (s *Scanner) store(target Target, p *gateway.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch target {
	case TargetA:
		s.slots[0] = p
	case TargetB:
		s.slots[1] = p
	default:
		s.captured = p
	}
}

func (s *Scanner) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveScan(outcome)
	}
}

// Captured returns the product last scanned on the capture screen.
func (s *Scanner) Captured() *gateway.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captured
}

// Slot returns the product in comparison slot A or B.
func (s *Scanner) Slot(target Target) *gateway.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch target {
	case TargetA:
		return s.slots[0]
	case TargetB:
		return s.slots[1]
	}
	return s.captured
}

// ClearSlots empties both comparison slots.
func (s *Scanner) ClearSlots() {
	s.mu.Lock()
	s.slots = [2]*gateway.Product{}
	s.mu.Unlock()
}

// Submit records the captured product's price at storeID.
func (s *Scanner) Submit(ctx context.Context, storeID string, price float64) error {
	product := s.Captured()
	if product == nil || storeID == "" || price <= 0 {
		return ErrIncomplete
	}
	userID := s.users.UserID()
	if userID == "" {
		return gateway.ErrNoSession
	}

	obs := gateway.ScanObservation{
		UserID:       userID,
		StoreID:      storeID,
		ProductID:    product.ID(),
		ScannedPrice: price,
	}
	if err := s.backend.TrackScan(ctx, obs); err != nil {
		s.logger.WithError(err).WithField("store_id", storeID).Error("Failed to track barcode scan")
		return fmt.Errorf("failed to track scan: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"product_id": obs.ProductID,
		"store_id":   storeID,
		"price":      price,
	}).Info("Scan tracked")
	return nil
}

func (s *Scanner) position(ctx context.Context) (location.Fix, error) {
	if fix, ok := s.location.Get(); ok {
		return fix, nil
	}
	if s.provider == nil {
		return location.Fix{}, location.ErrPermissionDenied
	}
	return s.location.RequestAndCache(ctx, s.provider)
}

// NearbyStores lists stores around the cached position, asking the provider
// for one when nothing is cached yet.
func (s *Scanner) NearbyStores(ctx context.Context) ([]gateway.Store, error) {
	fix, err := s.position(ctx)
	if err != nil {
		return nil, err
	}
	stores, err := s.backend.NearbyStores(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nearby stores: %w", err)
	}
	return stores, nil
}

// PreloadStores asks the backend to import the stores around the user.
func (s *Scanner) PreloadStores(ctx context.Context) error {
	fix, err := s.position(ctx)
	if err != nil {
		return err
	}
	if err := s.backend.PreloadStores(ctx, fix.Latitude, fix.Longitude); err != nil {
		return fmt.Errorf("failed to preload stores: %w", err)
	}
	return nil
}

// Compare runs comparer over slots A and B.
func (s *Scanner) Compare(ctx context.Context, comparer Comparer) (string, error) {
	a, b := s.Slot(TargetA), s.Slot(TargetB)
	if a == nil || b == nil {
		return "", ErrIncomplete
	}
	return comparer.Compare(ctx, *a, *b)
}
