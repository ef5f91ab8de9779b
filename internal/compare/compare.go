package compare

import (
	"context"
	"fmt"

	"shopassist/internal/config"
	"shopassist/internal/gateway"

	"github.com/sirupsen/logrus"
)

// Comparer produces a human-readable comparison of two products.
type Comparer interface {
	Compare(ctx context.Context, a, b gateway.Product) (string, error)
}

// AIBackend is the gateway's comparison endpoint.
type AIBackend interface {
	CompareAI(ctx context.Context, a, b gateway.Product) (string, error)
}

// Backend delegates the comparison to the server.
type Backend struct {
	backend AIBackend
	logger  *logrus.Logger
}

func NewBackend(backend AIBackend, logger *logrus.Logger) *Backend {
	return &Backend{backend: backend, logger: logger}
}

func (b *Backend) Compare(ctx context.Context, x, y gateway.Product) (string, error) {
	text, err := b.backend.CompareAI(ctx, x, y)
	if err != nil {
		b.logger.WithError(err).Error("AI comparison failed")
		return "", fmt.Errorf("failed to compare products: %w", err)
	}
	return text, nil
}

// New returns the comparer selected by cfg.CompareProvider. The returned
// close function releases provider resources.
func New(ctx context.Context, cfg *config.Config, backend AIBackend, logger *logrus.Logger) (Comparer, func() error, error) {
	switch cfg.CompareProvider {
	case config.CompareProviderGemini:
		gen, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewGemini(gen, logger), gen.Close, nil
	default:
		return NewBackend(backend, logger), func() error { return nil }, nil
	}
}
