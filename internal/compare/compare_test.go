package compare

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shopassist/internal/config"
	"shopassist/internal/gateway"
	"shopassist/internal/logger"
)

type mockGenerator struct {
	prompt string
	reply  string
	err    error
}

func (m *mockGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	m.prompt = prompt
	return m.reply, m.err
}

func (m *mockGenerator) Close() error { return nil }

type mockAIBackend struct {
	reply string
	err   error
}

func (m *mockAIBackend) CompareAI(ctx context.Context, a, b gateway.Product) (string, error) {
	return m.reply, m.err
}

func float(v float64) *float64 { return &v }

func TestGemini(t *testing.T) {
	a := gateway.Product{Barcode: "111", Name: "Cola", Brand: "Fizz", NutriScore: "e", Sugar: float(10.6)}
	b := gateway.Product{Barcode: "222", Name: "Water"}

	t.Run("Success", func(t *testing.T) {
		gen := &mockGenerator{reply: "  Water is the healthier choice.\n"}
		text, err := NewGemini(gen, logger.Discard()).Compare(context.Background(), a, b)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if text != "Water is the healthier choice." {
			t.Errorf("Unexpected text '%s'", text)
		}
		for _, want := range []string{"Product A: Cola by Fizz (barcode 111)", "Nutri-Score: E", "Sugar (g/100g): 10.60", "Product B: Water"} {
			if !strings.Contains(gen.prompt, want) {
				t.Errorf("Expected prompt to contain %q", want)
			}
		}
	})

	t.Run("Error", func(t *testing.T) {
		gen := &mockGenerator{err: errors.New("quota exceeded")}
		if _, err := NewGemini(gen, logger.Discard()).Compare(context.Background(), a, b); err == nil {
			t.Error("Expected an error")
		}
	})
}

func TestBackend(t *testing.T) {
	backend := &mockAIBackend{reply: "B is cheaper"}
	comparer, closeFn, err := New(context.Background(), &config.Config{CompareProvider: config.CompareProviderBackend}, backend, logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closeFn()

	text, err := comparer.Compare(context.Background(), gateway.Product{}, gateway.Product{})
	if err != nil || text != "B is cheaper" {
		t.Errorf("Unexpected result '%s' (err %v)", text, err)
	}

	backend.err = gateway.ErrNoSession
	if _, err := comparer.Compare(context.Background(), gateway.Product{}, gateway.Product{}); !errors.Is(err, gateway.ErrNoSession) {
		t.Errorf("Expected ErrNoSession to be wrapped, got %v", err)
	}
}
